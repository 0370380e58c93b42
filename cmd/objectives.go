package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/vector"
	"github.com/spf13/cobra"
)

var objectivesCmd = &cobra.Command{
	Use:   "objectives",
	Short: "List the available objectives",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listObjectives(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(objectivesCmd)
}

func listObjectives(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDIM\tSTART\tSTEP\tBOX\tMAXIMUM\tFUNCTION")
	for _, o := range objective.All() {
		maximum := "-"
		if len(o.Maximum) > 0 {
			maximum = vector.New(o.Maximum...).String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%g\t[%g, %g]\t%s\t%s\n",
			o.Name, o.Dim, o.StartVector(), o.StepSize, o.Lower, o.Upper, maximum, o.Description)
	}
	return w.Flush()
}
