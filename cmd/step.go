package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/vector"
	"github.com/spf13/cobra"
)

var (
	stepObjective string
	stepStart     string
	stepLambda    float64
	stepIndex     int
	stepJSON      bool
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Show a single iteration state",
	Long: `Replays the transition from the start point --index times and prints the
resulting state together with the rule it selects for its successor.
Replaying always gives the same state because the transition is pure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := replayState(stepObjective, stepStart, stepLambda, stepIndex)
		if err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), state, stepJSON)
	},
}

func init() {
	stepCmd.Flags().StringVar(&stepObjective, "objective", "sincos", "Objective to maximize")
	stepCmd.Flags().StringVar(&stepStart, "start", "", "Start point (default: objective's start)")
	stepCmd.Flags().Float64Var(&stepLambda, "step", 0, "Initial step size (default: objective's step size)")
	stepCmd.Flags().IntVar(&stepIndex, "index", 0, "Iteration to show")
	stepCmd.Flags().BoolVar(&stepJSON, "json", false, "Print the state as JSON")

	rootCmd.AddCommand(stepCmd)
}

// replayState builds the start state and applies the transition index
// times.
func replayState(name, start string, step float64, index int) (ascent.State, error) {
	if index < 0 {
		return ascent.State{}, fmt.Errorf("--index must be >= 0, got %d", index)
	}

	obj, x, step, err := resolveRun(name, start, step)
	if err != nil {
		return ascent.State{}, err
	}

	state, err := ascent.AtPoint(x, obj.Func, step, 0)
	if err != nil {
		return ascent.State{}, err
	}
	for state.Index < index {
		state = ascent.Next(state)
	}
	return state, nil
}

type stateView struct {
	ascent.State
	Rule     ascent.Rule  `json:"rule"`
	GradNorm vector.Float `json:"gradNorm"`
	Done     bool         `json:"done"`
}

func printState(w io.Writer, s ascent.State, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stateView{State: s, Rule: s.Rule(), GradNorm: vector.Float(s.GradientNorm()), Done: s.Done()})
	}

	fmt.Fprint(w, s)
	fmt.Fprintf(w, "\trule          %s\n", s.Rule())
	fmt.Fprintf(w, "\tdone          %v\n", s.Done())
	return nil
}
