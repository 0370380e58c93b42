package main

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"
)

var (
	version        = "0.1.0"
	versionVerbose bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout(), versionVerbose)
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "Also print Go runtime and CPU details")
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "gradascent version %s\n", version)
	if !verbose {
		return
	}
	fmt.Fprintf(w, "go:       %s\n", runtime.Version())
	fmt.Fprintf(w, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "cpus:     %d\n", runtime.NumCPU())
	fmt.Fprintf(w, "features: %s\n", cpuFeatures())
}

// cpuFeatures lists the SIMD extensions the CPU reports.
func cpuFeatures() string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse2", cpu.X86.HasSSE2},
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
		} {
			if f.ok {
				features = append(features, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "fphp")
		}
	}
	if len(features) == 0 {
		return "none"
	}
	return strings.Join(features, " ")
}
