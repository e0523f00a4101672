package cmd

import (
	"os"

	"github.com/Iron-Ham/kaubo/internal/worker"
	"github.com/spf13/cobra"
)

// workerCmd is what the factory executes for each task. It is not meant to
// be run by hand: the job arrives on stdin and the completion channel and
// gate are inherited descriptors.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one task for a parent kaubo process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, sinks := registries()
		return worker.Main(cmd.Context(), os.Stdin, worker.Env{
			Stdout: os.Stdout,
			Stderr: os.Stderr,
			Kinds:  kinds,
			Sinks:  sinks,
		})
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
