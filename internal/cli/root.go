// Package cli implements the flywheel command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/flywheel/internal/logging"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "flywheel",
		Short:   "Find the highest load a service sustains",
		Version: version,
		Long: `Flywheel drives a target at a controlled operation rate and searches for
the highest rate it sustains. The search climbs with a growing step until
the measured score regresses, then narrows the bracket around the best
rate with longer sampling windows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(newFindmaxCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command. Errors already shown to the user by a
// command are not printed again.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// errReported marks an error the command has already printed.
var errReported = errors.New("reported")

type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() []error { return []error{e.err, errReported} }

// newLogger builds the run logger from the persistent flags.
func newLogger(cmd *cobra.Command, w io.Writer) (*slog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	noColor, _ := cmd.Flags().GetBool("no-color")

	return logging.New(logging.Options{Level: levelName, Writer: w, NoColor: noColor})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flywheel version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flywheel version %s\n", version)
		},
	}
}
