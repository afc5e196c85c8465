// Package cli implements the laundrylens command line tool.
package cli

import (
	"io"
	"log"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose bool
	logger  *log.Logger
}

// NewRootCommand builds the laundrylens command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{logger: log.New(io.Discard, "", 0)}

	root := &cobra.Command{
		Use:   "laundrylens",
		Short: "Shrink care-label photos before upload",
		Long: `laundrylens resizes and re-encodes photos the same way the upload
service does, so results can be checked locally.

Example usage:
  laundrylens compress label.png            # Write compressed/label.jpg
  laundrylens compress *.heic --quality 0.6 # Batch with a lower quality
  laundrylens plan 4032 3024                # Show the planned output size`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.verbose {
				opts.logger = log.New(cmd.ErrOrStderr(), "[cli] ", log.LstdFlags|log.Lmsgprefix)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")

	root.AddCommand(
		newCompressCommand(opts),
		newPlanCommand(),
	)
	return root
}
