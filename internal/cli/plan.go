package cli

import (
	"fmt"
	"strconv"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var maxWidth, maxHeight int

	cmd := &cobra.Command{
		Use:   "plan <width> <height>",
		Short: "Print the output size for a source size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseDimension("width", args[0])
			if err != nil {
				return err
			}
			h, err := parseDimension("height", args[1])
			if err != nil {
				return err
			}
			if maxWidth <= 0 || maxHeight <= 0 {
				return fmt.Errorf("%w: bounds must be positive", compress.ErrInvalidOptions)
			}

			dims := compress.Plan(w, h, maxWidth, maxHeight)
			fmt.Fprintf(cmd.OutOrStdout(), "%dx%d\n", dims.Width, dims.Height)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxWidth, "max-width", compress.DefaultMaxWidth, "maximum output width in pixels")
	cmd.Flags().IntVar(&maxHeight, "max-height", compress.DefaultMaxHeight, "maximum output height in pixels")
	return cmd
}

func parseDimension(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return v, nil
}
