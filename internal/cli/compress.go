package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/spf13/cobra"
)

type compressFlags struct {
	outDir    string
	maxWidth  int
	maxHeight int
	quality   float64
	maxPixels int
	resampler string
}

func newCompressCommand(root *rootOptions) *cobra.Command {
	flags := &compressFlags{}

	cmd := &cobra.Command{
		Use:   "compress <file>...",
		Short: "Compress image files to JPEG",
		Long: `Resize each file to fit the bounding box and re-encode it as JPEG.
JPEGs that already fit are copied unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, root, flags, args)
		},
	}

	cmd.Flags().StringVarP(&flags.outDir, "out", "o", "compressed", "output directory")
	cmd.Flags().IntVar(&flags.maxWidth, "max-width", compress.DefaultMaxWidth, "maximum output width in pixels")
	cmd.Flags().IntVar(&flags.maxHeight, "max-height", compress.DefaultMaxHeight, "maximum output height in pixels")
	cmd.Flags().Float64Var(&flags.quality, "quality", compress.DefaultQuality, "JPEG quality in (0,1]")
	cmd.Flags().IntVar(&flags.maxPixels, "max-pixels", compress.DefaultMaxPixels, "largest source image accepted, in pixels")
	cmd.Flags().StringVar(&flags.resampler, "resampler", "catmullrom", "catmullrom, bilinear, lanczos or vips")
	return cmd
}

func runCompress(cmd *cobra.Command, root *rootOptions, flags *compressFlags, paths []string) error {
	rasterizer, err := compress.ResamplerByName(flags.resampler)
	if err != nil {
		return err
	}
	if flags.resampler == "vips" {
		if err := compress.Startup(); err != nil {
			return fmt.Errorf("start vips runtime: %w", err)
		}
		defer compress.Shutdown()
	}

	opts := compress.Options{
		MaxWidth:   flags.maxWidth,
		MaxHeight:  flags.maxHeight,
		Quality:    flags.quality,
		MaxPixels:  flags.maxPixels,
		Rasterizer: rasterizer,
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(flags.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var failed int
	taken := map[string]bool{}
	for _, path := range paths {
		root.logger.Printf("compressing path=%s", path)
		line, err := compressOne(cmd, path, flags.outDir, opts, taken)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func compressOne(cmd *cobra.Command, path, outDir string, opts compress.Options, taken map[string]bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	in := &compress.File{
		Name: filepath.Base(path),
		Type: http.DetectContentType(data),
		Data: data,
	}

	outcome, err := compress.Run(cmd.Context(), in, opts)
	if err != nil {
		if errors.Is(err, compress.ErrInvalidInputKind) {
			return "", fmt.Errorf("not an image (%s)", in.Type)
		}
		return "", err
	}

	dest := uniqueDest(outDir, outcome.File.Name, taken)
	if err := os.WriteFile(dest, outcome.File.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}

	line := fmt.Sprintf(
		"%s -> %s  %s -> %s  %dx%d -> %dx%d",
		in.Name,
		dest,
		humanBytes(in.Size()),
		humanBytes(outcome.File.Size()),
		outcome.Source.Width,
		outcome.Source.Height,
		outcome.Target.Width,
		outcome.Target.Height,
	)
	if outcome.Passthrough {
		line += "  (passthrough)"
	}
	return line, nil
}

// uniqueDest returns a path in outDir that no earlier file of this run wrote
// to. Clashing names get a numeric suffix: a.jpg, a-2.jpg, a-3.jpg.
func uniqueDest(outDir, name string, taken map[string]bool) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
	taken[candidate] = true
	return filepath.Join(outDir, candidate)
}

func humanBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
