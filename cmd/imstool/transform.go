package main

import (
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-imaris/proxy"
	"github.com/robert-malhotra/go-imaris/stream"
)

var transformCmd = &cobra.Command{
	Use:   "transform <input> <output.tif>",
	Short: "Rotate and translate every plane and export the result",
	Long: `Rotate every XY plane about its centre and translate it, resampling by
inverse mapping. Pixels mapping outside the source are zero. The result is
written through an out-of-core buffer and exported as an ImageJ TIFF.

Interrupting the command stops after the current block.`,
	Args: cobra.ExactArgs(2),
	RunE: runTransform,
}

func init() {
	f := transformCmd.Flags()
	f.Float64("angle", 0, "rotation in degrees, counter-clockwise")
	f.Float64("tx", 0, "translation along X in pixels")
	f.Float64("ty", 0, "translation along Y in pixels")
	f.String("order", "", "interpolation: nearest, linear or cubic (default from config)")
	f.String("fit", "", "transform the coarsest pyramid level covering Z,Y,X")
	f.Bool("deflate", false, "zlib-compress TIFF planes")
	f.Bool("keep-buffer", false, "keep the intermediate buffer, also on failure")
}

func runTransform(cmd *cobra.Command, args []string) error {
	if err := checkTIFFPath(args[1]); err != nil {
		return err
	}
	flags := cmd.Flags()
	orderName, _ := flags.GetString("order")
	if orderName == "" {
		orderName = cfg.Stream.Interpolation
	}
	order, err := stream.ParseInterpolation(orderName)
	if err != nil {
		return err
	}
	angle, _ := flags.GetFloat64("angle")
	tx, _ := flags.GetFloat64("tx")
	ty, _ := flags.GetFloat64("ty")

	img, err := proxy.Open(args[0], readerOptions()...)
	if err != nil {
		return err
	}
	defer img.Close()

	var src proxy.Proxy = img
	md := img.Metadata
	if fit, _ := flags.GetString("fit"); fit != "" {
		want, err := parseExtents(fit)
		if err != nil {
			return err
		}
		if src, err = img.Downsampled(want); err != nil {
			return err
		}
		md = md.Rescaled(src.Shape())
	}

	deflate, _ := flags.GetBool("deflate")
	keep, _ := flags.GetBool("keep-buffer")
	j := &job{
		name:    "transform",
		src:     src,
		meta:    md,
		fn:      stream.RotateTranslate(angle, tx, ty, order),
		out:     args[1],
		deflate: deflate,
		keep:    keep,
	}
	return j.run(cmd.Context(), cmd.ErrOrStderr())
}
