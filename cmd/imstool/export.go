package main

import (
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-imaris/proxy"
	"github.com/robert-malhotra/go-imaris/stream"
	"github.com/robert-malhotra/go-imaris/volume"
)

var exportCmd = &cobra.Command{
	Use:   "export <input> <output.tif>",
	Short: "Convert a volume to an ImageJ hyperstack TIFF",
	Long: `Convert a volume to an ImageJ hyperstack TIFF in TZCYX order, keeping
voxel size and channel names. The volume is streamed one (T, Z) block at a
time through an out-of-core buffer.`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.String("fit", "", "read the coarsest pyramid level covering Z,Y,X")
	f.Bool("mip", false, "export the maximum-intensity projection along Z")
	f.String("axes", "", "reorder axes, e.g. TCZYX to swap Z and C")
	f.Bool("deflate", false, "zlib-compress TIFF planes")
	f.Bool("keep-buffer", false, "keep the intermediate buffer for inspection")
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := checkTIFFPath(args[1]); err != nil {
		return err
	}
	img, err := proxy.Open(args[0], readerOptions()...)
	if err != nil {
		return err
	}
	defer img.Close()

	flags := cmd.Flags()
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
	if axes, _ := flags.GetString("axes"); axes != "" {
		perm, err := volume.AxisPermutation(axes)
		if err != nil {
			return err
		}
		if src, err = proxy.Permute(src, perm...); err != nil {
			return err
		}
		md.Shape = src.Shape()
	}
	if mip, _ := flags.GetBool("mip"); mip {
		src = proxy.Project(src)
		md.Shape = src.Shape()
	}

	deflate, _ := flags.GetBool("deflate")
	keep, _ := flags.GetBool("keep-buffer")
	j := &job{
		name:    "export",
		src:     src,
		meta:    md,
		fn:      stream.Identity,
		out:     args[1],
		deflate: deflate,
		keep:    keep,
	}
	return j.run(cmd.Context(), cmd.ErrOrStderr())
}
