package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/robert-malhotra/go-imaris/proxy"
	"github.com/robert-malhotra/go-imaris/volume"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Print shape, voxel size, channels and pyramid of a volume",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	f := infoCmd.Flags()
	f.Bool("json", false, "print the metadata record as JSON")
	f.Bool("stats", false, "compute per-channel intensity statistics on a coarse level")
}

func runInfo(cmd *cobra.Command, args []string) error {
	img, err := proxy.Open(args[0], readerOptions()...)
	if err != nil {
		return err
	}
	defer img.Close()

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(img.Metadata)
	}

	printSummary(out, img)
	printLevels(out, img)
	printChannels(out, img.Metadata)
	printTimestamps(out, img.Metadata.Timestamps)

	if withStats, _ := cmd.Flags().GetBool("stats"); withStats {
		return printStats(out, img)
	}
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	if len(header) > 0 {
		t.SetHeader(header)
	}
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	return t
}

func shapeString(s [volume.Rank]int) string {
	parts := make([]string, len(s))
	for i, n := range s {
		parts[i] = fmt.Sprintf("%c=%d", volume.Axes[i], n)
	}
	return strings.Join(parts, " ")
}

func volumeBytes(s [volume.Rank]int, dt volume.DType) uint64 {
	return uint64(volume.NumElements(s[:])) * uint64(dt.Size())
}

func printSummary(w io.Writer, img *proxy.Image) {
	md := img.Metadata
	t := newTable(w)
	t.Append([]string{"File", md.Filename})
	t.Append([]string{"Shape", shapeString(img.Shape())})
	t.Append([]string{"Type", img.DType().String()})
	t.Append([]string{"Voxel size", md.Scale.String()})
	t.Append([]string{"Size", humanize.IBytes(volumeBytes(img.Shape(), img.DType()))})
	if md.RGB {
		t.Append([]string{"Channels", "RGB samples"})
	}
	t.Render()
}

func printLevels(w io.Writer, img *proxy.Image) {
	if len(img.Metadata.Levels) < 2 {
		return
	}
	fmt.Fprintln(w, "\nResolution levels")
	t := newTable(w, "Level", "Shape", "Size")
	for i, s := range img.Metadata.Levels {
		t.Append([]string{fmt.Sprint(i), shapeString(s), humanize.IBytes(volumeBytes(s, img.DType()))})
	}
	t.Render()
}

func printChannels(w io.Writer, md volume.Metadata) {
	fmt.Fprintln(w, "\nChannels")
	t := newTable(w, "#", "Name", "Emission", "Excitation", "Color")
	names := md.ChannelNames()
	for i, name := range names[:md.Shape[volume.C]] {
		var ch volume.Channel
		if i < len(md.Channels) {
			ch = md.Channels[i]
		}
		color := "unknown"
		if len(ch.Color) == 3 {
			color = fmt.Sprintf("%.2f %.2f %.2f", ch.Color[0], ch.Color[1], ch.Color[2])
		}
		t.Append([]string{fmt.Sprint(i), name, ch.Emission.String(), ch.Excitation.String(), color})
	}
	t.Render()
}

func printTimestamps(w io.Writer, stamps []time.Time) {
	if stamps == nil {
		fmt.Fprintln(w, "\nTimestamps: unknown")
		return
	}
	fmt.Fprintln(w, "\nTimestamps")
	t := newTable(w, "T", "Time", "Elapsed")
	var first time.Time
	for i, ts := range stamps {
		if ts.IsZero() {
			t.Append([]string{fmt.Sprint(i), "unknown", ""})
			continue
		}
		if first.IsZero() {
			first = ts
		}
		t.Append([]string{fmt.Sprint(i), ts.Format(time.RFC3339Nano), ts.Sub(first).String()})
	}
	t.Render()
}

// statsPlane bounds the plane size used for statistics.
const statsPlane = 512

func printStats(w io.Writer, img *proxy.Image) error {
	src, err := img.Downsampled([3]int{1, statsPlane, statsPlane})
	if err != nil {
		return err
	}
	s := src.Shape()
	fmt.Fprintf(w, "\nStatistics (%s, first time point)\n", shapeString(s))
	t := newTable(w, "#", "Min", "Max", "Mean", "Std", "Median")
	for c := 0; c < s[volume.C]; c++ {
		a, err := src.Read(volume.Sel(volume.At(0), volume.All(), volume.At(c)))
		if err != nil {
			return err
		}
		x := a.Float64s()
		if len(x) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(x, nil)
		sort.Float64s(x)
		median := stat.Quantile(0.5, stat.Empirical, x, nil)
		t.Append([]string{
			fmt.Sprint(c),
			humanize.Ftoa(floats.Min(x)),
			humanize.Ftoa(floats.Max(x)),
			humanize.FormatFloat("#,###.##", mean),
			humanize.FormatFloat("#,###.##", std),
			humanize.Ftoa(median),
		})
	}
	t.Render()
	return nil
}
