package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-imaris/buffer"
)

var buffersCmd = &cobra.Command{
	Use:   "buffers",
	Short: "Manage out-of-core buffers",
}

var buffersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buffer directories",
	Args:  cobra.NoArgs,
	RunE:  runBuffersList,
}

var buffersSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove buffers left behind by exited processes",
	Long: `Remove buffers whose owning process on this host has exited, directories
without a manifest older than an hour, and buffers untouched for longer
than --max-age. Kept buffers are only removed with --force.`,
	Args: cobra.NoArgs,
	RunE: runBuffersSweep,
}

var buffersRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete buffers by ID",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBuffersRm,
}

func init() {
	f := buffersSweepCmd.Flags()
	f.Duration("max-age", 0, "also remove buffers untouched this long (default from config)")
	f.Bool("force", false, "remove kept buffers too")
	f.Bool("dry-run", false, "only report what would be removed")

	buffersCmd.AddCommand(buffersListCmd, buffersSweepCmd, buffersRmCmd)
}

func runBuffersList(cmd *cobra.Command, _ []string) error {
	x, err := newBufferContext()
	if err != nil {
		return err
	}
	infos, err := x.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no buffers under %s\n", x.Root())
		return nil
	}

	t := newTable(cmd.OutOrStdout(), "ID", "Size", "Modified", "Shape", "Type", "Codec", "PID", "State")
	var total int64
	for _, info := range infos {
		total += info.Size
		row := []string{info.ID, humanize.IBytes(uint64(info.Size)), humanize.Time(info.Modified)}
		if m := info.Manifest; m != nil {
			state := "-"
			if m.Keep {
				state = "kept"
			}
			row = append(row, shapeString(m.Shape), m.DType.String(), m.Codec, fmt.Sprint(m.PID), state)
		} else {
			row = append(row, "", "", "", "", "no manifest")
		}
		t.Append(row)
	}
	t.SetFooter([]string{"", humanize.IBytes(uint64(total)), "", "", "", "", "", fmt.Sprintf("%d buffers", len(infos))})
	t.Render()
	return nil
}

func runBuffersSweep(cmd *cobra.Command, _ []string) error {
	x, err := newBufferContext()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	opts := buffer.SweepOptions{MaxAge: cfg.Buffer.SweepAge}
	if flags.Changed("max-age") {
		opts.MaxAge, _ = flags.GetDuration("max-age")
	}
	opts.Force, _ = flags.GetBool("force")
	opts.DryRun, _ = flags.GetBool("dry-run")

	removed, err := x.Sweep(cmd.Context(), opts)
	var freed int64
	verb := "removed"
	if opts.DryRun {
		verb = "would remove"
	}
	for _, info := range removed {
		freed += info.Size
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, modified %s)\n",
			verb, info.ID, humanize.IBytes(uint64(info.Size)), info.Modified.Format(time.RFC3339))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d buffers, %s\n", verb, len(removed), humanize.IBytes(uint64(freed)))
	return err
}

func runBuffersRm(cmd *cobra.Command, args []string) error {
	x, err := newBufferContext()
	if err != nil {
		return err
	}
	for _, id := range args {
		b, err := x.Open(id)
		if err != nil {
			return err
		}
		if err := b.Discard(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
	}
	return nil
}
