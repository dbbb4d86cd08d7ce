package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/robert-malhotra/go-imaris/buffer"
	"github.com/robert-malhotra/go-imaris/proxy"
	"github.com/robert-malhotra/go-imaris/stream"
	"github.com/robert-malhotra/go-imaris/volume"
)

// job streams src through fn into a fresh buffer and exports it.
type job struct {
	name    string
	src     proxy.Proxy
	meta    volume.Metadata
	fn      stream.Func
	out     string
	deflate bool
	keep    bool
	dtype   volume.DType
}

func (j *job) run(ctx context.Context, progress io.Writer) error {
	bctx, err := newBufferContext()
	if err != nil {
		return err
	}
	defer bctx.Close()

	dt := j.dtype
	if dt == volume.Invalid {
		dt = j.src.DType()
	}
	md := j.meta
	buf, err := bctx.Create(j.src.Shape(), dt, buffer.CreateOptions{Metadata: &md})
	if err != nil {
		return err
	}
	if j.keep {
		if err := buf.Keep(); err != nil {
			return err
		}
		fmt.Fprintf(progress, "keeping buffer %s\n", buf.Dir())
	}

	bar := newProgressBar(progress, j.name)
	res, err := stream.Run(ctx, j.src, j.fn, buf,
		stream.WithProgress(bar.update),
		stream.WithWorkers(cfg.Stream.Workers),
		stream.WithLogger(zlog))
	bar.finish()
	if err != nil {
		return err
	}
	if res.Status == stream.Cancelled {
		return fmt.Errorf("%s cancelled after %d of %d blocks", j.name, res.Blocks, res.Total)
	}

	zlog.Info("exporting", zap.String("path", j.out), zap.String("buffer", buf.ID()))
	return buf.Export(j.out, buffer.ExportOptions{Deflate: j.deflate})
}

type progressBar struct {
	w    io.Writer
	name string
	last int
}

func newProgressBar(w io.Writer, name string) *progressBar {
	return &progressBar{w: w, name: name, last: -1}
}

func (p *progressBar) update(f float64) {
	pct := int(f * 100)
	if pct == p.last {
		return
	}
	p.last = pct
	const width = 30
	n := pct * width / 100
	fmt.Fprintf(p.w, "\r%-10s [%s%s] %3d%%", p.name, strings.Repeat("=", n), strings.Repeat(" ", width-n), pct)
}

func (p *progressBar) finish() {
	if p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}

// parseExtents parses "Z,Y,X" or "ZxYxX" into three positive extents.
func parseExtents(s string) ([3]int, error) {
	var out [3]int
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == 'x' })
	if len(parts) != len(out) {
		return out, fmt.Errorf("want three extents Z,Y,X, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return out, fmt.Errorf("extent %q is not a positive integer", p)
		}
		out[i] = n
	}
	return out, nil
}

func checkTIFFPath(p string) error {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".tif", ".tiff":
		return nil
	}
	return fmt.Errorf("output %s: only .tif and .tiff are supported", p)
}
