// Package buffer implements out-of-core volumes: chunked, compressed arrays
// on local disk that behave like writable five-axis arrays. Buffers are
// created through a Context, which owns their root directory and tracks
// the live ones so that leftovers from crashed processes can be swept.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-imaris/volume"
)

// Default chunk extents along Z, Y and X.
const (
	DefaultChunkZ  = 16
	DefaultChunkYX = 512
)

// orphanGrace is how long a directory without a manifest is left alone,
// since a concurrent Create may not have written it yet.
const orphanGrace = time.Hour

// DefaultRoot returns the per-user buffer directory.
func DefaultRoot() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".go-imaris", "buffers"), nil
}

// Context owns a buffer root directory and the registry of buffers opened
// through it. Use one Context per process.
type Context struct {
	root string
	opts options
	host string

	mu   sync.Mutex
	live map[string]*Buffer
}

// NewContext prepares root, creating it if needed. An empty root selects
// DefaultRoot.
func NewContext(root string, opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if root == "" {
		var err error
		if root, err = DefaultRoot(); err != nil {
			return nil, err
		}
	}
	if _, err := CodecByName(o.codec); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating buffer root: %w", err)
	}
	host, _ := os.Hostname()
	return &Context{root: root, opts: o, host: host, live: make(map[string]*Buffer)}, nil
}

// Root returns the buffer root directory.
func (x *Context) Root() string { return x.root }

// Logger returns the context logger.
func (x *Context) Logger() *zap.Logger { return x.opts.log }

// Workers returns the configured parallelism.
func (x *Context) Workers() int { return x.opts.workers }

// CreateOptions configures Create. Zero fields take defaults.
type CreateOptions struct {
	// Chunks is the chunk shape in TZCYX order. Zero entries use
	// (1, min(16, Z), C, min(512, Y), min(512, X)).
	Chunks [volume.Rank]int
	// Codec overrides the context codec.
	Codec string
	// Metadata is attached to the buffer and carried into exports.
	Metadata *volume.Metadata
}

// DefaultChunks returns the default chunk shape for shape.
func DefaultChunks(shape [volume.Rank]int) [volume.Rank]int {
	return [volume.Rank]int{
		1,
		min(DefaultChunkZ, shape[volume.Z]),
		shape[volume.C],
		min(DefaultChunkYX, shape[volume.Y]),
		min(DefaultChunkYX, shape[volume.X]),
	}
}

// Create allocates an empty buffer of shape and dtype. Unwritten regions
// read as zero.
func (x *Context) Create(shape [volume.Rank]int, dt volume.DType, opts CreateOptions) (*Buffer, error) {
	const op = "buffer create"
	for _, n := range shape {
		if n < 1 {
			return nil, volume.Errorf(volume.ErrShape, op, "every axis needs at least one element").WithShape(shape[:])
		}
	}
	if dt.Size() == 0 {
		return nil, volume.Errorf(volume.ErrFormat, op, "invalid dtype %s", dt)
	}

	chunks := DefaultChunks(shape)
	for d, n := range opts.Chunks {
		if n > 0 {
			chunks[d] = min(n, shape[d])
		}
	}
	codec := opts.Codec
	if codec == "" {
		codec = x.opts.codec
	}
	if _, err := CodecByName(codec); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(x.root, id)
	if err := os.MkdirAll(filepath.Join(dir, chunkDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating buffer directory: %w", err)
	}
	m := &Manifest{
		Version: manifestVersion,
		ID:      id,
		Shape:   shape,
		DType:   dt,
		Chunks:  chunks,
		Codec:   codec,
		PID:     os.Getpid(),
		Host:    x.host,
		Created: time.Now().UTC(),
	}
	if opts.Metadata != nil {
		md := *opts.Metadata
		md.Shape = shape
		m.Metadata = &md
	}
	if err := writeManifest(dir, m); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	b, err := newBuffer(x, dir, m)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	x.register(b)
	x.opts.log.Debug("buffer created",
		zap.String("id", id),
		zap.Ints("shape", shape[:]),
		zap.Ints("chunks", chunks[:]),
		zap.Stringer("dtype", dt),
		zap.String("codec", codec))
	return b, nil
}

// Open reattaches a buffer kept by an earlier process.
func (x *Context) Open(id string) (*Buffer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("buffer id %q: %w", id, err)
	}
	x.mu.Lock()
	_, busy := x.live[id]
	x.mu.Unlock()
	if busy {
		return nil, fmt.Errorf("buffer %s is already open", id)
	}

	dir := filepath.Join(x.root, id)
	m, err := readManifest(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("buffer %s: %w", id, err)
		}
		return nil, volume.Wrap(volume.ErrFormat, "buffer open", err).WithPath(dir)
	}
	m.PID, m.Host = os.Getpid(), x.host
	if err := writeManifest(dir, m); err != nil {
		return nil, fmt.Errorf("claiming buffer %s: %w", id, err)
	}
	b, err := newBuffer(x, dir, m)
	if err != nil {
		return nil, err
	}
	x.register(b)
	return b, nil
}

func (x *Context) register(b *Buffer) {
	x.mu.Lock()
	x.live[b.id] = b
	x.mu.Unlock()
}

func (x *Context) release(b *Buffer) {
	x.mu.Lock()
	delete(x.live, b.id)
	x.mu.Unlock()
}

// Live returns the buffers currently open through x, ordered by ID.
func (x *Context) Live() []*Buffer {
	x.mu.Lock()
	out := make([]*Buffer, 0, len(x.live))
	for _, b := range x.live {
		out = append(out, b)
	}
	x.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Info summarizes a buffer directory found under the root.
type Info struct {
	ID       string
	Dir      string
	Size     int64
	Modified time.Time
	Live     bool
	// Manifest is nil when the directory has no readable manifest.
	Manifest *Manifest
}

// List describes every buffer directory under the root.
func (x *Context) List() ([]Info, error) {
	entries, err := os.ReadDir(x.root)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(x.root, e.Name())
		info := Info{ID: e.Name(), Dir: dir}
		info.Size, info.Modified = du(dir)
		if m, err := readManifest(dir); err == nil {
			info.Manifest = m
		}
		x.mu.Lock()
		_, info.Live = x.live[info.ID]
		x.mu.Unlock()
		out = append(out, info)
	}
	return out, nil
}

// du returns the bytes used under dir and its latest modification time.
func du(dir string) (int64, time.Time) {
	var size int64
	var mod time.Time
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			size += fi.Size()
		}
		if fi.ModTime().After(mod) {
			mod = fi.ModTime()
		}
		return nil
	})
	return size, mod
}

// SweepOptions selects what Sweep removes.
type SweepOptions struct {
	// MaxAge also removes buffers untouched for longer than this,
	// regardless of their owner. Zero disables the age rule.
	MaxAge time.Duration
	// Force removes kept buffers too.
	Force bool
	// DryRun reports without deleting.
	DryRun bool
}

// Sweep removes orphaned buffer directories: buffers whose owning process
// on this host has exited, directories without a manifest older than an
// hour, and with MaxAge set, anything stale. Live buffers of x are never
// removed. It returns the directories removed, or that would be with
// DryRun.
func (x *Context) Sweep(ctx context.Context, opts SweepOptions) ([]Info, error) {
	infos, err := x.List()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var removed []Info
	var errs []error
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !x.orphaned(info, now, opts) {
			continue
		}
		if !opts.DryRun {
			if err := os.RemoveAll(info.Dir); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		x.opts.log.Info("swept buffer",
			zap.String("id", info.ID),
			zap.Int64("bytes", info.Size),
			zap.Bool("dry_run", opts.DryRun))
		removed = append(removed, info)
	}
	return removed, errors.Join(errs...)
}

func (x *Context) orphaned(info Info, now time.Time, opts SweepOptions) bool {
	if info.Live {
		return false
	}
	m := info.Manifest
	if m == nil {
		return now.Sub(info.Modified) > orphanGrace
	}
	if m.Keep && !opts.Force {
		return false
	}
	if opts.MaxAge > 0 && now.Sub(info.Modified) > opts.MaxAge {
		return true
	}
	if m.Host != x.host {
		return false
	}
	return m.PID == os.Getpid() || !processAlive(m.PID)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Close closes every live buffer.
func (x *Context) Close() error {
	var errs []error
	for _, b := range x.Live() {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

// Option configures a Context.
type Option func(*options)

type options struct {
	log         *zap.Logger
	codec       string
	cacheChunks int
	workers     int
}

func defaultOptions() options {
	return options{
		log:         zap.NewNop(),
		codec:       CodecZstd,
		cacheChunks: 32,
		workers:     runtime.GOMAXPROCS(0),
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithCodec sets the default chunk codec.
func WithCodec(name string) Option {
	return func(o *options) { o.codec = name }
}

// WithChunkCache sets how many decoded chunks each buffer keeps in memory.
// Zero disables caching.
func WithChunkCache(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.cacheChunks = n
		}
	}
}

// WithWorkers bounds the goroutines used per read or write.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}
