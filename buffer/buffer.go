package buffer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-imaris/volume"
)

// chunkLocks stripes the per-chunk read-modify-write locks.
const chunkLocks = 64

// Buffer is a writable on-disk volume. Reads and writes of disjoint regions
// may run concurrently; overlapping concurrent writes leave the overlap
// with either value.
type Buffer struct {
	ctx   *Context
	id    string
	dir   string
	man   *Manifest
	codec Codec
	grid  [volume.Rank]int
	log   *zap.Logger

	cache *lru.Cache[int, []byte]
	locks [chunkLocks]sync.Mutex

	mu     sync.RWMutex // held for reading by every data operation
	closed bool
	metaMu sync.Mutex
}

func newBuffer(x *Context, dir string, m *Manifest) (*Buffer, error) {
	codec, err := CodecByName(m.Codec)
	if err != nil {
		return nil, err
	}
	b := &Buffer{
		ctx:   x,
		id:    m.ID,
		dir:   dir,
		man:   m,
		codec: codec,
		log:   x.opts.log.With(zap.String("buffer", m.ID)),
	}
	for d := range b.grid {
		b.grid[d] = (m.Shape[d] + m.Chunks[d] - 1) / m.Chunks[d]
	}
	if x.opts.cacheChunks > 0 {
		if b.cache, err = lru.New[int, []byte](x.opts.cacheChunks); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ID returns the buffer identifier, also the name of its directory.
func (b *Buffer) ID() string { return b.id }

// Dir returns the buffer directory.
func (b *Buffer) Dir() string { return b.dir }

// Shape returns the TZCYX shape.
func (b *Buffer) Shape() [volume.Rank]int { return b.man.Shape }

// DType returns the element type.
func (b *Buffer) DType() volume.DType { return b.man.DType }

// Chunks returns the chunk shape.
func (b *Buffer) Chunks() [volume.Rank]int { return b.man.Chunks }

// Codec returns the chunk codec name.
func (b *Buffer) Codec() string { return b.codec.Name() }

// Metadata returns the attached metadata, or a default record naming the
// channels "Channel i" with unknown scale.
func (b *Buffer) Metadata() volume.Metadata {
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	if b.man.Metadata != nil {
		m := *b.man.Metadata
		m.Shape = b.man.Shape
		return m
	}
	return volume.Metadata{
		Shape:    b.man.Shape,
		Channels: volume.DefaultChannels(b.man.Shape[volume.C]),
	}
}

// SetMetadata attaches m and persists it in the manifest.
func (b *Buffer) SetMetadata(m volume.Metadata) error {
	if err := b.acquire("buffer set metadata"); err != nil {
		return err
	}
	defer b.mu.RUnlock()
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	m.Shape = b.man.Shape
	b.man.Metadata = &m
	return writeManifest(b.dir, b.man)
}

// Keep marks the buffer to survive Close and sweeps, so that a later
// process can reattach it with Context.Open.
func (b *Buffer) Keep() error {
	if err := b.acquire("buffer keep"); err != nil {
		return err
	}
	defer b.mu.RUnlock()
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	b.man.Keep = true
	return writeManifest(b.dir, b.man)
}

// acquire read-locks b and fails once it is closed. The caller releases
// the lock on success.
func (b *Buffer) acquire(op string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return volume.Errorf(volume.ErrClosed, op, "buffer %s", b.id).WithPath(b.dir)
	}
	return nil
}

// chunkSpan is the part of one chunk touched by a selection.
type chunkSpan struct {
	index  int
	origin [volume.Rank]int // chunk origin in the volume
	start  [volume.Rank]int // overlap origin in the volume
	count  [volume.Rank]int
}

// spans lists the chunks overlapping the box at start with count.
func (b *Buffer) spans(start, count []int) []chunkSpan {
	var lo, hi [volume.Rank]int
	for d := range lo {
		if count[d] == 0 {
			return nil
		}
		lo[d] = start[d] / b.man.Chunks[d]
		hi[d] = (start[d] + count[d] - 1) / b.man.Chunks[d]
	}
	var out []chunkSpan
	g := lo
	for {
		var s chunkSpan
		for d := range g {
			s.index = s.index*b.grid[d] + g[d]
			s.origin[d] = g[d] * b.man.Chunks[d]
			s.start[d] = max(start[d], s.origin[d])
			end := min(start[d]+count[d], s.origin[d]+b.man.Chunks[d])
			s.count[d] = end - s.start[d]
		}
		out = append(out, s)

		d := volume.Rank - 1
		for ; d >= 0; d-- {
			g[d]++
			if g[d] <= hi[d] {
				break
			}
			g[d] = lo[d]
		}
		if d < 0 {
			return out
		}
	}
}

func (b *Buffer) chunkPath(origin [volume.Rank]int) string {
	parts := make([]string, 0, volume.Rank+2)
	parts = append(parts, b.dir, chunkDir)
	for d, o := range origin {
		parts = append(parts, strconv.Itoa(o/b.man.Chunks[d]))
	}
	return filepath.Join(parts...)
}

func (b *Buffer) chunkBytes() int {
	return volume.NumElements(b.man.Chunks[:]) * b.man.DType.Size()
}

// load returns the decoded chunk, or nil if it was never written. The
// returned slice must not be modified. The caller holds the chunk lock.
func (b *Buffer) load(s chunkSpan) ([]byte, error) {
	if b.cache != nil {
		if data, ok := b.cache.Get(s.index); ok {
			return data, nil
		}
	}
	p := b.chunkPath(s.origin)
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := b.codec.Decode(raw, b.chunkBytes())
	if err != nil {
		return nil, volume.Wrap(volume.ErrFormat, "buffer chunk", err).WithPath(p).WithIndex(s.origin[:])
	}
	if b.cache != nil {
		b.cache.Add(s.index, data)
	}
	return data, nil
}

func (b *Buffer) store(s chunkSpan, data []byte) error {
	p := b.chunkPath(s.origin)
	enc, err := b.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encoding chunk %v: %w", s.origin, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(p, enc); err != nil {
		return err
	}
	if b.cache != nil {
		b.cache.Add(s.index, data)
	}
	return nil
}

func (b *Buffer) lock(s chunkSpan) *sync.Mutex {
	return &b.locks[s.index%chunkLocks]
}

// Read materializes the selected region. Single-index selections keep
// their axis with size one.
func (b *Buffer) Read(sel volume.Selection) (*volume.Array, error) {
	const op = "buffer read"
	if err := b.acquire(op); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	shape := b.man.Shape
	start, count, err := sel.Resolve(op, shape[:])
	if err != nil {
		return nil, err
	}
	out := volume.New(b.man.DType, count...)
	chunks := b.man.Chunks

	var eg errgroup.Group
	eg.SetLimit(b.ctx.opts.workers)
	for _, s := range b.spans(start, count) {
		eg.Go(func() error {
			mu := b.lock(s)
			mu.Lock()
			data, err := b.load(s)
			mu.Unlock()
			if err != nil || data == nil {
				return err
			}
			src := &volume.Array{Shape: chunks[:], DType: b.man.DType, Data: data}
			var dstAt, srcAt [volume.Rank]int
			for d := range dstAt {
				dstAt[d] = s.start[d] - start[d]
				srcAt[d] = s.start[d] - s.origin[d]
			}
			return volume.CopyRegion(out, dstAt[:], src, srcAt[:], s.count[:])
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores data at the selected region. data must have exactly the
// selected shape; its values are converted to the buffer dtype with
// saturation.
func (b *Buffer) Write(sel volume.Selection, data *volume.Array) error {
	const op = "buffer write"
	if err := b.acquire(op); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	shape := b.man.Shape
	start, count, err := sel.Resolve(op, shape[:])
	if err != nil {
		return err
	}
	if len(data.Shape) != volume.Rank {
		return volume.Errorf(volume.ErrShape, op, "data has rank %d, selection %v", len(data.Shape), count).
			WithShape(data.Shape).WithPath(b.dir)
	}
	for d := range count {
		if data.Shape[d] != count[d] {
			return volume.Errorf(volume.ErrShape, op, "data shape %v does not match selection %v", data.Shape, count).
				WithShape(data.Shape).WithPath(b.dir)
		}
	}
	if data.DType != b.man.DType {
		data = data.Convert(b.man.DType)
	}
	chunks := b.man.Chunks

	var eg errgroup.Group
	eg.SetLimit(b.ctx.opts.workers)
	for _, s := range b.spans(start, count) {
		eg.Go(func() error {
			mu := b.lock(s)
			mu.Lock()
			defer mu.Unlock()

			chunk := volume.New(b.man.DType, chunks[:]...)
			if !b.covers(s) {
				old, err := b.load(s)
				if err != nil {
					return err
				}
				copy(chunk.Data, old)
			}
			var dstAt, srcAt [volume.Rank]int
			for d := range dstAt {
				dstAt[d] = s.start[d] - s.origin[d]
				srcAt[d] = s.start[d] - start[d]
			}
			if err := volume.CopyRegion(chunk, dstAt[:], data, srcAt[:], s.count[:]); err != nil {
				return err
			}
			return b.store(s, chunk.Data)
		})
	}
	return eg.Wait()
}

// covers reports whether s spans every in-bounds element of its chunk.
func (b *Buffer) covers(s chunkSpan) bool {
	for d := range s.count {
		valid := min(b.man.Chunks[d], b.man.Shape[d]-s.origin[d])
		if s.start[d] != s.origin[d] || s.count[d] != valid {
			return false
		}
	}
	return true
}

// Close releases the buffer and deletes its directory unless Keep was
// called. Closing twice is a no-op; any other use after Close fails with
// volume.ErrClosed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.ctx.release(b)
	if b.cache != nil {
		b.cache.Purge()
	}
	if b.man.Keep {
		b.log.Debug("buffer kept", zap.String("dir", b.dir))
		return nil
	}
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("removing buffer %s: %w", b.id, err)
	}
	b.log.Debug("buffer removed")
	return nil
}

// Discard closes the buffer and deletes its directory even if Keep was
// called.
func (b *Buffer) Discard() error {
	b.mu.Lock()
	b.man.Keep = false
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return os.RemoveAll(b.dir)
	}
	return b.Close()
}
