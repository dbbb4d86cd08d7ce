// Package ims reads and writes Imaris 5.5 containers: HDF5 files holding a
// resolution pyramid of (time, channel) ZYX stacks under /DataSet and
// image, channel and time metadata under /DataSetInfo.
package ims

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-imaris/hdf5"
	"github.com/robert-malhotra/go-imaris/internal/superblock"
	"github.com/robert-malhotra/go-imaris/volume"
)

const (
	dataSetGroup = "/DataSet"
	infoGroup    = "/DataSetInfo"

	levelPrefix   = "ResolutionLevel"
	timePrefix    = "TimePoint"
	channelPrefix = "Channel"
)

// level is one resolution of the pyramid.
type level struct {
	group    string
	times    []string
	channels []string
	shape    [volume.Rank]int
}

func (l *level) dataPath(t, c int) string {
	return path.Join(l.group, l.times[t], l.channels[c], "Data")
}

// Reader is an open Imaris file. Reads may run concurrently; the reader
// must stay open while any view built on it is in use.
type Reader struct {
	path   string
	file   *hdf5.File
	log    *zap.Logger
	levels []level
	dtype  volume.DType
	meta   volume.Metadata

	datasets *lru.Cache[string, *hdf5.Dataset]

	mu     sync.RWMutex
	closed bool
}

// Open opens an Imaris file and parses its structure and metadata.
// Structural problems fail with volume.ErrFormat; missing optional metadata
// is reported as unknown.
func Open(filename string, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	f, err := hdf5.Open(filename, hdf5.WithChunkCache(o.chunkCache))
	if err != nil {
		if errors.Is(err, hdf5.ErrNotHDF5) || errors.Is(err, superblock.ErrUnsupportedVersion) ||
			errors.Is(err, superblock.ErrChecksumMismatch) {
			return nil, volume.Wrap(volume.ErrFormat, "open", err).WithPath(filename)
		}
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}

	datasets, err := lru.New[string, *hdf5.Dataset](o.openDatasets)
	if err != nil {
		f.Close()
		return nil, err
	}
	r := &Reader{
		path:     filename,
		file:     f,
		log:      o.log.With(zap.String("file", filepath.Base(filename))),
		datasets: datasets,
	}
	if err := r.scan(); err != nil {
		f.Close()
		return nil, formatError("open", filename, err)
	}
	r.parseMetadata()
	r.log.Debug("opened imaris file",
		zap.Ints("shape", r.meta.Shape[:]),
		zap.Int("levels", len(r.levels)),
		zap.Stringer("dtype", r.dtype))
	return r, nil
}

// formatError reports err as a format error unless it already carries a
// kind.
func formatError(op, p string, err error) error {
	var verr *volume.Error
	if errors.As(err, &verr) {
		return err
	}
	return volume.Wrap(volume.ErrFormat, op, err).WithPath(p)
}

func (r *Reader) scan() error {
	root, err := r.file.OpenGroup(dataSetGroup)
	if err != nil {
		return fmt.Errorf("group %s: %w", dataSetGroup, err)
	}
	names, err := numbered(root, levelPrefix)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("no resolution levels")
	}

	for i, name := range names {
		l, err := r.scanLevel(path.Join(dataSetGroup, name))
		if err == nil && i > 0 {
			first := r.levels[0].shape
			if l.shape[volume.T] != first[volume.T] || l.shape[volume.C] != first[volume.C] {
				err = fmt.Errorf("%d time points and %d channels, level 0 has %d and %d",
					l.shape[volume.T], l.shape[volume.C], first[volume.T], first[volume.C])
			}
		}
		if err != nil {
			if i == 0 {
				return fmt.Errorf("%s: %w", name, err)
			}
			r.log.Warn("ignoring unreadable resolution level",
				zap.String("level", name), zap.Error(err))
			break
		}
		r.levels = append(r.levels, l)
	}
	return nil
}

func (r *Reader) scanLevel(group string) (level, error) {
	l := level{group: group}
	g, err := r.file.OpenGroup(group)
	if err != nil {
		return l, err
	}
	if l.times, err = numbered(g, timePrefix); err != nil {
		return l, err
	}
	if len(l.times) == 0 {
		return l, errors.New("no time points")
	}
	t0, err := g.OpenGroup(l.times[0])
	if err != nil {
		return l, err
	}
	if l.channels, err = numbered(t0, channelPrefix); err != nil {
		return l, err
	}
	if len(l.channels) == 0 {
		return l, errors.New("no channels")
	}

	c0, err := t0.OpenGroup(l.channels[0])
	if err != nil {
		return l, err
	}
	ds, err := c0.OpenDataset("Data")
	if err != nil {
		return l, err
	}
	if ds.Rank() != 3 {
		return l, fmt.Errorf("%s has rank %d, want 3", ds.Path(), ds.Rank())
	}
	if err := ds.Validate(); err != nil {
		return l, err
	}
	dt, err := volume.ParseDType(ds.Kind().String())
	if err != nil {
		return l, fmt.Errorf("%s: %w", ds.Path(), err)
	}
	if r.dtype == volume.Invalid {
		r.dtype = dt
	} else if dt != r.dtype {
		return l, fmt.Errorf("%s has type %s, level 0 has %s", ds.Path(), dt, r.dtype)
	}

	// The stored array may be padded to whole chunks; ImageSize gives the
	// true extent.
	stored := ds.Shape()
	size := [3]int{int(stored[0]), int(stored[1]), int(stored[2])}
	for i, attr := range []string{"ImageSizeZ", "ImageSizeY", "ImageSizeX"} {
		v, ok := attrInt(c0, attr)
		if !ok {
			v, ok = attrInt(ds, attr)
		}
		if ok {
			size[i] = v
		}
		if size[i] > int(stored[i]) {
			return l, fmt.Errorf("%s: %s %d exceeds stored extent %d", ds.Path(), attr, size[i], stored[i])
		}
	}
	l.shape = [volume.Rank]int{len(l.times), size[0], len(l.channels), size[1], size[2]}
	return l, nil
}

func (r *Reader) parseMetadata() {
	l0 := r.levels[0].shape
	m := volume.Metadata{
		Filename: filepath.Base(r.path),
		Shape:    l0,
		Channels: volume.DefaultChannels(l0[volume.C]),
	}
	for _, l := range r.levels {
		m.Levels = append(m.Levels, l.shape)
	}

	info, err := r.file.OpenGroup(infoGroup)
	if err != nil {
		r.log.Warn("no dataset info; voxel size and channel names unknown", zap.Error(err))
		r.meta = m
		return
	}

	if img, err := info.OpenGroup("Image"); err == nil {
		m.Scale = voxelSize(img, l0)
	}
	if !m.Scale.Known() {
		r.log.Warn("voxel size unknown")
	}

	for i := range m.Channels {
		g, err := info.OpenGroup(fmt.Sprintf("Channel %d", i))
		if err != nil {
			continue
		}
		ch := &m.Channels[i]
		if name, ok := attrText(g, "Name"); ok {
			ch.Name = name
		}
		ch.Emission = wavelength(g, "LSMEmissionWavelength", "EmissionWavelength")
		ch.Excitation = wavelength(g, "LSMExcitationWavelength", "ExcitationWavelength")
		ch.Color = attrColor(g, "Color")
	}

	if ti, err := info.OpenGroup("TimeInfo"); err == nil {
		m.Timestamps = make([]time.Time, l0[volume.T])
		for i := range m.Timestamps {
			m.Timestamps[i] = attrTime(ti, fmt.Sprintf("TimePoint%d", i+1), fmt.Sprintf("TimePoint %d", i+1))
		}
	}
	r.meta = m
}

// voxelSize derives the Z, Y, X voxel size from the physical extent. The
// result is unknown when an extent is missing or empty.
func voxelSize(img hdf5.Object, shape [volume.Rank]int) volume.VoxelSize {
	var v volume.VoxelSize
	sizes := [3]int{shape[volume.X], shape[volume.Y], shape[volume.Z]}
	for i := 0; i < 3; i++ {
		lo, ok1 := attrFloat(img, fmt.Sprintf("ExtMin%d", i))
		hi, ok2 := attrFloat(img, fmt.Sprintf("ExtMax%d", i))
		if !ok1 || !ok2 || sizes[i] == 0 || hi <= lo {
			return volume.VoxelSize{}
		}
		v[2-i] = (hi - lo) / float64(sizes[i])
	}
	return v
}

func wavelength(obj hdf5.Object, names ...string) volume.Wavelength {
	for _, n := range names {
		if v, ok := attrFloat(obj, n); ok && v > 0 {
			return volume.Nanometres(v)
		}
	}
	return volume.Wavelength{}
}

// Path returns the file name the reader was opened with.
func (r *Reader) Path() string { return r.path }

// DType returns the element type of every level.
func (r *Reader) DType() volume.DType { return r.dtype }

// Shape returns the TZCYX shape of level 0.
func (r *Reader) Shape() [volume.Rank]int { return r.levels[0].shape }

// NumLevels returns the number of resolution levels.
func (r *Reader) NumLevels() int { return len(r.levels) }

// LevelShape returns the TZCYX shape of a resolution level.
func (r *Reader) LevelShape(lvl int) ([volume.Rank]int, error) {
	if lvl < 0 || lvl >= len(r.levels) {
		return [volume.Rank]int{}, volume.Errorf(volume.ErrIndex, "level shape", "level %d of %d", lvl, len(r.levels)).
			WithPath(r.path).WithIndex([]int{lvl})
	}
	return r.levels[lvl].shape, nil
}

// Metadata returns the parsed metadata record.
func (r *Reader) Metadata() volume.Metadata { return r.meta }

// SelectLevel returns the coarsest level whose Z, Y and X extents are all at
// least those of want, or level 0 when none is.
func (r *Reader) SelectLevel(want [3]int) int {
	for i := len(r.levels) - 1; i > 0; i-- {
		s := r.levels[i].shape
		if s[volume.Z] >= want[0] && s[volume.Y] >= want[1] && s[volume.X] >= want[2] {
			return i
		}
	}
	return 0
}

// ReadBlock reads the ZYX box selected by z, y and x from one time point and
// channel of a resolution level. volume.All() on z reads the whole stack.
func (r *Reader) ReadBlock(lvl, t, c int, z, y, x volume.Range) (*volume.Array, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, volume.Errorf(volume.ErrClosed, "read block", "reader closed").WithPath(r.path)
	}
	if lvl < 0 || lvl >= len(r.levels) {
		return nil, volume.Errorf(volume.ErrIndex, "read block", "level %d of %d", lvl, len(r.levels)).
			WithPath(r.path).WithIndex([]int{lvl})
	}
	l := &r.levels[lvl]
	if t < 0 || t >= l.shape[volume.T] || c < 0 || c >= l.shape[volume.C] {
		return nil, volume.Errorf(volume.ErrIndex, "read block", "time %d channel %d", t, c).
			WithPath(r.path).WithShape(l.shape[:]).WithIndex([]int{t, c})
	}
	start, count, err := volume.Selection{z, y, x}.Resolve("read block",
		[]int{l.shape[volume.Z], l.shape[volume.Y], l.shape[volume.X]})
	if err != nil {
		var verr *volume.Error
		if errors.As(err, &verr) {
			verr.Path = r.path
		}
		return nil, err
	}

	ds, err := r.dataset(l, t, c)
	if err != nil {
		return nil, formatError("read block", r.path, err)
	}
	raw, err := ds.ReadSlice(toU64(start), toU64(count))
	if err != nil {
		return nil, formatError("read block", r.path, err)
	}
	return volume.FromBytes(r.dtype, count, raw)
}

// ReadStack reads the whole ZYX stack of one time point and channel.
func (r *Reader) ReadStack(lvl, t, c int) (*volume.Array, error) {
	return r.ReadBlock(lvl, t, c, volume.All(), volume.All(), volume.All())
}

func (r *Reader) dataset(l *level, t, c int) (*hdf5.Dataset, error) {
	p := l.dataPath(t, c)
	if ds, ok := r.datasets.Get(p); ok {
		return ds, nil
	}
	ds, err := r.file.OpenDataset(p)
	if err != nil {
		return nil, err
	}
	if ds.Rank() != 3 || ds.Kind().String() != r.dtype.String() {
		return nil, fmt.Errorf("%s: %s of rank %d, want %s of rank 3", p, ds.Kind(), ds.Rank(), r.dtype)
	}
	shape := ds.Shape()
	if int(shape[0]) < l.shape[volume.Z] || int(shape[1]) < l.shape[volume.Y] || int(shape[2]) < l.shape[volume.X] {
		return nil, fmt.Errorf("%s: stored shape %v smaller than image", p, shape)
	}
	r.datasets.Add(p, ds)
	return ds, nil
}

// Close releases the file. Closing twice is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.datasets.Purge()
	return r.file.Close()
}

func toU64(v []int) []uint64 {
	out := make([]uint64, len(v))
	for i, x := range v {
		out[i] = uint64(x)
	}
	return out
}
