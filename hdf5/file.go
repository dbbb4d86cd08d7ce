package hdf5

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/robert-malhotra/go-imaris/internal/alloc"
	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/object"
	"github.com/robert-malhotra/go-imaris/internal/superblock"
)

// File is an open HDF5 file. Reads are safe for concurrent use.
type File struct {
	path   string
	closer io.Closer
	reader *binary.Reader
	sb     *superblock.Superblock
	root   *Group
	opts   *options

	mu     sync.Mutex
	closed bool

	// set for files opened with Create
	out   *os.File
	alloc *alloc.Allocator
	tree  *node
}

// Open opens an HDF5 file for reading.
func Open(path string, opts ...Option) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hf, err := newFile(f, path, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	hf.closer = f
	return hf, nil
}

// OpenReader reads an HDF5 image from r. name is used in errors only.
func OpenReader(r io.ReaderAt, name string, opts ...Option) (*File, error) {
	return newFile(r, name, opts)
}

func newFile(r io.ReaderAt, path string, opts []Option) (*File, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	sb, err := superblock.Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg := sb.ReaderConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	f := &File{
		path:   path,
		reader: binary.NewReader(r, cfg),
		sb:     sb,
		opts:   o,
	}
	header, err := object.Read(f.reader, sb.RootGroupAddress)
	if err != nil {
		return nil, fmt.Errorf("%s: root group: %w", path, err)
	}
	f.root = &Group{file: f, path: "/", header: header}
	return f, nil
}

// Close releases the file. Closing twice is a no-op. Files opened with
// Create are finalized first.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	if f.out != nil {
		err := f.finish()
		if cerr := f.out.Close(); err == nil {
			err = cerr
		}
		return err
	}
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Path returns the name the file was opened with.
func (f *File) Path() string { return f.path }

// Version returns the superblock version.
func (f *File) Version() int { return int(f.sb.Version) }

// Root returns the root group.
func (f *File) Root() *Group { return f.root }

// OpenGroup opens a group by absolute path.
func (f *File) OpenGroup(path string) (*Group, error) {
	return f.root.OpenGroup(path)
}

// OpenDataset opens a dataset by absolute path.
func (f *File) OpenDataset(path string) (*Dataset, error) {
	return f.root.OpenDataset(path)
}

// Attr returns an attribute addressed as "/object/path@name".
func (f *File) Attr(path string) (*Attribute, error) {
	objPath, name, err := ParseAttrPath(path)
	if err != nil {
		return nil, err
	}
	obj, err := f.root.Open(objPath)
	if err != nil {
		return nil, err
	}
	a := obj.Attr(name)
	if a == nil {
		return nil, fmt.Errorf("%w: attribute %s", ErrNotFound, path)
	}
	return a, nil
}

// openAt reads the object header at addr and wraps it.
func (f *File) openAt(addr uint64, path string) (Object, error) {
	header, err := object.Read(f.reader, addr)
	if err != nil {
		return nil, err
	}
	if header.IsDataset() {
		return newDataset(f, path, header)
	}
	return &Group{file: f, path: path, header: header}, nil
}
