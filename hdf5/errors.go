// Package hdf5 reads and writes the subset of HDF5 used by microscopy
// containers: groups, attributes and numeric datasets stored compact,
// contiguous or chunked.
package hdf5

import (
	"errors"

	"github.com/robert-malhotra/go-imaris/internal/superblock"
)

var (
	ErrNotHDF5     = superblock.ErrNotHDF5
	ErrNotFound    = errors.New("object not found")
	ErrNotDataset  = errors.New("object is not a dataset")
	ErrNotGroup    = errors.New("object is not a group")
	ErrUnsupported = errors.New("unsupported feature")
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("file is closed")
	ErrLinkDepth   = errors.New("maximum link depth exceeded")
	ErrExists      = errors.New("object already exists")
)

// MaxLinkDepth bounds soft link chains followed during one lookup.
const MaxLinkDepth = 100
