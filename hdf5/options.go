package hdf5

// Option configures Open.
type Option func(*options)

type options struct {
	chunkCache int
}

func defaultOptions() *options {
	return &options{chunkCache: 64}
}

// WithChunkCache sets how many decoded chunks each dataset keeps. Zero
// disables the cache.
func WithChunkCache(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.chunkCache = n
		}
	}
}

// DatasetOption configures CreateDataset.
type DatasetOption func(*datasetOptions)

type datasetOptions struct {
	chunks      []uint64
	deflate     int
	shuffle     bool
	fletcher32  bool
	compression uint16
	attributes  []attrDef
}

type attrDef struct {
	name  string
	value any
}

// WithChunks stores the dataset in chunks of the given shape. Datasets
// without chunks are contiguous.
func WithChunks(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.chunks = dims
	}
}

// WithCompression deflates chunks at level 1-9. Zero disables it.
func WithCompression(level int) DatasetOption {
	return func(o *datasetOptions) {
		if level >= 0 && level <= 9 {
			o.deflate = level
		}
	}
}

// WithFilter compresses chunks with a registered plugin filter such as
// LZ4 or Zstandard instead of deflate.
func WithFilter(id uint16) DatasetOption {
	return func(o *datasetOptions) {
		o.compression = id
	}
}

// WithShuffle enables byte shuffling before compression.
func WithShuffle() DatasetOption {
	return func(o *datasetOptions) {
		o.shuffle = true
	}
}

// WithFletcher32 appends a checksum to every chunk.
func WithFletcher32() DatasetOption {
	return func(o *datasetOptions) {
		o.fletcher32 = true
	}
}

// WithAttribute attaches an attribute; see Group.SetAttr for value types.
func WithAttribute(name string, value any) DatasetOption {
	return func(o *datasetOptions) {
		o.attributes = append(o.attributes, attrDef{name: name, value: value})
	}
}
