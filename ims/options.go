package ims

import "go.uber.org/zap"

// Option configures Open.
type Option func(*options)

type options struct {
	log          *zap.Logger
	chunkCache   int
	openDatasets int
}

func defaultOptions() *options {
	return &options{
		log:          zap.NewNop(),
		chunkCache:   64,
		openDatasets: 256,
	}
}

// WithLogger sets the logger for structural warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithChunkCache sets how many decoded chunks each dataset keeps.
func WithChunkCache(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.chunkCache = n
		}
	}
}

// WithOpenDatasets bounds how many (level, time, channel) datasets stay
// open at once.
func WithOpenDatasets(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.openDatasets = n
		}
	}
}
