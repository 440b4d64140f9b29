// Package ghost is the synchronization engine's public surface: one entry
// point per dataset kind, each running the same round-based protocol (build
// descriptors, exchange descriptors, confirm links, plan, exchange ghost
// buffers, assemble) and returning one augmented output per input partition.
package ghost

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/notargets/ghostsync/channel"
	"github.com/rs/zerolog"
)

// Options tunes one synchronization pass. The zero value is usable; missing
// fields are filled in by normalize.
type Options struct {
	// ToleranceFactor scales coordinate comparisons to the magnitude of the
	// compared values.
	ToleranceFactor float64 `toml:"tolerance_factor"`

	// BoundsInflation inflates candidate bounding boxes before the overlap
	// pre-filter, absorbing floating point and id slack.
	BoundsInflation float64 `toml:"bounds_inflation"`

	// CompressThreshold is the payload size in bytes above which ghost
	// buffers are zstd-compressed; 0 disables compression.
	CompressThreshold int `toml:"compress_threshold"`

	// Workers bounds the goroutines used for the embarrassingly-parallel
	// per-partition local loops; 0 means GOMAXPROCS.
	Workers int `toml:"workers"`

	// Channel is the communication transport; nil means a size-1
	// single-process channel.
	Channel channel.Channel `toml:"-"`

	// Logger receives the error taxonomy events; the zero logger writes to
	// stderr.
	Logger *zerolog.Logger `toml:"-"`
}

// DefaultOptions returns the defaults used when callers pass nil.
func DefaultOptions() *Options {
	return (&Options{}).normalize()
}

// LoadOptions reads engine options from a TOML file.
func LoadOptions(path string) (*Options, error) {
	o := &Options{}
	if _, err := toml.DecodeFile(path, o); err != nil {
		return nil, fmt.Errorf("loading options from %s: %w", path, err)
	}
	return o.normalize(), nil
}

func (o *Options) normalize() *Options {
	if o.ToleranceFactor <= 0 {
		o.ToleranceFactor = 1e-6
	}
	if o.BoundsInflation <= 0 {
		o.BoundsInflation = 1e-4
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Channel == nil {
		o.Channel = channel.Self()
	}
	if o.Logger == nil {
		l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
			Timestamp().Str("component", "ghostsync").Logger()
		o.Logger = &l
	}
	return o
}
