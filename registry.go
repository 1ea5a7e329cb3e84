package isobus

import (
	"fmt"
	"github.com/rs/zerolog"
	"sort"
	"sync"
)

// RegistryOption configures Registry
type RegistryOption func(r *Registry)

// WithLogger sets logger for registry events (malformed frames etc)
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry routes frames to decoders by PGN and source address. Most of the bus traffic is not mapped to any decoder,
// those frames result no message and no error.
type Registry struct {
	logger zerolog.Logger

	lock     sync.RWMutex
	decoders map[Key]FrameDecoder
}

// NewRegistry creates empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:   zerolog.Nop(),
		decoders: map[Key]FrameDecoder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds decoder to registry. Error is returned when decoder for same key already exists.
func (r *Registry) Register(decoder FrameDecoder) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := decoder.Key()
	if _, ok := r.decoders[key]; ok {
		return fmt.Errorf("%w: PGN: %v, src: %v", ErrDuplicateDecoder, key.PGN, key.Source)
	}
	r.decoders[key] = decoder
	return nil
}

// Replace adds decoder to registry replacing existing decoder with same key.
func (r *Registry) Replace(decoder FrameDecoder) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.decoders[decoder.Key()] = decoder
}

// Lookup returns decoder for PGN and source address
func (r *Registry) Lookup(pgn uint32, source uint8) (FrameDecoder, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	d, ok := r.decoders[Key{PGN: pgn, Source: source}]
	return d, ok
}

// Keys returns all registered keys ordered by PGN and source
func (r *Registry) Keys() []Key {
	r.lock.RLock()
	defer r.lock.RUnlock()

	keys := make([]Key, 0, len(r.decoders))
	for k := range r.decoders {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PGN == keys[j].PGN {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].PGN < keys[j].PGN
	})
	return keys
}

// Len returns number of registered decoders
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.decoders)
}

// Decode parses hex message and decodes it with matching decoder. False is returned when there is no decoder for the
// frame or multi-frame message is not complete yet. Malformed frames are logged and returned as ErrMalformedFrame.
func (r *Registry) Decode(hexMessage string, timestamp float64) (Message, bool, error) {
	frame, err := ParseFrame(hexMessage, timestamp)
	if err != nil {
		r.logger.Warn().Err(err).Str("raw", hexMessage).Msg("could not parse message")
		return Message{}, false, err
	}
	return r.DecodeFrame(frame)
}

// DecodeFrame decodes frame with matching decoder. False is returned when there is no decoder for the frame or
// multi-frame message is not complete yet.
func (r *Registry) DecodeFrame(frame Frame) (Message, bool, error) {
	decoder, ok := r.Lookup(frame.PGN, frame.Source)
	if !ok {
		return Message{}, false, nil
	}
	return decoder.Decode(frame)
}
