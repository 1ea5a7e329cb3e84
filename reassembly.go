package isobus

import (
	"fmt"
	"github.com/rs/zerolog"
	"math"
	"sort"
	"sync"
)

const (
	// ReassemblyFragmentCount is number of frames single reassembled message consists of. Sequence numbers are 0-6.
	ReassemblyFragmentCount = 7
	// DefaultStaleAfter is maximum timestamp gap in seconds between fragments of same sequence group. Larger gap means
	// that buffered fragments belong to unrelated message that reused the same sequence group.
	DefaultStaleAfter = 2.0

	// fragmentLength is max payload length of single fragment. Longer frames are already assembled messages, for
	// example from capture files recorded from decoded output.
	fragmentLength = 8
)

var (
	// first byte of every fragment holds sequence number in lower 4 bits and sequence group in upper 4 bits
	sequenceNumberSpec = MustSignalSpec("Sequence ID", 1, 4)
	sequenceGroupSpec  = MustSignalSpec("Sequence Group", 1.5, 4)
)

// reassemblyState holds fragments received so far for single sequence group.
type reassemblyState struct {
	lastTimestamp float64
	// fragments maps sequence number to fragment data bytes (frame payload without first byte)
	fragments map[uint8]Payload
}

func (s *reassemblyState) Reset() {
	for k := range s.fragments {
		delete(s.fragments, k)
	}
}

// Append stores fragment and returns true when all fragments have been received.
func (s *reassemblyState) Append(sequenceNumber uint8, data Payload) bool {
	s.fragments[sequenceNumber] = data
	return len(s.fragments) == ReassemblyFragmentCount
}

// Assemble concatenates fragments in sequence number order and clears the state. Error is returned when sequence
// number is missing, state is cleared in that case as well.
func (s *reassemblyState) Assemble() (Payload, error) {
	defer s.Reset()

	result := make(Payload, 0, ReassemblyFragmentCount*7)
	for seq := uint8(0); seq < ReassemblyFragmentCount; seq++ {
		data, ok := s.fragments[seq]
		if !ok {
			return nil, fmt.Errorf("%w: sequence number %v, got: %v", ErrMissingFragment, seq, s.sequenceNumbers())
		}
		result = append(result, data...)
	}
	return result, nil
}

func (s *reassemblyState) sequenceNumbers() []uint8 {
	result := make([]uint8, 0, len(s.fragments))
	for seq := range s.fragments {
		result = append(result, seq)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// ReassemblyOption configures ReassemblyDecoder
type ReassemblyOption func(d *ReassemblyDecoder)

// WithStaleAfter sets maximum timestamp gap in seconds between fragments of same sequence group
func WithStaleAfter(seconds float64) ReassemblyOption {
	return func(d *ReassemblyDecoder) {
		d.staleAfter = seconds
	}
}

// WithReassemblyLogger sets logger for reassembly events
func WithReassemblyLogger(logger zerolog.Logger) ReassemblyOption {
	return func(d *ReassemblyDecoder) {
		d.logger = logger
	}
}

// ReassemblyDecoder assembles messages that are sent as 7 consecutive frames and decodes assembled payload with
// wrapped GroupDecoder. Each frame carries sequence number and sequence group in its first byte and 7 bytes of data.
//
// Buffered fragments are owned by decoder instance and guarded with mutex so frames for same decoder may come from
// multiple goroutines.
type ReassemblyDecoder struct {
	decoder    *GroupDecoder
	staleAfter float64
	logger     zerolog.Logger

	lock   sync.Mutex
	groups map[uint8]*reassemblyState
}

// NewReassemblyDecoder creates reassembling decoder around given group decoder
func NewReassemblyDecoder(decoder *GroupDecoder, opts ...ReassemblyOption) *ReassemblyDecoder {
	d := &ReassemblyDecoder{
		decoder:    decoder,
		staleAfter: DefaultStaleAfter,
		logger:     zerolog.Nop(),
		groups:     map[uint8]*reassemblyState{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Key returns PGN and source address this decoder handles
func (d *ReassemblyDecoder) Key() Key {
	return d.decoder.Key()
}

// Decode buffers frame as fragment and when all fragments of sequence group have arrived decodes assembled message.
// False is returned while message is incomplete. Frames longer than single CAN frame are treated as assembled
// messages and decoded directly without touching buffered fragments.
func (d *ReassemblyDecoder) Decode(frame Frame) (Message, bool, error) {
	key := d.decoder.Key()
	if frame.PGN != key.PGN || frame.Source != key.Source {
		return Message{}, false, fmt.Errorf(
			"%w: expected PGN %v src %v, got PGN %v src %v", ErrKeyMismatch, key.PGN, key.Source, frame.PGN, frame.Source,
		)
	}

	if len(frame.PayloadBytes) > fragmentLength {
		return d.decoder.Decode(frame)
	}

	sequenceGroup := uint8(sequenceGroupSpec.Decode(frame.PayloadBytes))
	sequenceNumber := uint8(sequenceNumberSpec.Decode(frame.PayloadBytes))

	d.lock.Lock()
	defer d.lock.Unlock()

	state, ok := d.groups[sequenceGroup]
	if !ok {
		state = &reassemblyState{fragments: map[uint8]Payload{}}
		d.groups[sequenceGroup] = state
	} else if math.Abs(frame.Timestamp-state.lastTimestamp) > d.staleAfter && len(state.fragments) > 0 {
		d.logger.Debug().
			Uint32("pgn", key.PGN).
			Uint8("sequence_group", sequenceGroup).
			Int("fragments", len(state.fragments)).
			Msg("discarding stale fragments")
		state.Reset()
	}
	state.lastTimestamp = frame.Timestamp

	// skip the first byte (sequence number and group)
	data := Payload{}
	if len(frame.PayloadBytes) > 1 {
		data = append(data, frame.PayloadBytes[1:]...)
	}
	if !state.Append(sequenceNumber, data) {
		return Message{}, false, nil
	}

	payload, err := state.Assemble()
	if err != nil {
		d.logger.Error().Err(err).
			Uint32("pgn", key.PGN).
			Uint8("sequence_group", sequenceGroup).
			Msg("could not assemble multi-frame message")
		return Message{}, false, err
	}

	// assembled message is decoded as if it was single frame with original header and all fragment data as payload.
	// It is timestamped with the fragment that completed it, which is when the message became available.
	full, err := ParseFrame(frame.HeaderHex+payload.String(), frame.Timestamp)
	if err != nil {
		return Message{}, false, err
	}
	return d.decoder.Decode(full)
}

// PendingGroups returns sequence groups that have buffered fragments
func (d *ReassemblyDecoder) PendingGroups() []uint8 {
	d.lock.Lock()
	defer d.lock.Unlock()

	result := make([]uint8, 0, len(d.groups))
	for group, state := range d.groups {
		if len(state.fragments) > 0 {
			result = append(result, group)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
