package isobus

import (
	"context"
	"errors"
)

var (
	// ErrConfiguration is returned when decoder definitions are invalid. Configuration errors are raised when decoder
	// is created and never during decoding.
	ErrConfiguration = errors.New("invalid decoder configuration")
	// ErrKeyMismatch is returned when frame PGN or source does not match decoder it was given to. This means that
	// frame was routed incorrectly.
	ErrKeyMismatch = errors.New("frame PGN/source does not match decoder")
	// ErrMissingFragment is returned when multi-frame message reassembly can not find all sequence numbers when
	// assembling payload. Buffered fragments for that sequence group are discarded.
	ErrMissingFragment = errors.New("reassembly failed, fragment missing")
	// ErrDuplicateDecoder is returned when decoder for same PGN and source is already registered
	ErrDuplicateDecoder = errors.New("decoder for PGN/source already registered")
)

// Key identifies decoder by PGN and source address
type Key struct {
	PGN    uint32 `json:"pgn"`
	Source uint8  `json:"source"`
}

// Message is decoded result of single frame or reassembled multi-frame message.
type Message struct {
	PGN  uint32 `json:"pgn"`
	Info Frame  `json:"info"`
	// SignalValues maps signal name to decoded value
	SignalValues map[string]float64 `json:"signal_values"`
}

// FrameDecoder decodes frames of single PGN and source address. Decode returns false when there is nothing to emit
// yet (multi-frame message is not complete).
type FrameDecoder interface {
	Key() Key
	Decode(frame Frame) (Message, bool, error)
}

// FrameReader is source of frames (capture files, serial line devices, SocketCAN).
type FrameReader interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// MessageWriter is destination for decoded messages.
type MessageWriter interface {
	Write(msg Message) error
}
