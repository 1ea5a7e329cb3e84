package isobus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
)

var (
	// ErrMalformedFrame is returned when frame header is not valid hex. Malformed frames are dropped by caller, they
	// are not fatal.
	ErrMalformedFrame = errors.New("malformed frame")
)

// headerHexLength is number of hex characters in frame header (29 bit CAN ID written as 32 bit value)
const headerHexLength = 8

var hexPairRegexp = regexp.MustCompile(`[0-9a-fA-F]{2}`)

// Frame is single decoded frame (or reassembled message). Frame is immutable after creation.
type Frame struct {
	Priority uint8
	PGN      uint32
	Source   uint8

	// PayloadInt is payload bytes reversed and packed into integer. For payloads longer than 8 bytes this holds
	// only the lowest 64 bits, see PayloadBigInt. JSON encoding always writes the full width integer.
	PayloadInt   uint64
	PayloadBytes Payload

	// HeaderHex is first 8 characters of raw message as they were given
	HeaderHex  string
	RawMessage string
	// Timestamp is frame receive time in seconds
	Timestamp float64
}

type frameJSON struct {
	Priority     uint8    `json:"priority"`
	PGN          uint32   `json:"pgn"`
	Source       uint8    `json:"source"`
	PayloadInt   *big.Int `json:"payload_int"`
	PayloadBytes Payload  `json:"payload_bytes"`
	HeaderHex    string   `json:"header"`
	RawMessage   string   `json:"message"`
	Timestamp    float64  `json:"timestamp"`
}

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// MarshalJSON encodes frame. `payload_int` is JSON number of arbitrary width so reassembled payloads are not
// truncated to 64 bits.
func (f Frame) MarshalJSON() ([]byte, error) {
	payloadInt := new(big.Int).SetUint64(f.PayloadInt)
	if len(f.PayloadBytes) > 8 {
		payloadInt = f.PayloadBigInt()
	}
	return json.Marshal(frameJSON{
		Priority:     f.Priority,
		PGN:          f.PGN,
		Source:       f.Source,
		PayloadInt:   payloadInt,
		PayloadBytes: f.PayloadBytes,
		HeaderHex:    f.HeaderHex,
		RawMessage:   f.RawMessage,
		Timestamp:    f.Timestamp,
	})
}

// UnmarshalJSON decodes frame encoded with MarshalJSON. PayloadInt keeps lowest 64 bits of `payload_int`.
func (f *Frame) UnmarshalJSON(b []byte) error {
	tmp := frameJSON{}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	var payloadInt uint64
	if tmp.PayloadInt != nil {
		payloadInt = new(big.Int).And(tmp.PayloadInt, maxUint64).Uint64()
	}
	*f = Frame{
		Priority:     tmp.Priority,
		PGN:          tmp.PGN,
		Source:       tmp.Source,
		PayloadInt:   payloadInt,
		PayloadBytes: tmp.PayloadBytes,
		HeaderHex:    tmp.HeaderHex,
		RawMessage:   tmp.RawMessage,
		Timestamp:    tmp.Timestamp,
	}
	return nil
}

// ParseFrame decodes hex message into frame. First 8 characters are header (CAN ID) followed by payload as hex pairs.
// Characters in payload part that do not form hex pairs are skipped.
//
// Example: `60FEF31CD1EE2397FA7C744B` is priority 0, PGN 65267, source 28 with 8 byte payload.
func ParseFrame(hexMessage string, timestamp float64) (Frame, error) {
	if len(hexMessage) < headerHexLength {
		return Frame{}, fmt.Errorf("%w: header is shorter than %v characters: `%v`", ErrMalformedFrame, headerHexLength, hexMessage)
	}
	headerHex := hexMessage[:headerHexLength]
	canID, err := strconv.ParseUint(headerHex, 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: header is not valid hex: `%v`", ErrMalformedFrame, headerHex)
	}

	pairs := hexPairRegexp.FindAllString(hexMessage[headerHexLength:], -1)
	payload := make(Payload, len(pairs))
	for i, pair := range pairs {
		b, _ := strconv.ParseUint(pair, 16, 8) // regexp guarantees valid hex pair
		payload[i] = byte(b)
	}

	return newFrame(ParseHeader(uint32(canID)), headerHex, hexMessage, payload, timestamp), nil
}

// NewFrame creates frame from binary CAN ID and data, for example frame read from SocketCAN. Result is identical to
// ParseFrame called with same data in hex.
func NewFrame(canID uint32, data []byte, timestamp float64) Frame {
	canID &= 0x1FFFFFFF // drop SocketCAN EFF/RTR/ERR flags
	headerHex := fmt.Sprintf("%08X", canID)
	payload := make(Payload, len(data))
	copy(payload, data)

	return newFrame(ParseHeader(canID), headerHex, headerHex+payload.String(), payload, timestamp)
}

func newFrame(h Header, headerHex string, rawMessage string, payload Payload, timestamp float64) Frame {
	return Frame{
		Priority:     h.Priority,
		PGN:          h.PGN,
		Source:       h.Source,
		PayloadInt:   payload.Uint64(),
		PayloadBytes: payload,
		HeaderHex:    headerHex,
		RawMessage:   rawMessage,
		Timestamp:    timestamp,
	}
}

// Header returns decoded header of the frame.
func (f Frame) Header() (Header, error) {
	canID, err := strconv.ParseUint(f.HeaderHex, 16, 32)
	if err != nil {
		return Header{}, fmt.Errorf("%w: header is not valid hex: `%v`", ErrMalformedFrame, f.HeaderHex)
	}
	return ParseHeader(uint32(canID)), nil
}

// PayloadBigInt returns payload as integer of arbitrary width. Useful for reassembled frames that are longer than 8
// bytes.
func (f Frame) PayloadBigInt() *big.Int {
	return f.PayloadBytes.BigInt()
}

// Key returns registry key for the frame
func (f Frame) Key() Key {
	return Key{PGN: f.PGN, Source: f.Source}
}
