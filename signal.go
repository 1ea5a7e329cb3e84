package isobus

import (
	"fmt"
	"math"
)

// SignalSpec (SPN) defines single named bitfield inside PGN payload and rule how to convert raw bits to value.
type SignalSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Units is free text passed through from definitions. It is not used in decoding.
	Units string `json:"units,omitempty"`

	// BitPosition is 0-based bit offset in payload (little-endian bit numbering)
	BitPosition uint16 `json:"bit_position"`
	// BitWidth is field length in bits (1-64)
	BitWidth uint8   `json:"bit_width"`
	Scale    float64 `json:"scale"`
	Offset   float64 `json:"offset"`
	Signed   bool    `json:"signed"`
}

// NewSignalSpec creates signal with scale 1 and offset 0 from decimal "byte.bit" position.
func NewSignalSpec(name string, position float64, bitWidth uint8) (SignalSpec, error) {
	pos, err := BitPositionFromDecimal(position)
	if err != nil {
		return SignalSpec{}, err
	}
	s := SignalSpec{
		Name:        name,
		BitPosition: pos,
		BitWidth:    bitWidth,
		Scale:       1,
	}
	return s, s.Validate()
}

// MustSignalSpec is like NewSignalSpec but panics on error. Meant for hard-coded definitions.
func MustSignalSpec(name string, position float64, bitWidth uint8) SignalSpec {
	s, err := NewSignalSpec(name, position, bitWidth)
	if err != nil {
		panic(err)
	}
	return s
}

// BitPositionFromDecimal converts decimal "byte.bit" position used in message definitions to 0-based bit offset.
// Byte index is 1-based and fractional part is 1-based bit index, so `1.4` is byte 1, bit index 4 which is bit
// offset 3. Missing or zero bit index means first bit of the byte.
func BitPositionFromDecimal(position float64) (uint16, error) {
	if position < 1 || math.IsNaN(position) || math.IsInf(position, 0) {
		return 0, fmt.Errorf("%w: invalid signal position: %v", ErrConfiguration, position)
	}
	byteIndex := int(math.Floor(position)) - 1
	bitIndex := int(math.Round(position*10))%10 - 1
	if bitIndex < 0 {
		bitIndex = 0
	}
	bitPosition := byteIndex*8 + bitIndex
	if bitPosition > math.MaxUint16 {
		return 0, fmt.Errorf("%w: signal position out of range: %v", ErrConfiguration, position)
	}
	return uint16(bitPosition), nil
}

// Validate checks that signal definition is usable.
func (s SignalSpec) Validate() error {
	if s.BitWidth == 0 || s.BitWidth > 64 {
		return fmt.Errorf("%w: signal `%v` bit width must be 1-64, got: %v", ErrConfiguration, s.Name, s.BitWidth)
	}
	return nil
}

// EndBit returns bit offset right after the last bit of this signal
func (s SignalSpec) EndBit() int {
	return int(s.BitPosition) + int(s.BitWidth)
}

// Decode extracts signal value from payload bytes.
func (s SignalSpec) Decode(payload Payload) float64 {
	return s.value(payload.Bits(s.BitPosition, s.BitWidth))
}

// DecodeUint64 extracts signal value from payload integer (payload bytes reversed and packed into integer).
func (s SignalSpec) DecodeUint64(payloadInt uint64) float64 {
	var x uint64
	if s.BitPosition < 64 {
		x = payloadInt >> s.BitPosition
	}
	return s.value(x & s.mask())
}

func (s SignalSpec) value(raw uint64) float64 {
	var x float64
	if s.Signed && s.BitWidth > 0 && raw&(uint64(1)<<(s.BitWidth-1)) != 0 {
		// two's complement: toggle all higher bits on so cast to int64 keeps the sign
		x = float64(int64(raw | ^s.mask()))
	} else {
		x = float64(raw)
	}
	// explicit conversion prevents fused multiply-add so results are same on all architectures
	return float64(x*s.Scale) + s.Offset
}

func (s SignalSpec) mask() uint64 {
	if s.BitWidth >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << s.BitWidth) - 1
}

// EncodeUint64 converts value to raw bits and places them at signal position in payload integer. Value is rounded to
// nearest raw value. Only bits within first 64 bits of payload can be encoded.
func (s SignalSpec) EncodeUint64(payloadInt uint64, value float64) uint64 {
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	rounded := math.Round((value - s.Offset) / scale)
	var raw uint64
	if rounded < 0 {
		// negative values are stored as two's complement, mask below drops bits past field width
		raw = uint64(int64(rounded))
	} else {
		raw = uint64(rounded)
	}
	if s.BitPosition >= 64 {
		return payloadInt
	}
	mask := s.mask() << s.BitPosition
	return (payloadInt &^ mask) | ((raw << s.BitPosition) & mask)
}
