package isobus

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Payload is frame data in original (wire) order. Bit numbering is little-endian: bit 0 is the least significant bit
// of the first byte, which is same as numbering bits of integer created by reversing bytes and packing them
// together.
type Payload []byte

// Uint64 returns first 8 bytes of payload packed as little-endian integer. Missing bytes are zeros.
func (p Payload) Uint64() uint64 {
	return p.Bits(0, 64)
}

// BigInt returns whole payload packed as little-endian integer of arbitrary width.
func (p Payload) BigInt() *big.Int {
	reversed := make([]byte, len(p))
	for i, b := range p {
		reversed[len(p)-1-i] = b
	}
	return new(big.Int).SetBytes(reversed)
}

// Bits extracts bitWidth (1-64) bits starting from bitPosition. Bits past the end of payload read as zeros.
func (p Payload) Bits(bitPosition uint16, bitWidth uint8) uint64 {
	if bitWidth == 0 {
		return 0
	}
	if bitWidth > 64 {
		bitWidth = 64
	}
	startByteIndex := int(bitPosition / 8)
	shift := bitPosition % 8

	// field spans at most 9 bytes when it does not start at byte border
	var window [9]byte
	if startByteIndex < len(p) {
		copy(window[:], p[startByteIndex:])
	}

	var result uint64
	for i := 7; i >= 0; i-- {
		result = result<<8 | uint64(window[i])
	}
	result >>= shift
	if shift != 0 {
		// leading bits of 9th byte become most significant bits of result
		result |= uint64(window[8]) << (64 - shift)
	}

	if bitWidth < 64 {
		result &= (uint64(1) << bitWidth) - 1
	}
	return result
}

// String returns payload as uppercase hex without separators
func (p Payload) String() string {
	return strings.ToUpper(hex.EncodeToString(p))
}

// MarshalJSON encodes payload as list of uppercase hex byte strings ("D1","EE",...).
func (p Payload) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, b := range p {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		sb.WriteByte(hextable[b>>4])
		sb.WriteByte(hextable[b&0x0f])
		sb.WriteByte('"')
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes payload from list of hex byte strings
func (p *Payload) UnmarshalJSON(b []byte) error {
	var pairs []string
	if err := json.Unmarshal(b, &pairs); err != nil {
		return err
	}
	result := make(Payload, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("payload byte must be 2 hex characters, got: `%v`", pair)
		}
		if _, err := hex.Decode(result[i:i+1], []byte(pair)); err != nil {
			return fmt.Errorf("payload byte is not valid hex: `%v`", pair)
		}
	}
	*p = result
	return nil
}

const hextable = "0123456789ABCDEF"
