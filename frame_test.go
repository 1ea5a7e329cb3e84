package isobus

import (
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"math/big"
	"testing"
)

func TestParseFrame(t *testing.T) {
	var testCases = []struct {
		name        string
		when        string
		whenTime    float64
		expect      Frame
		expectError string
	}{
		{
			name:     "ok, single frame",
			when:     "60FEF31CD1EE2397FA7C744B",
			whenTime: 0,
			expect: Frame{
				Priority:     0,
				PGN:          65267,
				Source:       28,
				PayloadInt:   5437108065862414033,
				PayloadBytes: Payload{0xD1, 0xEE, 0x23, 0x97, 0xFA, 0x7C, 0x74, 0x4B},
				HeaderHex:    "60FEF31C",
				RawMessage:   "60FEF31CD1EE2397FA7C744B",
				Timestamp:    0,
			},
		},
		{
			name:     "ok, lowercase with timestamp",
			when:     "60fef31cd1ee2397fa7c744b",
			whenTime: 1404841839.81,
			expect: Frame{
				Priority:     0,
				PGN:          65267,
				Source:       28,
				PayloadInt:   5437108065862414033,
				PayloadBytes: Payload{0xD1, 0xEE, 0x23, 0x97, 0xFA, 0x7C, 0x74, 0x4B},
				HeaderHex:    "60fef31c",
				RawMessage:   "60fef31cd1ee2397fa7c744b",
				Timestamp:    1404841839.81,
			},
		},
		{
			name: "ok, non hex characters in payload are skipped",
			when: "60FEF31C D1 EE-23 9",
			expect: Frame{
				Priority:     0,
				PGN:          65267,
				Source:       28,
				PayloadInt:   0x23EED1,
				PayloadBytes: Payload{0xD1, 0xEE, 0x23},
				HeaderHex:    "60FEF31C",
				RawMessage:   "60FEF31C D1 EE-23 9",
			},
		},
		{
			name: "ok, header only",
			when: "0CF00400",
			expect: Frame{
				Priority:     3,
				PGN:          61444,
				Source:       0,
				PayloadInt:   0,
				PayloadBytes: Payload{},
				HeaderHex:    "0CF00400",
				RawMessage:   "0CF00400",
			},
		},
		{
			name:        "nok, header too short",
			when:        "60FEF3",
			expectError: "malformed frame: header is shorter than 8 characters: `60FEF3`",
		},
		{
			name:        "nok, header is not hex",
			when:        "60FEX31CD1EE2397FA7C744B",
			expectError: "malformed frame: header is not valid hex: `60FEX31C`",
		},
		{
			name:        "nok, header has sign",
			when:        "+0FEF31CD1EE2397FA7C744B",
			expectError: "malformed frame: header is not valid hex: `+0FEF31C`",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseFrame(tc.when, tc.whenTime)

			assert.Equal(t, tc.expect, frame)
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
				assert.True(t, errors.Is(err, ErrMalformedFrame))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFrame(t *testing.T) {
	frame := NewFrame(0x60FEF31C, []byte{0xD1, 0xEE, 0x23, 0x97, 0xFA, 0x7C, 0x74, 0x4B}, 12.5)

	parsed, err := ParseFrame("60FEF31CD1EE2397FA7C744B", 12.5)
	assert.NoError(t, err)
	assert.Equal(t, parsed, frame)
}

func TestNewFrame_extendedFlagsAreStripped(t *testing.T) {
	frame := NewFrame(0x80000000|0x18FEF31C, []byte{0x01}, 0)

	assert.Equal(t, "18FEF31C", frame.HeaderHex)
	assert.Equal(t, uint8(6), frame.Priority)
	assert.Equal(t, uint32(65267), frame.PGN)
}

func TestFrame_Header(t *testing.T) {
	frame, err := ParseFrame("61F8051C86FF015F08BC0201", 0)
	assert.NoError(t, err)

	h, err := frame.Header()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x61F8051C), h.CANID())
	assert.Equal(t, frame.PGN, h.PGN)
	assert.Equal(t, Key{PGN: 129029, Source: 28}, frame.Key())
}

func TestFrame_PayloadBigInt(t *testing.T) {
	frame, err := ParseFrame(
		"61F8051C2FCC923F73E7552B801401279131090600A1A1478C736BF4926E420B0000000023000B510087006BF2FFFF015F08BC0201",
		0,
	)
	assert.NoError(t, err)

	expect, _ := new(big.Int).SetString("39822884687169358196348496801958632395926971543019863818912744259688801716199915758148492619027512400263922981194799", 10)
	assert.Equal(t, 0, expect.Cmp(frame.PayloadBigInt()))

	low64 := new(big.Int).And(frame.PayloadBigInt(), new(big.Int).SetUint64(^uint64(0)))
	assert.Equal(t, 0, low64.Cmp(new(big.Int).SetUint64(frame.PayloadInt)))
}

func TestFrame_MarshalJSON(t *testing.T) {
	var testCases = []struct {
		name             string
		when             string
		expectPayloadInt string
	}{
		{
			name:             "ok, single frame",
			when:             "60FEF31CD1EE2397FA7C744B",
			expectPayloadInt: "5437108065862414033",
		},
		{
			name:             "ok, header only",
			when:             "18EAFF00",
			expectPayloadInt: "0",
		},
		{
			name:             "ok, reassembled payload is not truncated",
			when:             "61F8051C2FCC923F73E7552B801401279131090600A1A1478C736BF4926E420B0000000023000B510087006BF2FFFF015F08BC0201",
			expectPayloadInt: "39822884687169358196348496801958632395926971543019863818912744259688801716199915758148492619027512400263922981194799",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseFrame(tc.when, 2)
			assert.NoError(t, err)

			b, err := json.Marshal(frame)
			assert.NoError(t, err)
			assert.Contains(t, string(b), `"payload_int":`+tc.expectPayloadInt+`,`)

			result := Frame{}
			assert.NoError(t, json.Unmarshal(b, &result))
			assert.Equal(t, frame, result)
		})
	}
}

func TestMessage_JSONPayloadInt(t *testing.T) {
	frame, err := ParseFrame("61F8051C2FCC923F73E7552B801401279131090600A1A1478C736BF4926E420B0000000023000B510087006BF2FFFF015F08BC0201", 2)
	assert.NoError(t, err)

	b, err := json.Marshal(Message{PGN: 129029, Info: frame, SignalValues: map[string]float64{"Latitude": 43.5}})
	assert.NoError(t, err)
	assert.Contains(t, string(b), `"payload_int":39822884687169358196348496801958632395926971543019863818912744259688801716199915758148492619027512400263922981194799,`)
}
