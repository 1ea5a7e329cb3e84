package isobus

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"testing"
)

func exampleOpcodeConfig() GroupConfig {
	selector := MustSignalSpec("PGN usage opcode", 1, 8)
	return GroupConfig{
		PGN:            65280,
		Source:         0x1C,
		Manufacturer:   "example",
		OpcodeSelector: &selector,
		Signals: map[Opcode][]SignalSpec{
			OpcodeValue(1): {
				{Name: "Ground speed", BitPosition: 8, BitWidth: 16, Scale: 0.001},
				{Name: "Heading", BitPosition: 24, BitWidth: 16, Scale: 0.01},
			},
			OpcodeValue(2): {
				{Name: "Flow", BitPosition: 8, BitWidth: 32, Scale: 1, Signed: true},
			},
		},
	}
}

func TestNewGroupDecoder(t *testing.T) {
	selector := MustSignalSpec("PGN usage opcode", 1, 8)

	var testCases = []struct {
		name        string
		when        GroupConfig
		expectError string
	}{
		{
			name: "ok, without opcode",
			when: GroupConfig{
				PGN:    65267,
				Source: 28,
				Signals: map[Opcode][]SignalSpec{
					NoOpcode: {{Name: "x", BitPosition: 0, BitWidth: 64, Scale: 1}},
				},
			},
		},
		{
			name: "ok, with opcode",
			when: exampleOpcodeConfig(),
		},
		{
			name: "ok, multi-frame allows signals past 64 bits",
			when: GroupConfig{
				PGN:           129029,
				Source:        28,
				PayloadLength: 51,
				Signals: map[Opcode][]SignalSpec{
					NoOpcode: {{Name: "Longitude", BitPosition: 128, BitWidth: 64, Scale: 1e-16, Signed: true}},
				},
			},
		},
		{
			name: "nok, opcode without selector",
			when: GroupConfig{
				PGN:    65280,
				Source: 28,
				Signals: map[Opcode][]SignalSpec{
					OpcodeValue(3): {{Name: "x", BitPosition: 8, BitWidth: 8, Scale: 1}},
				},
			},
			expectError: "invalid decoder configuration: opcode decoder not found for PGN: 65280, src: 28",
		},
		{
			name: "nok, signal past single frame payload",
			when: GroupConfig{
				PGN:    65267,
				Source: 28,
				Signals: map[Opcode][]SignalSpec{
					NoOpcode: {{Name: "x", BitPosition: 60, BitWidth: 8, Scale: 1}},
				},
			},
			expectError: "invalid decoder configuration: PGN: 65267, src: 28, signal `x` ends at bit 68 which is past payload end 64",
		},
		{
			name: "nok, invalid selector",
			when: GroupConfig{
				PGN:            65267,
				Source:         28,
				OpcodeSelector: &SignalSpec{Name: "opcode", BitPosition: 0, BitWidth: 0},
				Signals: map[Opcode][]SignalSpec{
					OpcodeValue(1): {{Name: "x", BitPosition: 8, BitWidth: 8, Scale: 1}},
				},
			},
			expectError: "PGN: 65267, src: 28, invalid decoder configuration: signal `opcode` bit width must be 1-64, got: 0",
		},
		{
			name: "ok, selector without opcode keyed signals",
			when: GroupConfig{
				PGN:            65267,
				Source:         28,
				OpcodeSelector: &selector,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decoder, err := NewGroupDecoder(tc.when)

			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
				assert.True(t, errors.Is(err, ErrConfiguration))
				assert.Nil(t, decoder)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, Key{PGN: tc.when.PGN, Source: tc.when.Source}, decoder.Key())
			}
		})
	}
}

func TestGroupDecoder_Decode(t *testing.T) {
	decoder, err := NewGroupDecoder(exampleOpcodeConfig())
	assert.NoError(t, err)

	var testCases = []struct {
		name        string
		when        string
		expect      map[string]float64
		expectOK    bool
		expectError string
	}{
		{
			name:     "ok, opcode 1",
			when:     "18FF001C" + "01" + "E803" + "1027" + "FFFFFF",
			expect:   map[string]float64{"Ground speed": 1, "Heading": 100},
			expectOK: true,
		},
		{
			name:     "ok, opcode 2 signed",
			when:     "18FF001C" + "02" + "FEFFFFFF" + "000000",
			expect:   map[string]float64{"Flow": -2},
			expectOK: true,
		},
		{
			name:     "ok, unknown opcode results empty values",
			when:     "18FF001C" + "09" + "00000000000000",
			expect:   map[string]float64{},
			expectOK: true,
		},
		{
			name:        "nok, wrong source",
			when:        "18FF001D" + "01" + "00000000000000",
			expectError: "frame PGN/source does not match decoder: invalid source, expected 28, got 29",
		},
		{
			name:        "nok, wrong PGN",
			when:        "18FF011C" + "01" + "00000000000000",
			expectError: "frame PGN/source does not match decoder: invalid PGN, expected 65280, got 65281",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseFrame(tc.when, 1.5)
			assert.NoError(t, err)

			msg, ok, err := decoder.Decode(frame)

			assert.Equal(t, tc.expectOK, ok)
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
				assert.True(t, errors.Is(err, ErrKeyMismatch))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, uint32(65280), msg.PGN)
			assert.Equal(t, frame, msg.Info)
			assert.InDeltaMapValues(t, tc.expect, msg.SignalValues, 1e-9)
			assert.Len(t, msg.SignalValues, len(tc.expect))
		})
	}
}

func TestGroupDecoder_DecodeDuplicateNameLastWins(t *testing.T) {
	decoder, err := NewGroupDecoder(GroupConfig{
		PGN:    65267,
		Source: 28,
		Signals: map[Opcode][]SignalSpec{
			NoOpcode: {
				{Name: "value", BitPosition: 0, BitWidth: 8, Scale: 1},
				{Name: "value", BitPosition: 8, BitWidth: 8, Scale: 1},
			},
		},
	})
	assert.NoError(t, err)

	frame, err := ParseFrame("18FEF31C0A0B", 0)
	assert.NoError(t, err)

	msg, ok, err := decoder.Decode(frame)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]float64{"value": 11}, msg.SignalValues)
}

func TestGroupDecoder_DecodeNonIntegerOpcode(t *testing.T) {
	selector := MustSignalSpec("PGN usage opcode", 1, 8)
	selector.Scale = 0.5
	decoder, err := NewGroupDecoder(GroupConfig{
		PGN:            65267,
		Source:         28,
		OpcodeSelector: &selector,
		Signals: map[Opcode][]SignalSpec{
			OpcodeValue(1): {{Name: "value", BitPosition: 8, BitWidth: 8, Scale: 1}},
		},
	})
	assert.NoError(t, err)

	opcode, ok := decoder.Opcode(Frame{PayloadBytes: Payload{0x02}})
	assert.True(t, ok)
	assert.Equal(t, OpcodeValue(1), opcode)

	_, ok = decoder.Opcode(Frame{PayloadBytes: Payload{0x03}})
	assert.False(t, ok)

	frame, err := ParseFrame("18FEF31C0305", 0)
	assert.NoError(t, err)
	msg, ok, err := decoder.Decode(frame)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, msg.SignalValues)
}

func TestGroupDecoder_configIsCopied(t *testing.T) {
	config := exampleOpcodeConfig()
	decoder, err := NewGroupDecoder(config)
	assert.NoError(t, err)

	config.Signals[OpcodeValue(1)][0].Name = "changed"
	config.OpcodeSelector.BitWidth = 4

	assert.Equal(t, "Ground speed", decoder.Signals(OpcodeValue(1))[0].Name)
	opcode, ok := decoder.Opcode(Frame{PayloadBytes: Payload{0x12}})
	assert.True(t, ok)
	assert.Equal(t, OpcodeValue(0x12), opcode)
}
