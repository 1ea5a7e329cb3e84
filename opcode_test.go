package isobus

import (
	"github.com/stretchr/testify/assert"
	"math"
	"testing"
)

func TestOpcodeFromDecoded(t *testing.T) {
	var testCases = []struct {
		name     string
		when     float64
		expect   Opcode
		expectOK bool
	}{
		{name: "ok, zero", when: 0, expect: OpcodeValue(0), expectOK: true},
		{name: "ok, whole number", when: 16, expect: OpcodeValue(16), expectOK: true},
		{name: "ok, negative", when: -3, expect: OpcodeValue(-3), expectOK: true},
		{name: "nok, fraction", when: 1.5},
		{name: "nok, NaN", when: math.NaN()},
		{name: "nok, infinity", when: math.Inf(1)},
		{name: "nok, too large", when: 1e19},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, ok := opcodeFromDecoded(tc.when)

			assert.Equal(t, tc.expectOK, ok)
			assert.Equal(t, tc.expect, result)
		})
	}
}

func TestOpcode(t *testing.T) {
	assert.False(t, NoOpcode.IsSet())
	assert.Equal(t, "none", NoOpcode.String())
	_, ok := NoOpcode.Value()
	assert.False(t, ok)

	op := OpcodeValue(7)
	assert.True(t, op.IsSet())
	assert.Equal(t, "7", op.String())
	v, ok := op.Value()
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	assert.NotEqual(t, NoOpcode, OpcodeValue(0))
}
