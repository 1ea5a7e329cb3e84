package test_test

import (
	"github.com/aldas/go-isobus-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

// MustParseFrame parses hex message and fails the test on error
func MustParseFrame(t *testing.T, hexMessage string, timestamp float64) isobus.Frame {
	f, err := isobus.ParseFrame(hexMessage, timestamp)
	require.NoError(t, err)
	return f
}

// AssertMessage compares messages, signal values are compared with given delta
func AssertMessage(t *testing.T, expect isobus.Message, actual isobus.Message, delta float64) {
	assert.Equal(t, expect.PGN, actual.PGN)
	assert.Equal(t, expect.Info, actual.Info)
	AssertSignalValues(t, expect.SignalValues, actual.SignalValues, delta)
}

// AssertSignalValues compares decoded signal values with given delta
func AssertSignalValues(t *testing.T, expect map[string]float64, actual map[string]float64, delta float64) {
	assert.Len(t, actual, len(expect))

	for name, actualValue := range actual {
		expectedValue, ok := expect[name]
		if !ok {
			t.Errorf("actual values contains signal `%v` that is not in expected values", name)
			continue
		}
		assert.InDelta(
			t,
			expectedValue,
			actualValue,
			delta,
			"Signal: `%v` value %v is different from expected %v",
			name,
			actualValue,
			expectedValue,
		)
	}
}
