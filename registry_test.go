package isobus

import (
	"bytes"
	"errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)

	d, err := NewGroupDecoder(GroupConfig{
		PGN:    65267,
		Source: 28,
		Signals: map[Opcode][]SignalSpec{
			NoOpcode: {
				{Name: "Latitude", BitPosition: 0, BitWidth: 32, Scale: 1e-7, Offset: -210},
				{Name: "Longitude", BitPosition: 32, BitWidth: 32, Scale: 1e-7, Offset: -210},
			},
		},
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Register(d))
	return r
}

func TestRegistry_Decode(t *testing.T) {
	var testCases = []struct {
		name        string
		when        string
		expect      map[string]float64
		expectOK    bool
		expectError string
	}{
		{
			name:     "ok, mapped key",
			when:     "60FEF31CD1EE2397FA7C744B",
			expect:   map[string]float64{"Latitude": 0x9723EED1*1e-7 - 210, "Longitude": 0x4B747CFA*1e-7 - 210},
			expectOK: true,
		},
		{
			name:     "ok, unmapped source results no message and no error",
			when:     "60FEF31DD1EE2397FA7C744B",
			expectOK: false,
		},
		{
			name:     "ok, unmapped PGN results no message and no error",
			when:     "18FEF21CD1EE2397FA7C744B",
			expectOK: false,
		},
		{
			name:        "nok, malformed",
			when:        "ZZFEF31CD1EE2397FA7C744B",
			expectOK:    false,
			expectError: "malformed frame: header is not valid hex: `ZZFEF31C`",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(t)

			msg, ok, err := r.Decode(tc.when, 7)

			assert.Equal(t, tc.expectOK, ok)
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
				assert.True(t, errors.Is(err, ErrMalformedFrame))
			} else {
				assert.NoError(t, err)
			}
			if tc.expect != nil {
				assert.InDeltaMapValues(t, tc.expect, msg.SignalValues, 1e-9)
				assert.Equal(t, 7.0, msg.Info.Timestamp)
			} else {
				assert.Nil(t, msg.SignalValues)
			}
		})
	}
}

func TestRegistry_DecodeLogsMalformedFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	r := newTestRegistry(t, WithLogger(zerolog.New(buf)))

	_, ok, err := r.Decode("60FEF3", 0)

	assert.False(t, ok)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"raw":"60FEF3"`)
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)

	d, err := NewGroupDecoder(GroupConfig{PGN: 65267, Source: 28})
	assert.NoError(t, err)

	err = r.Register(d)
	assert.EqualError(t, err, "decoder for PGN/source already registered: PGN: 65267, src: 28")
	assert.True(t, errors.Is(err, ErrDuplicateDecoder))

	r.Replace(d)
	found, ok := r.Lookup(65267, 28)
	assert.True(t, ok)
	assert.Same(t, d, found)

	other, err := NewGroupDecoder(GroupConfig{PGN: 61444, Source: 0})
	assert.NoError(t, err)
	assert.NoError(t, r.Register(other))

	assert.Equal(t, []Key{{PGN: 61444, Source: 0}, {PGN: 65267, Source: 28}}, r.Keys())
	assert.Equal(t, 2, r.Len())

	_, ok = r.Lookup(65267, 29)
	assert.False(t, ok)
}

func TestRegistry_DecodeConcurrent(t *testing.T) {
	r := NewRegistry()

	lat := MustSignalSpec("Latitude", 9, 64)
	lat.Scale = 1e-16
	lat.Signed = true
	gd, err := NewGroupDecoder(GroupConfig{
		PGN:           129029,
		Source:        28,
		PayloadLength: 51,
		Signals:       map[Opcode][]SignalSpec{NoOpcode: {lat}},
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Register(NewReassemblyDecoder(gd)))

	fragments := []string{
		"61F8051C86FF015F08BC0201",
		"61F8051C840000000023000B",
		"61F8051C812B801401279131",
		"61F8051C802FCC923F73E755",
		"61F8051C85510087006BF2FF",
		"61F8051C83736BF4926E420B",
		"61F8051C82090600A1A1478C",
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := 0
	for _, f := range fragments {
		wg.Add(1)
		go func(hexMessage string) {
			defer wg.Done()
			_, ok, err := r.Decode(hexMessage, 1)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				results++
				mu.Unlock()
			}
		}(f)
	}
	wg.Wait()

	assert.Equal(t, 1, results)
}
