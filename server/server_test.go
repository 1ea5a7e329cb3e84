package server

import (
	"github.com/aldas/go-isobus-client"
	"github.com/aldas/go-isobus-client/output"
	test_test "github.com/aldas/go-isobus-client/test"
	"github.com/stretchr/testify/assert"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestStore(t *testing.T) *output.Store {
	store := output.NewStore()
	for _, tc := range []struct {
		hex    string
		values map[string]float64
	}{
		{hex: "18FEF31C01", values: map[string]float64{"Latitude": 43.5}},
		{hex: "0CF00400F0", values: map[string]float64{"Engine speed": 862}},
	} {
		frame := test_test.MustParseFrame(t, tc.hex, 1.5)
		assert.NoError(t, store.Write(isobus.Message{PGN: frame.PGN, Info: frame, SignalValues: tc.values}))
	}
	store.FrameRead()
	return store
}

func TestServer_Handler(t *testing.T) {
	var testCases = []struct {
		name         string
		whenURL      string
		expectStatus int
		expectBody   string
	}{
		{
			name:         "ok, all signals",
			whenURL:      "/signals",
			expectStatus: http.StatusOK,
			expectBody: `[{"pgn":61444,"source":0,"timestamp":1.5,"signal_values":{"Engine speed":862},"count":1},` +
				`{"pgn":65267,"source":28,"timestamp":1.5,"signal_values":{"Latitude":43.5},"count":1}]`,
		},
		{
			name:         "ok, signals by PGN",
			whenURL:      "/signals/65267",
			expectStatus: http.StatusOK,
			expectBody:   `[{"pgn":65267,"source":28,"timestamp":1.5,"signal_values":{"Latitude":43.5},"count":1}]`,
		},
		{
			name:         "nok, unknown PGN",
			whenURL:      "/signals/1",
			expectStatus: http.StatusNotFound,
			expectBody:   `{"error":"no values for PGN"}`,
		},
		{
			name:         "nok, invalid PGN",
			whenURL:      "/signals/abc",
			expectStatus: http.StatusBadRequest,
			expectBody:   `{"error":"invalid PGN"}`,
		},
		{
			name:         "ok, stats",
			whenURL:      "/stats",
			expectStatus: http.StatusOK,
			expectBody:   `{"frames":1,"messages":2,"errors":0,"keys":2}`,
		},
		{
			name:         "nok, unknown route",
			whenURL:      "/nope",
			expectStatus: http.StatusNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(0, newTestStore(t))

			req := httptest.NewRequest(http.MethodGet, tc.whenURL, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tc.expectStatus, rec.Code)
			if tc.expectBody != "" {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				assert.JSONEq(t, tc.expectBody, rec.Body.String())
			}
		})
	}
}
