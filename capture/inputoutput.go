package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/aldas/go-isobus-client"
	"strconv"
	"strings"
)

// ErrInvalidLine is returned when capture line can not be parsed
var ErrInvalidLine = errors.New("invalid capture line")

// Line is single line of capture file. Lines recorded for regression tests carry expected PGN and expected decoded
// signal values.
type Line struct {
	Frame isobus.Frame

	// HasExpectation is true when line had expected PGN and values columns
	HasExpectation bool
	ExpectedPGN    uint32
	// ExpectedValues is nil when frame was expected to produce no message (`null`)
	ExpectedValues map[string]float64
}

// MarshalFrame encodes frame as `<ts>\t<hex>` capture line
func MarshalFrame(f isobus.Frame) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(strconv.FormatFloat(f.Timestamp, 'f', -1, 64))
	buf.WriteByte('\t')
	buf.WriteString(f.RawMessage)
	return buf.Bytes()
}

// MarshalLine encodes line as `<ts>\t<hex>\t<pgn>\t<expected json>` capture line. Line without expectation is encoded
// same way as MarshalFrame does.
func MarshalLine(l Line) ([]byte, error) {
	b := MarshalFrame(l.Frame)
	if !l.HasExpectation {
		return b, nil
	}
	expected, err := json.Marshal(l.ExpectedValues)
	if err != nil {
		return nil, fmt.Errorf("MarshalLine failure, err: %w", err)
	}
	buf := bytes.NewBuffer(b)
	buf.WriteByte('\t')
	buf.WriteString(strconv.FormatUint(uint64(l.ExpectedPGN), 10))
	buf.WriteByte('\t')
	buf.Write(expected)
	return buf.Bytes(), nil
}

// UnmarshalString parses capture line. Supported formats are:
//   60FEF31CD1EE2397FA7C744B
//   1627553911.758	60FEF31CD1EE2397FA7C744B
//   1627553911.758	60FEF31CD1EE2397FA7C744B	65267	{"Latitude":43.57145129999998,"Longitude":-83.407463}
// Line without timestamp gets timestamp given as argument.
func UnmarshalString(raw string, defaultTimestamp float64) (Line, error) {
	parts := strings.Split(raw, "\t")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	ts := defaultTimestamp
	hexMessage := parts[0]
	switch len(parts) {
	case 1:
	case 2, 4:
		t, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return Line{}, fmt.Errorf("%w: invalid timestamp, err: %v", ErrInvalidLine, err)
		}
		ts = t
		hexMessage = parts[1]
	default:
		return Line{}, fmt.Errorf("%w: unexpected number of columns: %v", ErrInvalidLine, len(parts))
	}

	frame, err := isobus.ParseFrame(hexMessage, ts)
	if err != nil {
		return Line{}, err
	}
	line := Line{Frame: frame}
	if len(parts) != 4 {
		return line, nil
	}

	pgn, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Line{}, fmt.Errorf("%w: invalid PGN, err: %v", ErrInvalidLine, err)
	}
	var expected map[string]float64
	if err := json.Unmarshal([]byte(parts[3]), &expected); err != nil {
		return Line{}, fmt.Errorf("%w: invalid expected values, err: %v", ErrInvalidLine, err)
	}
	line.HasExpectation = true
	line.ExpectedPGN = uint32(pgn)
	line.ExpectedValues = expected
	return line, nil
}
