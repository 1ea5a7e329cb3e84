package capture

import (
	"context"
	"errors"
	"fmt"
	"github.com/aldas/go-isobus-client"
	"io"
	"math"
	"sort"
)

// ErrExpectationMismatch is returned when decoded result differs from expectation recorded in capture line
var ErrExpectationMismatch = errors.New("decoded result does not match expectation")

// valueTolerance is allowed absolute difference between expected and decoded signal value
const valueTolerance = 1e-9

// Decoder decodes frames, implemented by isobus.Registry
type Decoder interface {
	DecodeFrame(frame isobus.Frame) (isobus.Message, bool, error)
}

// Verify decodes frame of the line and compares result with expected PGN and signal values. Lines without
// expectation are only decoded.
func Verify(decoder Decoder, line Line) error {
	msg, ok, err := decoder.DecodeFrame(line.Frame)
	if err != nil {
		return err
	}
	if !line.HasExpectation {
		return nil
	}
	if line.Frame.PGN != line.ExpectedPGN {
		return fmt.Errorf("%w: expected PGN %v, got %v", ErrExpectationMismatch, line.ExpectedPGN, line.Frame.PGN)
	}
	if line.ExpectedValues == nil {
		if ok {
			return fmt.Errorf("%w: expected no message, got values: %v", ErrExpectationMismatch, msg.SignalValues)
		}
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: expected values %v, got no message", ErrExpectationMismatch, line.ExpectedValues)
	}
	return compareValues(line.ExpectedValues, msg.SignalValues)
}

func compareValues(expect map[string]float64, actual map[string]float64) error {
	names := make([]string, 0, len(expect)+len(actual))
	for name := range expect {
		names = append(names, name)
	}
	for name := range actual {
		if _, ok := expect[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		e, eok := expect[name]
		a, aok := actual[name]
		switch {
		case !aok:
			return fmt.Errorf("%w: signal `%v` is missing", ErrExpectationMismatch, name)
		case !eok:
			return fmt.Errorf("%w: unexpected signal `%v`", ErrExpectationMismatch, name)
		case math.Abs(e-a) > valueTolerance:
			return fmt.Errorf("%w: signal `%v` expected %v, got %v", ErrExpectationMismatch, name, e, a)
		}
	}
	return nil
}

// Report is result of replaying capture file
type Report struct {
	Lines    int
	Messages int
	// Failures contains errors of lines that did not match expectations or failed to decode
	Failures []LineError
}

// LineError is verification failure of single capture line
type LineError struct {
	// Line is ordinal of the data line, comments and empty lines are not counted
	Line  int
	Frame isobus.Frame
	Err   error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %v: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error {
	return e.Err
}

// VerifyAll replays all lines from device and verifies each of them. Unparseable lines are reported as failures and
// replay continues.
func VerifyAll(ctx context.Context, device *Device, decoder Decoder) (Report, error) {
	report := Report{}
	for {
		line, err := device.ReadLine(ctx)
		if err == io.EOF {
			return report, nil
		}
		if err != nil && !errors.Is(err, ErrInvalidLine) && !errors.Is(err, isobus.ErrMalformedFrame) {
			return report, err
		}
		report.Lines++
		if err != nil {
			report.Failures = append(report.Failures, LineError{Line: report.Lines, Err: err})
			continue
		}

		counting := countingDecoder{decoder: decoder}
		if err := Verify(&counting, line); err != nil {
			report.Failures = append(report.Failures, LineError{Line: report.Lines, Frame: line.Frame, Err: err})
		}
		report.Messages += counting.messages
	}
}

type countingDecoder struct {
	decoder  Decoder
	messages int
}

func (c *countingDecoder) DecodeFrame(frame isobus.Frame) (isobus.Message, bool, error) {
	msg, ok, err := c.decoder.DecodeFrame(frame)
	if ok {
		c.messages++
	}
	return msg, ok, err
}
