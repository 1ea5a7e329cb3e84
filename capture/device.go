package capture

import (
	"bufio"
	"context"
	"github.com/aldas/go-isobus-client"
	"io"
	"strings"
	"sync"
	"time"
)

// Option configures Device
type Option func(d *Device)

// WithClock sets function used to timestamp lines that have no timestamp column (serial line loggers)
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.now = now
	}
}

// Device reads capture lines from reader. Reader can be a file or serial port of a logger that prints hex frames
// line by line.
type Device struct {
	reader  io.Reader
	scanner *bufio.Scanner
	now     func() time.Time

	writeLock sync.Mutex
	writer    io.Writer
}

// NewReader creates capture line reader
func NewReader(reader io.Reader, opts ...Option) *Device {
	d := &Device{
		reader:  reader,
		scanner: bufio.NewScanner(reader),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewWriter creates writer that records decoded messages as capture lines with expectations. Files written this way
// can be replayed with Verify. Multi-frame messages are recorded as single assembled frame.
func NewWriter(writer io.Writer) *Device {
	return &Device{writer: writer}
}

// ReadLine reads next non-empty, non-comment line. Returns io.EOF when reader is exhausted.
func (d *Device) ReadLine(ctx context.Context) (Line, error) {
	for d.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Line{}, err
		}
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		return UnmarshalString(line, unixSeconds(d.now()))
	}
	if err := d.scanner.Err(); err != nil {
		return Line{}, err
	}
	return Line{}, io.EOF
}

// ReadFrame reads next frame
func (d *Device) ReadFrame(ctx context.Context) (isobus.Frame, error) {
	l, err := d.ReadLine(ctx)
	if err != nil {
		return isobus.Frame{}, err
	}
	return l.Frame, nil
}

// Write writes decoded message as capture line with expected PGN and signal values
func (d *Device) Write(msg isobus.Message) error {
	b, err := MarshalLine(Line{
		Frame:          msg.Info,
		HasExpectation: true,
		ExpectedPGN:    msg.PGN,
		ExpectedValues: msg.SignalValues,
	})
	if err != nil {
		return err
	}
	b = append(b, '\n')

	d.writeLock.Lock()
	defer d.writeLock.Unlock()
	_, err = d.writer.Write(b)
	return err
}

// Close closes underlying reader or writer when they implement io.Closer
func (d *Device) Close() error {
	var target interface{} = d.reader
	if d.writer != nil {
		target = d.writer
	}
	closer, ok := target.(io.Closer)
	if ok {
		return closer.Close()
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
