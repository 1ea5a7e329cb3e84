package actisense

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/aldas/go-isobus-client"
	"github.com/rs/zerolog"
	"io"
	"strconv"
	"time"
)

const rawASCIIDelimiter = ' '

// maxLineLength is longest RAW ASCII line we expect: `00:00:00.000 R 1F223355 01 02 03 04 05 06 07 08\r\n`
const maxLineLength = 64

// ErrInvalidRawASCII is returned for received lines that can not be decoded into frame
var ErrInvalidRawASCII = errors.New("invalid raw ascii frame")

var errSkipLine = errors.New("line is not received frame")

// Option configures RawASCIIDevice
type Option func(d *RawASCIIDevice)

// WithLogger sets logger for skipped lines and raw bytes (debug level)
func WithLogger(logger zerolog.Logger) Option {
	return func(d *RawASCIIDevice) {
		d.logger = logger
	}
}

// WithClock sets function used to timestamp frames. RAW ASCII lines carry only time of day so frames are
// timestamped on receive.
func WithClock(now func() time.Time) Option {
	return func(d *RawASCIIDevice) {
		d.timeNow = now
	}
}

// RawASCIIDevice reads frames from Actisense W2K-1 (or compatible gateway) in RAW ASCII format. RAW ASCII format is
// ordinary CAN frame with up to 8 bytes of data so multi-frame messages are assembled by decoders.
type RawASCIIDevice struct {
	device  io.Reader
	timeNow func() time.Time
	logger  zerolog.Logger

	pending []byte
}

// NewRawASCIIDevice creates new instance of RAW ASCII format reader
func NewRawASCIIDevice(reader io.Reader, opts ...Option) *RawASCIIDevice {
	d := &RawASCIIDevice{
		device:  reader,
		timeNow: time.Now,
		logger:  zerolog.Nop(),
		pending: make([]byte, 0, 2*maxLineLength),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close closes underlying device when it implements io.Closer
func (d *RawASCIIDevice) Close() error {
	if c, ok := d.device.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadFrame reads next received frame. Transmitted frames and garbage from the wire are skipped.
func (d *RawASCIIDevice) ReadFrame(ctx context.Context) (isobus.Frame, error) {
	// Example: '00:34:02.718 R 15FD0800 FF 00 01 CA 6F FF FF FF\n'
	buf := make([]byte, maxLineLength)
	for {
		if line, ok := d.nextLine(); ok {
			frame, err := parseRawASCII(line, d.timeNow())
			if errors.Is(err, errSkipLine) {
				d.logger.Debug().Err(err).Bytes("line", line).Msg("skipping raw ascii line")
				continue
			}
			return frame, err
		}

		select {
		case <-ctx.Done():
			return isobus.Frame{}, ctx.Err()
		default:
		}

		n, err := d.device.Read(buf) // blocking read, caller closes device to interrupt it
		if n > 0 {
			d.logger.Debug().Bytes("raw", buf[:n]).Msg("read raw ascii bytes")
			d.pending = append(d.pending, buf[:n]...)
			if len(d.pending) > 2*maxLineLength && bytes.IndexByte(d.pending, '\n') == -1 {
				// no line end in sight, this is garbage or we are not reading RAW ASCII format
				d.pending = d.pending[:0]
			}
		}
		if err != nil {
			return isobus.Frame{}, err
		}
	}
}

func (d *RawASCIIDevice) nextLine() ([]byte, bool) {
	endIndex := bytes.IndexByte(d.pending, '\n')
	if endIndex == -1 {
		return nil, false
	}
	line := make([]byte, endIndex)
	copy(line, d.pending[:endIndex])

	n := copy(d.pending, d.pending[endIndex+1:])
	d.pending = d.pending[:n]
	return line, true
}

func parseRawASCII(raw []byte, now time.Time) (isobus.Frame, error) {
	// Example: '00:34:02.718 R 15FD0800 FF 00 01 CA 6F FF FF FF\n'
	// We find 2nd and 3rd spaces so we can check for "R" meaning frame is received, parse CAN ID and then decode
	// hex to bytes everything after CAN ID block
	raw = bytes.TrimRight(raw, "\r\n")
	spacesSeen := 0
	spaceIndex := 0
	previousSpaceIndex := 0
	for i, b := range raw {
		if b != rawASCIIDelimiter {
			continue
		}
		previousSpaceIndex = spaceIndex
		spaceIndex = i
		spacesSeen++
		if spacesSeen == 3 {
			break
		}
	}
	if spacesSeen != 3 {
		if len(bytes.TrimSpace(raw)) == 0 {
			return isobus.Frame{}, errSkipLine
		}
		// probably garbage from the wire, or we started reading frame not from the beginning
		return isobus.Frame{}, fmt.Errorf("%w: failed to find CAN ID in line: `%s`", errSkipLine, raw)
	}
	if raw[previousSpaceIndex-1] != 'R' {
		return isobus.Frame{}, fmt.Errorf("%w: direction is not `R`: `%s`", errSkipLine, raw)
	}

	canID, err := strconv.ParseUint(string(raw[previousSpaceIndex+1:spaceIndex]), 16, 32)
	if err != nil {
		return isobus.Frame{}, fmt.Errorf("%w: CAN ID is not valid hex: `%s`", ErrInvalidRawASCII, raw[previousSpaceIndex+1:spaceIndex])
	}

	hexBytes := make([]byte, 0, 16)
	for _, b := range raw[spaceIndex:] {
		if b == rawASCIIDelimiter {
			continue
		}
		hexBytes = append(hexBytes, b)
	}
	if len(hexBytes) > 16 {
		return isobus.Frame{}, fmt.Errorf("%w: more than 8 data bytes: `%s`", ErrInvalidRawASCII, raw)
	}
	data := make([]byte, hex.DecodedLen(len(hexBytes)))
	n, err := hex.Decode(data, hexBytes)
	if err != nil {
		return isobus.Frame{}, fmt.Errorf("%w: data is not valid hex: %v", ErrInvalidRawASCII, err)
	}

	return isobus.NewFrame(uint32(canID), data[:n], float64(now.UnixNano())/1e9), nil
}
