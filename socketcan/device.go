package socketcan

import (
	"context"
	"errors"
	"github.com/aldas/go-isobus-client"
	"github.com/rs/zerolog"
	"time"
)

// DeviceConfig configures SocketCAN device
type DeviceConfig struct {
	// InterfaceName is SocketCAN interface name. For example: can0
	InterfaceName string

	// ReceiveDataTimeout is to limit amount of time reads can result no data. to timeout the connection when there is
	// no interaction in bus. This is different from for example serial device readTimeout which limits how much time
	// Read call blocks but we want to Reads block small amount of time to be able to check if context was cancelled
	// during read but at the same time we want to be able to detect when there are no frames coming from bus for
	// excessive amount of time. Defaults to 5 seconds.
	ReceiveDataTimeout time.Duration

	// Logger logs skipped (error, RTR, standard) frames at debug level
	Logger *zerolog.Logger
}

type rawFrameReader interface {
	SetReadTimeout(timeout time.Duration) error
	ReadRawFrame() (RawFrame, error)
	Close() error
}

// Device reads J1939 frames from SocketCAN interface
type Device struct {
	conn   rawFrameReader
	config DeviceConfig
	logger zerolog.Logger

	timeNow func() time.Time
}

// NewDevice creates SocketCAN device. Connection is opened with Initialize.
func NewDevice(config DeviceConfig) *Device {
	if config.ReceiveDataTimeout == 0 {
		config.ReceiveDataTimeout = 5 * time.Second
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Device{
		conn:    nil,
		config:  config,
		logger:  logger,
		timeNow: time.Now,
	}
}

// Initialize opens the socket
func (d *Device) Initialize() error {
	conn, err := NewConnection(d.config.InterfaceName)
	if err != nil {
		return err
	}
	d.conn = conn

	return nil
}

// Close closes the socket
func (d *Device) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// ReadFrame reads next extended data frame from bus. Error, RTR and standard frames are skipped.
func (d *Device) ReadFrame(ctx context.Context) (isobus.Frame, error) {
	start := d.timeNow()
	for {
		select {
		case <-ctx.Done():
			return isobus.Frame{}, ctx.Err()
		default:
		}

		if err := d.conn.SetReadTimeout(50 * time.Millisecond); err != nil { // max 50ms block time for read per iteration
			return isobus.Frame{}, err
		}
		frame, err := d.conn.ReadRawFrame()

		now := d.timeNow()
		if err != nil {
			switch {
			case errors.Is(err, errReadTimeout):
				if now.Sub(start) > d.config.ReceiveDataTimeout {
					return isobus.Frame{}, err
				}
				continue
			case errors.Is(err, ErrErrorFrame), errors.Is(err, ErrRemoteTransmissionRequest), errors.Is(err, ErrStandardFrame):
				d.logger.Debug().Err(err).Msg("skipping CAN frame")
				continue
			}
			return isobus.Frame{}, err
		}

		return isobus.NewFrame(frame.CANID, frame.Data[:frame.Length], unixSeconds(frame.Time)), nil
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
