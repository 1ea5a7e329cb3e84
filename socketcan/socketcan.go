package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"golang.org/x/sys/unix"
	"net"
	"syscall"
	"time"
)

const (
	canRaw = 1

	// canFrameLength is size of classic CAN frame struct (`struct can_frame`)
	canFrameLength = 16

	// canIDMask is bitmask to get 0-28bits belonging to CAN ID from socketCAN struct
	canIDMask = uint32(0b111) << 29
	// canIDERRFlag is bit 29 in CAN ID and means ERR error message flag (0 = data frame, 1 = error message)
	canIDERRFlag = uint32(1 << 29)
	// canIDRTRFlag is bit 30 in CAN ID and means RTR remote transmission request (1 = rtr frame)
	canIDRTRFlag = uint32(1 << 30)
	// canIDEFFFlag is bit 31 in CAN ID and means EFF extended frame format / IDE identifier extension flag (0 = standard 11 bit, 1 = extended 29 bit)
	canIDEFFFlag = uint32(1 << 31)
)

var (
	errReadTimeout = errors.New("read timeout")

	// ErrRemoteTransmissionRequest is returned for RTR frames, they carry no data
	ErrRemoteTransmissionRequest = errors.New("read CAN remote transmission request frame")
	// ErrErrorFrame is returned for CAN error message frames
	ErrErrorFrame = errors.New("read CAN error message frame")
	// ErrStandardFrame is returned for 11 bit identifier frames, J1939 uses only 29 bit identifiers
	ErrStandardFrame = errors.New("read CAN standard 11 bit frame")
	// ErrInvalidFrame is returned when read bytes do not form CAN frame
	ErrInvalidFrame = errors.New("invalid CAN frame")
)

// RawFrame is single CAN frame read from socket
type RawFrame struct {
	Time time.Time
	// CANID is 29 bit identifier without EFF/RTR/ERR flags
	CANID  uint32
	Length uint8
	Data   [8]byte
}

// Connection is raw SocketCAN socket bound to an interface
type Connection struct {
	socketFD int
	timeNow  func() time.Time
}

// NewConnection opens raw CAN socket and binds it to interface (for example: can0)
func NewConnection(ifName string) (*Connection, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("bad ifName: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("could not bind CAN socket: %w", err)
	}

	return &Connection{
		socketFD: fd,
		timeNow:  time.Now,
	}, nil
}

func isContinuableSocketErr(err error) bool {
	// EWOULDBLOCK - If you set a timeout on the socket with SO_RCVTIMEO - in this case, a receive will return with
	// EWOULDBLOCK if the timeout elapses while no input data becomes available

	// EINTR - If a signal occurs during a blocking operation, then the operation will either (a) return partial
	// completion, or (b) return failure, do nothing, and set errno to EINTR.

	return err == syscall.EWOULDBLOCK || err == syscall.EINTR
}

// SetReadTimeout limits how long single read blocks
func (i Connection) SetReadTimeout(timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(i.socketFD, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// Close closes the socket
func (i Connection) Close() error {
	return unix.Close(i.socketFD)
}

// ReadRawFrame reads single frame from socket
func (i Connection) ReadRawFrame() (RawFrame, error) {
	canFrame := make([]byte, canFrameLength)
	n, err := unix.Read(i.socketFD, canFrame)
	if err != nil {
		if isContinuableSocketErr(err) {
			return RawFrame{}, errReadTimeout
		}
		return RawFrame{}, err
	}
	f, err := decodeCANFrame(canFrame[:n])
	if err != nil {
		return RawFrame{}, err
	}
	f.Time = i.timeNow()
	return f, nil
}

// decodeCANFrame decodes classic CAN frame structure
// https://github.com/linux-can/can-utils/blob/affdc1b79973c7497bb8607603c24734e11a91aa/include/linux/can.h#L107
func decodeCANFrame(canFrame []byte) (RawFrame, error) {
	if len(canFrame) != canFrameLength {
		return RawFrame{}, fmt.Errorf("%w: expected %v bytes, got %v", ErrInvalidFrame, canFrameLength, len(canFrame))
	}

	// bits 0-28 is CAN ID
	// bit 29 is ERR error message flag (0 = data frame, 1 = error message)
	// bit 30 is RTR remote transmission request (1 = rtr frame)
	// bit 31 is EFF extended frame format / IDE identifier extension flag (0 = standard 11 bit, 1 = extended 29 bit)
	canID := binary.LittleEndian.Uint32(canFrame[0:4]) // FIXME: for big-endian arch (mips64, ppc64) we should use big-endian
	switch {
	case canID&canIDERRFlag != 0:
		return RawFrame{}, ErrErrorFrame
	case canID&canIDRTRFlag != 0:
		return RawFrame{}, ErrRemoteTransmissionRequest
	case canID&canIDEFFFlag == 0:
		return RawFrame{}, ErrStandardFrame
	}

	// bits 32-40 data length
	length := canFrame[4]
	if length > 8 {
		return RawFrame{}, fmt.Errorf("%w: data length %v is over 8", ErrInvalidFrame, length)
	}
	f := RawFrame{
		CANID:  canID &^ canIDMask,
		Length: length,
	}
	copy(f.Data[:], canFrame[8:8+length])
	return f, nil
}
