package serialapi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Frame delimiters and control bytes.
const (
	frameSOF = 0x01
	frameACK = 0x06
	frameNAK = 0x15
	frameCAN = 0x18
)

// Frame types.
const (
	typeRequest  = 0x00
	typeResponse = 0x01
)

// Serial API function identifiers.
const (
	funcGetInitData         = 0x02
	funcApplicationCommand  = 0x04
	funcSendData            = 0x13
	funcGetNodeProtocolInfo = 0x41
)

// maxFrameLength bounds the LENGTH byte; anything larger is a framing
// error and forces a resync.
const maxFrameLength = 64

// Frame decoding errors.
var (
	ErrBadChecksum = errors.New("serialapi: bad frame checksum")
	ErrFrameLength = errors.New("serialapi: invalid frame length")
)

// frame is a decoded data frame. Control bytes (ACK/NAK/CAN) are not
// represented as frames; the reader reports them separately.
type frame struct {
	Type     byte
	Function byte
	Data     []byte
}

// checksum computes the frame checksum over LENGTH, TYPE, FUNC and DATA.
func checksum(body []byte) byte {
	c := byte(0xFF)
	for _, b := range body {
		c ^= b
	}
	return c
}

// encodeFrame builds a complete wire frame for the given type, function
// and data, including SOF and checksum.
func encodeFrame(frameType, function byte, data []byte) []byte {
	// LENGTH covers TYPE, FUNC, DATA and CHECKSUM.
	length := byte(len(data) + 3)

	out := make([]byte, 0, len(data)+5)
	out = append(out, frameSOF, length, frameType, function)
	out = append(out, data...)
	out = append(out, checksum(out[1:]))
	return out
}

// frameReader decodes frames and control bytes from a serial stream.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// readEvent is one unit read from the stream: either a control byte or
// a complete, checksum-verified data frame.
type readEvent struct {
	Control byte   // frameACK, frameNAK or frameCAN; 0 for data frames
	Frame   *frame // nil for control bytes
}

// next blocks until a control byte or complete frame arrives.
//
// Bytes that are neither SOF nor a known control byte are discarded;
// this resynchronizes the stream after line noise or a partial frame.
//
// Returns:
//   - readEvent: The decoded control byte or frame
//   - error: Stream read failure, ErrFrameLength or ErrBadChecksum
func (fr *frameReader) next() (readEvent, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return readEvent{}, err
		}

		switch b {
		case frameACK, frameNAK, frameCAN:
			return readEvent{Control: b}, nil
		case frameSOF:
			f, err := fr.readFrame()
			if err != nil {
				return readEvent{}, err
			}
			return readEvent{Frame: f}, nil
		default:
			// Resync: skip until the next delimiter.
		}
	}
}

// readFrame reads the remainder of a data frame after SOF.
func (fr *frameReader) readFrame() (*frame, error) {
	length, err := fr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if length < 3 || length > maxFrameLength {
		return nil, fmt.Errorf("%w: %d", ErrFrameLength, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, err
	}

	sum := checksum(append([]byte{length}, body[:len(body)-1]...))
	if sum != body[len(body)-1] {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x",
			ErrBadChecksum, body[len(body)-1], sum)
	}

	return &frame{
		Type:     body[0],
		Function: body[1],
		Data:     body[2 : len(body)-1],
	}, nil
}
