// Package frag splits oversized packets into radio-MTU-sized frames and
// reassembles them on the receiving side.
//
// Frame format (5-byte header, big endian):
//
//	[Type: 1 byte][Sequence: 2 bytes][Total: 2 bytes][Body: variable]
//
// Frame types:
//
//	0x01 = START    - first frame (single-frame packets are START with Total=1)
//	0x02 = CONTINUE - middle frame
//	0x03 = END      - last frame
package frag

import (
	"encoding/binary"
	"fmt"
)

// Frame types
const (
	TypeStart    byte = 0x01
	TypeContinue byte = 0x02
	TypeEnd      byte = 0x03
)

const (
	// HeaderSize is the per-frame header cost: type(1) + sequence(2) + total(2)
	HeaderSize = 5

	// MaxFragments is the 16-bit sequence space limit
	MaxFragments = 65535
)

// Fragmenter splits packets into frames sized for one negotiated payload size.
// A Fragmenter is immutable after creation and safe for concurrent use.
type Fragmenter struct {
	mtu         int
	payloadSize int
}

// NewFragmenter creates a fragmenter for the given negotiated payload size.
// Returns an error if the size cannot fit a header plus at least one body
// byte; that is a configuration fault, not a retryable condition.
func NewFragmenter(mtu int) (*Fragmenter, error) {
	payloadSize := mtu - HeaderSize
	if payloadSize < 1 {
		return nil, fmt.Errorf("frag: negotiated payload size %d too small (need at least %d)", mtu, HeaderSize+1)
	}
	return &Fragmenter{mtu: mtu, payloadSize: payloadSize}, nil
}

// MTU returns the negotiated payload size this fragmenter was built for
func (f *Fragmenter) MTU() int {
	return f.mtu
}

// PayloadSize returns the usable body bytes per frame
func (f *Fragmenter) PayloadSize() int {
	return f.payloadSize
}

// Fragment splits packet into an ordered frame sequence. Every packet gets
// framed, even ones that fit a single frame, so the receiver can always
// read the total count from the header.
func (f *Fragmenter) Fragment(packet []byte) ([][]byte, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("frag: cannot fragment empty packet")
	}

	total := (len(packet) + f.payloadSize - 1) / f.payloadSize
	if total > MaxFragments {
		return nil, fmt.Errorf("frag: packet of %d bytes needs %d frames, exceeds max %d (payload size %d)",
			len(packet), total, MaxFragments, f.payloadSize)
	}

	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		frameType := TypeContinue
		if i == 0 {
			frameType = TypeStart
		} else if i == total-1 {
			frameType = TypeEnd
		}

		start := i * f.payloadSize
		end := start + f.payloadSize
		if end > len(packet) {
			end = len(packet)
		}

		frame := make([]byte, HeaderSize+end-start)
		frame[0] = frameType
		binary.BigEndian.PutUint16(frame[1:3], uint16(i))
		binary.BigEndian.PutUint16(frame[3:5], uint16(total))
		copy(frame[HeaderSize:], packet[start:end])
		frames = append(frames, frame)
	}

	return frames, nil
}

// Overhead reports the frame count and total header bytes needed to carry
// a packet of the given size. Diagnostic helper.
func (f *Fragmenter) Overhead(packetSize int) (frames int, headerBytes int) {
	frames = (packetSize + f.payloadSize - 1) / f.payloadSize
	return frames, frames * HeaderSize
}
