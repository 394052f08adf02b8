package frag

import "fmt"

// HDLC-style byte stuffing constants
const (
	hdlcFlag      byte = 0x7E
	hdlcEscape    byte = 0x7D
	hdlcEscapeXOR byte = 0x20
)

// FrameStream wraps a packet in HDLC-style byte stuffing with FLAG
// delimiters. Used when the link delivers a continuous byte stream rather
// than discrete writes, so packet boundaries survive.
func FrameStream(packet []byte) []byte {
	framed := make([]byte, 0, len(packet)+2)
	framed = append(framed, hdlcFlag)
	for _, b := range packet {
		if b == hdlcFlag || b == hdlcEscape {
			framed = append(framed, hdlcEscape, b^hdlcEscapeXOR)
		} else {
			framed = append(framed, b)
		}
	}
	return append(framed, hdlcFlag)
}

// DeframeStream strips FLAG delimiters and undoes byte stuffing
func DeframeStream(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("frag: frame too short for delimiters: %d bytes", len(framed))
	}
	if framed[0] != hdlcFlag || framed[len(framed)-1] != hdlcFlag {
		return nil, fmt.Errorf("frag: missing FLAG delimiters")
	}

	packet := make([]byte, 0, len(framed)-2)
	escaped := false
	for _, b := range framed[1 : len(framed)-1] {
		switch {
		case escaped:
			packet = append(packet, b^hdlcEscapeXOR)
			escaped = false
		case b == hdlcEscape:
			escaped = true
		case b == hdlcFlag:
			return nil, fmt.Errorf("frag: unexpected FLAG inside frame")
		default:
			packet = append(packet, b)
		}
	}
	if escaped {
		return nil, fmt.Errorf("frag: frame ends with escape byte")
	}
	return packet, nil
}
