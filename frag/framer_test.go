package frag

import (
	"bytes"
	"testing"
)

func TestFrameStreamRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{name: "plain bytes", packet: []byte("hello radio")},
		{name: "contains flag", packet: []byte{0x01, 0x7E, 0x02}},
		{name: "contains escape", packet: []byte{0x01, 0x7D, 0x02}},
		{name: "all special", packet: []byte{0x7E, 0x7D, 0x7E, 0x7D}},
		{name: "empty", packet: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			framed := FrameStream(tt.packet)
			if framed[0] != hdlcFlag || framed[len(framed)-1] != hdlcFlag {
				t.Fatal("frame missing FLAG delimiters")
			}
			for _, b := range framed[1 : len(framed)-1] {
				if b == hdlcFlag {
					t.Fatal("unescaped FLAG inside frame")
				}
			}

			got, err := DeframeStream(framed)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.packet) {
				t.Errorf("got %v, want %v", got, tt.packet)
			}
		})
	}
}

func TestDeframeStreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		framed []byte
	}{
		{name: "too short", framed: []byte{hdlcFlag}},
		{name: "no leading flag", framed: []byte{0x01, 0x02, hdlcFlag}},
		{name: "no trailing flag", framed: []byte{hdlcFlag, 0x01, 0x02}},
		{name: "flag inside body", framed: []byte{hdlcFlag, 0x01, hdlcFlag, 0x02, hdlcFlag}},
		{name: "trailing escape", framed: []byte{hdlcFlag, hdlcEscape, hdlcFlag}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeframeStream(tt.framed); err == nil {
				t.Error("DeframeStream accepted a malformed frame")
			}
		})
	}
}
