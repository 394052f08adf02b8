package frag

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNewFragmenter(t *testing.T) {
	tests := []struct {
		name    string
		mtu     int
		wantErr bool
		payload int
	}{
		{name: "typical negotiated size", mtu: 185, payload: 180},
		{name: "minimum viable", mtu: 6, payload: 1},
		{name: "header only", mtu: 5, wantErr: true},
		{name: "below header", mtu: 4, wantErr: true},
		{name: "zero", mtu: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFragmenter(tt.mtu)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewFragmenter(%d) succeeded, want error", tt.mtu)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFragmenter(%d) error: %v", tt.mtu, err)
			}
			if f.PayloadSize() != tt.payload {
				t.Errorf("PayloadSize() = %d, want %d", f.PayloadSize(), tt.payload)
			}
		})
	}
}

func TestFragmentSingleFrame(t *testing.T) {
	f, err := NewFragmenter(23)
	if err != nil {
		t.Fatal(err)
	}

	packet := []byte("hello")
	frames, err := f.Fragment(packet)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	frame := frames[0]
	if frame[0] != TypeStart {
		t.Errorf("frame type = 0x%02x, want START", frame[0])
	}
	if seq := binary.BigEndian.Uint16(frame[1:3]); seq != 0 {
		t.Errorf("sequence = %d, want 0", seq)
	}
	if total := binary.BigEndian.Uint16(frame[3:5]); total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if !bytes.Equal(frame[HeaderSize:], packet) {
		t.Errorf("body = %v, want %v", frame[HeaderSize:], packet)
	}
}

func TestFragmentSplit(t *testing.T) {
	f, err := NewFragmenter(185)
	if err != nil {
		t.Fatal(err)
	}

	// 600 bytes at 180 usable per frame: 180+180+180+60
	packet := make([]byte, 600)
	for i := range packet {
		packet[i] = byte(i)
	}

	frames, err := f.Fragment(packet)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}

	wantTypes := []byte{TypeStart, TypeContinue, TypeContinue, TypeEnd}
	wantBodies := []int{180, 180, 180, 60}
	var rejoined []byte
	for i, frame := range frames {
		if frame[0] != wantTypes[i] {
			t.Errorf("frame %d type = 0x%02x, want 0x%02x", i, frame[0], wantTypes[i])
		}
		if seq := binary.BigEndian.Uint16(frame[1:3]); int(seq) != i {
			t.Errorf("frame %d sequence = %d", i, seq)
		}
		if total := binary.BigEndian.Uint16(frame[3:5]); total != 4 {
			t.Errorf("frame %d total = %d, want 4", i, total)
		}
		if got := len(frame) - HeaderSize; got != wantBodies[i] {
			t.Errorf("frame %d body = %d bytes, want %d", i, got, wantBodies[i])
		}
		rejoined = append(rejoined, frame[HeaderSize:]...)
	}
	if !bytes.Equal(rejoined, packet) {
		t.Error("rejoined bodies do not match the original packet")
	}
}

func TestFragmentEmptyPacket(t *testing.T) {
	f, err := NewFragmenter(23)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fragment(nil); err == nil {
		t.Error("Fragment(nil) succeeded, want error")
	}
}

func TestFragmentExceedsSequenceSpace(t *testing.T) {
	f, err := NewFragmenter(6) // 1 usable byte per frame
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.Fragment(make([]byte, MaxFragments)); err != nil {
		t.Errorf("packet at the limit failed: %v", err)
	}
	if _, err := f.Fragment(make([]byte, MaxFragments+1)); err == nil {
		t.Error("packet over the limit succeeded, want error")
	}
}

func TestOverhead(t *testing.T) {
	f, err := NewFragmenter(185)
	if err != nil {
		t.Fatal(err)
	}
	frames, headerBytes := f.Overhead(600)
	if frames != 4 || headerBytes != 20 {
		t.Errorf("Overhead(600) = (%d, %d), want (4, 20)", frames, headerBytes)
	}
}

func TestFragmentReassembleRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mtu  int
		size int
	}{
		{name: "single frame", mtu: 185, size: 100},
		{name: "exact boundary", mtu: 185, size: 360},
		{name: "many small frames", mtu: 23, size: 5000},
		{name: "one byte", mtu: 23, size: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFragmenter(tt.mtu)
			if err != nil {
				t.Fatal(err)
			}
			r := NewReassembler(0)

			packet := make([]byte, tt.size)
			for i := range packet {
				packet[i] = byte(i * 7)
			}

			frames, err := f.Fragment(packet)
			if err != nil {
				t.Fatal(err)
			}

			var got []byte
			for i, frame := range frames {
				out, err := r.Receive(frame, "AA:BB:CC:DD:EE:FF")
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if i < len(frames)-1 && out != nil {
					t.Fatalf("frame %d completed early", i)
				}
				if out != nil {
					got = out
				}
			}
			if !bytes.Equal(got, packet) {
				t.Errorf("reassembled %d bytes, want %d matching bytes", len(got), len(packet))
			}
		})
	}
}
