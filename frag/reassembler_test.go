package frag

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func makeFrame(frameType byte, seq, total uint16, body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body))
	frame[0] = frameType
	binary.BigEndian.PutUint16(frame[1:3], seq)
	binary.BigEndian.PutUint16(frame[3:5], total)
	copy(frame[HeaderSize:], body)
	return frame
}

func TestReceiveMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "too short", frame: []byte{0x01, 0x00, 0x00}},
		{name: "unknown type", frame: makeFrame(0x09, 0, 1, []byte("x"))},
		{name: "zero total", frame: makeFrame(TypeStart, 0, 0, []byte("x"))},
		{name: "sequence past total", frame: makeFrame(TypeContinue, 5, 3, []byte("x"))},
		{name: "start with nonzero sequence", frame: makeFrame(TypeStart, 1, 3, []byte("x"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(0)
			if _, err := r.Receive(tt.frame, "sender"); err == nil {
				t.Error("Receive accepted a malformed frame")
			}
		})
	}
}

func TestReceiveContinueWithoutStart(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeContinue, 1, 3, []byte("x")), "s"); err == nil {
		t.Error("CONTINUE with no open reassembly accepted")
	}
	if _, err := r.Receive(makeFrame(TypeEnd, 2, 3, []byte("x")), "s"); err == nil {
		t.Error("END with no open reassembly accepted")
	}
}

func TestReceiveSequenceGapDropsEntry(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 4, []byte("a")), "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(makeFrame(TypeContinue, 2, 4, []byte("c")), "s"); err == nil {
		t.Fatal("sequence gap accepted")
	}
	// The entry is gone: the in-order frame now has nothing to join.
	if _, err := r.Receive(makeFrame(TypeContinue, 1, 4, []byte("b")), "s"); err == nil {
		t.Error("frame after dropped entry accepted")
	}
	if got := r.Stats().Pending; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestReceiveTotalMismatchDropsEntry(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 3, []byte("a")), "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(makeFrame(TypeContinue, 1, 5, []byte("b")), "s"); err == nil {
		t.Fatal("total mismatch accepted")
	}
	if got := r.Stats().Pending; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestReceiveEarlyEnd(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 4, []byte("a")), "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(makeFrame(TypeEnd, 1, 4, []byte("b")), "s"); err == nil {
		t.Error("END before the declared final frame accepted")
	}
}

func TestReceiveFinalFrameNotEnd(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 2, []byte("a")), "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(makeFrame(TypeContinue, 1, 2, []byte("b")), "s"); err == nil {
		t.Error("final frame tagged CONTINUE accepted")
	}
}

func TestReceiveFreshStartReplacesPending(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 3, []byte("old")), "s"); err != nil {
		t.Fatal(err)
	}

	// Sender abandons the sequence and starts over.
	if _, err := r.Receive(makeFrame(TypeStart, 0, 2, []byte("ne")), "s"); err != nil {
		t.Fatal(err)
	}
	out, err := r.Receive(makeFrame(TypeEnd, 1, 2, []byte("w")), "s")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("new")) {
		t.Errorf("got %q, want %q", out, "new")
	}
}

func TestReceiveSingleFrameTotal(t *testing.T) {
	r := NewReassembler(0)
	out, err := r.Receive(makeFrame(TypeStart, 0, 1, []byte("whole")), "s")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("whole")) {
		t.Errorf("got %q, want %q", out, "whole")
	}
	if got := r.Stats().Pending; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestReceiveInterleavedSenders(t *testing.T) {
	r := NewReassembler(0)

	if _, err := r.Receive(makeFrame(TypeStart, 0, 2, []byte("al")), "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(makeFrame(TypeStart, 0, 2, []byte("bo")), "B"); err != nil {
		t.Fatal(err)
	}

	outA, err := r.Receive(makeFrame(TypeEnd, 1, 2, []byte("fa")), "A")
	if err != nil {
		t.Fatal(err)
	}
	outB, err := r.Receive(makeFrame(TypeEnd, 1, 2, []byte("b")), "B")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(outA, []byte("alfa")) {
		t.Errorf("sender A: got %q", outA)
	}
	if !bytes.Equal(outB, []byte("bob")) {
		t.Errorf("sender B: got %q", outB)
	}
}

func TestCleanupStale(t *testing.T) {
	r := NewReassembler(10 * time.Millisecond)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 3, []byte("a")), "slow"); err != nil {
		t.Fatal(err)
	}
	if removed := r.CleanupStale(); removed != 0 {
		t.Errorf("fresh entry purged: removed = %d", removed)
	}

	time.Sleep(25 * time.Millisecond)
	if removed := r.CleanupStale(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	stats := r.Stats()
	if stats.PacketsTimedOut != 1 {
		t.Errorf("PacketsTimedOut = %d, want 1", stats.PacketsTimedOut)
	}
	if stats.Pending != 0 {
		t.Errorf("Pending = %d, want 0", stats.Pending)
	}
}

func TestDrop(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 3, []byte("a")), "s"); err != nil {
		t.Fatal(err)
	}
	r.Drop("s")
	if got := r.Stats().Pending; got != 0 {
		t.Errorf("pending = %d after Drop, want 0", got)
	}
}

func TestStatsCounters(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Receive(makeFrame(TypeStart, 0, 2, []byte("hi")), "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(makeFrame(TypeEnd, 1, 2, []byte("!")), "s"); err != nil {
		t.Fatal(err)
	}

	stats := r.Stats()
	if stats.FragmentsReceived != 2 {
		t.Errorf("FragmentsReceived = %d, want 2", stats.FragmentsReceived)
	}
	if stats.PacketsReassembled != 1 {
		t.Errorf("PacketsReassembled = %d, want 1", stats.PacketsReassembled)
	}
}
