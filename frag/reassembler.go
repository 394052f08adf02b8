package frag

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout is how long an incomplete reassembly survives before the
// cleanup pass purges it.
const DefaultTimeout = 30 * time.Second

// Stats is a snapshot of reassembler counters. Diagnostic only.
type Stats struct {
	FragmentsReceived  uint64 `json:"fragments_received"`
	PacketsReassembled uint64 `json:"packets_reassembled"`
	PacketsTimedOut    uint64 `json:"packets_timed_out"`
	Pending            int    `json:"pending"`
}

type pendingPacket struct {
	total   int
	nextSeq int
	body    []byte
	started time.Time
}

// Reassembler accumulates frames from one peer back into complete packets.
// In-progress reassemblies are keyed by sender address, so one Reassembler
// instance serves a peer identity across all of its addresses. Frames must
// arrive in sequence order; a gap drops the in-progress entry (the layer
// above retransmits whole packets, never individual frames).
type Reassembler struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]*pendingPacket

	fragmentsReceived  uint64
	packetsReassembled uint64
	packetsTimedOut    uint64
}

// NewReassembler creates a reassembler. A non-positive timeout selects
// DefaultTimeout.
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reassembler{
		timeout: timeout,
		pending: make(map[string]*pendingPacket),
	}
}

// Receive processes one frame from sender. It returns the complete packet
// once the final frame arrives, or nil while more frames are expected.
// Malformed or out-of-sequence frames return an error; the affected pending
// entry is dropped and the error is purely diagnostic.
func (r *Reassembler) Receive(frame []byte, sender string) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("frag: frame too short: %d bytes (min %d)", len(frame), HeaderSize)
	}

	frameType := frame[0]
	seq := int(binary.BigEndian.Uint16(frame[1:3]))
	total := int(binary.BigEndian.Uint16(frame[3:5]))
	body := frame[HeaderSize:]

	r.mu.Lock()
	defer r.mu.Unlock()

	r.fragmentsReceived++

	if frameType != TypeStart && frameType != TypeContinue && frameType != TypeEnd {
		return nil, fmt.Errorf("frag: invalid frame type 0x%02x from %s", frameType, sender)
	}
	if total == 0 {
		return nil, fmt.Errorf("frag: zero total count from %s", sender)
	}
	if seq >= total {
		return nil, fmt.Errorf("frag: sequence %d out of range (total %d) from %s", seq, total, sender)
	}

	switch frameType {
	case TypeStart:
		if seq != 0 {
			delete(r.pending, sender)
			return nil, fmt.Errorf("frag: START frame with sequence %d from %s", seq, sender)
		}
		// A fresh START always wins: the sender never resumes an
		// abandoned sequence, so any existing entry is stale.
		entry := &pendingPacket{
			total:   total,
			nextSeq: 1,
			body:    append([]byte(nil), body...),
			started: time.Now(),
		}
		if total == 1 {
			r.packetsReassembled++
			return entry.body, nil
		}
		r.pending[sender] = entry
		return nil, nil

	default: // CONTINUE or END
		entry, ok := r.pending[sender]
		if !ok {
			return nil, fmt.Errorf("frag: %s frame with no open reassembly from %s", typeName(frameType), sender)
		}
		if total != entry.total {
			delete(r.pending, sender)
			return nil, fmt.Errorf("frag: total count changed mid-packet from %s (%d -> %d)", sender, entry.total, total)
		}
		if seq != entry.nextSeq {
			delete(r.pending, sender)
			return nil, fmt.Errorf("frag: sequence gap from %s (expected %d, got %d)", sender, entry.nextSeq, seq)
		}
		if frameType == TypeEnd && seq != entry.total-1 {
			delete(r.pending, sender)
			return nil, fmt.Errorf("frag: END at sequence %d but %d frames declared from %s", seq, entry.total, sender)
		}
		if frameType == TypeContinue && seq == entry.total-1 {
			delete(r.pending, sender)
			return nil, fmt.Errorf("frag: final frame from %s not tagged END", sender)
		}

		entry.body = append(entry.body, body...)
		entry.nextSeq++

		if entry.nextSeq == entry.total {
			delete(r.pending, sender)
			r.packetsReassembled++
			return entry.body, nil
		}
		return nil, nil
	}
}

// CleanupStale removes in-progress reassemblies older than the timeout and
// returns how many were removed. Called opportunistically after a completed
// packet and by the periodic maintenance pass, so a peer that stops
// mid-transmission cannot hold buffer memory forever.
func (r *Reassembler) CleanupStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for sender, entry := range r.pending {
		if now.Sub(entry.started) > r.timeout {
			delete(r.pending, sender)
			removed++
		}
	}
	r.packetsTimedOut += uint64(removed)
	return removed
}

// Drop discards any in-progress reassembly for sender
func (r *Reassembler) Drop(sender string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, sender)
}

// Stats returns a snapshot of the running counters
func (r *Reassembler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		FragmentsReceived:  r.fragmentsReceived,
		PacketsReassembled: r.packetsReassembled,
		PacketsTimedOut:    r.packetsTimedOut,
		Pending:            len(r.pending),
	}
}

func typeName(t byte) string {
	switch t {
	case TypeStart:
		return "START"
	case TypeContinue:
		return "CONTINUE"
	case TypeEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}
