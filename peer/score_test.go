package peer

import (
	"math"
	"testing"
	"time"
)

func TestValidRSSI(t *testing.T) {
	for _, rssi := range []int{-127, -128, 0} {
		if ValidRSSI(rssi) {
			t.Errorf("ValidRSSI(%d) = true, want false", rssi)
		}
	}
	for _, rssi := range []int{-30, -60, -100, -110, -1} {
		if !ValidRSSI(rssi) {
			t.Errorf("ValidRSSI(%d) = false, want true", rssi)
		}
	}
}

func TestScore(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		peer DiscoveredPeer
		want float64
	}{
		{
			// Strong signal, unknown history, just seen: 60+25+25.
			name: "fresh strong peer",
			peer: DiscoveredPeer{RSSI: -40, LastSeen: now},
			want: 110,
		},
		{
			name: "perfect established peer",
			peer: DiscoveredPeer{RSSI: -30, LastSeen: now, Attempts: 4, Successes: 4},
			want: 145,
		},
		{
			name: "weak stale unproven peer",
			peer: DiscoveredPeer{RSSI: -100, LastSeen: now.Add(-time.Minute), Attempts: 2},
			want: 0,
		},
		{
			name: "signal clamped at ceiling",
			peer: DiscoveredPeer{RSSI: -10, LastSeen: now},
			want: 120,
		},
		{
			name: "signal clamped at floor",
			peer: DiscoveredPeer{RSSI: -110, LastSeen: now},
			want: 50,
		},
		{
			name: "half success rate",
			peer: DiscoveredPeer{RSSI: -65, LastSeen: now, Attempts: 4, Successes: 2},
			want: 35 + 25 + 25,
		},
		{
			// Midway through the decay window: 5s full + 12.5s of 25s.
			name: "recency half decayed",
			peer: DiscoveredPeer{RSSI: -100, LastSeen: now.Add(-17500 * time.Millisecond), Attempts: 1},
			want: 12.5,
		},
		{
			name: "sentinel RSSI scores zero",
			peer: DiscoveredPeer{RSSI: -127, LastSeen: now, Attempts: 4, Successes: 4},
			want: 0,
		},
		{
			name: "zero RSSI scores zero",
			peer: DiscoveredPeer{RSSI: 0, LastSeen: now},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.peer, now)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreOrdersUnknownAboveDegraded(t *testing.T) {
	now := time.Now()
	unknown := DiscoveredPeer{RSSI: -70, LastSeen: now}
	degraded := DiscoveredPeer{RSSI: -70, LastSeen: now, Attempts: 10, Successes: 1}

	if Score(unknown, now) <= Score(degraded, now) {
		t.Error("peer with no history should outrank one failing 90% of attempts")
	}
}
