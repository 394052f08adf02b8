package peer

import "time"

// Score weights. A perfect established peer scores 145 (70+50+25); a fresh
// unknown peer with strong signal scores 120 (70+25+25).
const (
	signalMaxPoints  = 70.0
	historyMaxPoints = 50.0
	historyUnknown   = 25.0
	recencyMaxPoints = 25.0

	rssiFloor = -100
	rssiCeil  = -30

	recencyFullWindow  = 5 * time.Second
	recencyDecayWindow = 25 * time.Second
)

// ValidRSSI reports whether rssi is a usable signal reading. Radios report
// sentinel values (-127, -128, 0) when no measurement exists; peers with
// those must be excluded rather than scored on garbage.
func ValidRSSI(rssi int) bool {
	switch rssi {
	case -127, -128, 0:
		return false
	}
	return true
}

// Score ranks a discovered peer for connection selection. Higher is better.
// Three weighted components:
//
//   - signal quality: RSSI clamped to [-100,-30] dBm, mapped linearly to 0-70
//   - connection history: successes/attempts x 50, or a flat 25 for peers
//     with no attempts so unknown peers can still compete with degraded
//     established ones
//   - recency: 25 within 5s of last sighting, decaying linearly to 0 at 30s
//
// Peers with a sentinel RSSI score exactly 0.
func Score(p DiscoveredPeer, now time.Time) float64 {
	if !ValidRSSI(p.RSSI) {
		return 0
	}

	score := 0.0

	rssi := p.RSSI
	if rssi < rssiFloor {
		rssi = rssiFloor
	}
	if rssi > rssiCeil {
		rssi = rssiCeil
	}
	score += float64(rssi-rssiFloor) * (signalMaxPoints / float64(rssiCeil-rssiFloor))

	if p.Attempts > 0 {
		score += p.SuccessRate() * historyMaxPoints
	} else {
		score += historyUnknown
	}

	age := now.Sub(p.LastSeen)
	if age < recencyFullWindow {
		score += recencyMaxPoints
	} else if age < recencyFullWindow+recencyDecayWindow {
		score += recencyMaxPoints * (1.0 - float64(age-recencyFullWindow)/float64(recencyDecayWindow))
	}

	return score
}
