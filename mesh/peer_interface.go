package mesh

import (
	"fmt"
	"sync/atomic"

	"github.com/user/blemesh/logger"
)

// PeerInterface is the per-peer endpoint handed to the owning layer. One
// exists per connected peer identity, not per address, so it survives the
// peer rotating its radio address mid-session.
type PeerInterface struct {
	parent       *Interface
	spawnAddress string
	name         string
	identity     []byte
	identityHash string

	online  atomic.Bool
	rxBytes atomic.Uint64
	txBytes atomic.Uint64
}

func newPeerInterface(parent *Interface, address, name string, identity []byte, hash string) *PeerInterface {
	p := &PeerInterface{
		parent:       parent,
		spawnAddress: address,
		name:         name,
		identity:     append([]byte(nil), identity...),
		identityHash: hash,
	}
	p.online.Store(true)
	return p
}

// Name returns the peer's advertised name, or a synthetic one
func (p *PeerInterface) Name() string { return p.name }

// IdentityHash returns the short hash keying this peer's state
func (p *PeerInterface) IdentityHash() string { return p.identityHash }

// Address returns the peer's current radio address, falling back to the
// address it was spawned with when no binding is live.
func (p *PeerInterface) Address() string {
	p.parent.peerMu.Lock()
	addr := p.parent.identToAddr[p.identityHash]
	p.parent.peerMu.Unlock()
	if addr == "" {
		return p.spawnAddress
	}
	return addr
}

// Online reports whether the peer is still attached
func (p *PeerInterface) Online() bool { return p.online.Load() }

// RxBytes returns reassembled bytes received from this peer
func (p *PeerInterface) RxBytes() uint64 { return p.rxBytes.Load() }

// TxBytes returns fragment bytes sent to this peer
func (p *PeerInterface) TxBytes() uint64 { return p.txBytes.Load() }

// ProcessIncoming delivers one reassembled packet from this peer upward
func (p *PeerInterface) ProcessIncoming(data []byte) {
	if !p.online.Load() {
		return
	}
	p.rxBytes.Add(uint64(len(data)))
	logger.Debug(p.name, "RX %d bytes", len(data))
	p.parent.deliverInbound(data, p)
}

// ProcessOutgoing fragments one packet and sends every fragment to the
// peer's current address, in order. The first send failure aborts the
// rest of the packet; a partial packet is useless to the other side and
// the reassembler there will time the remnant out.
func (p *PeerInterface) ProcessOutgoing(data []byte) {
	if !p.online.Load() {
		return
	}

	p.parent.fragMu.Lock()
	f := p.parent.fragmenters[p.identityHash]
	p.parent.fragMu.Unlock()
	if f == nil {
		logger.Warn(p.name, "no fragmenter, dropping %d byte packet", len(data))
		return
	}

	frames, err := f.Fragment(data)
	if err != nil {
		logger.Error(p.name, "cannot fragment %d byte packet: %v", len(data), err)
		return
	}

	addr := p.Address()
	for n, frame := range frames {
		if err := p.parent.driver.Send(addr, frame); err != nil {
			logger.Warn(p.name, "send fragment %d/%d to %s failed: %v", n+1, len(frames), shortAddr(addr), err)
			return
		}
		p.txBytes.Add(uint64(len(frame)))
		p.parent.txBytes.Add(uint64(len(frame)))
	}
	logger.Debug(p.name, "TX %d bytes in %d fragment(s)", len(data), len(frames))
}

// markDetached flips the peer offline without logging. Used under the
// parent's lock; Detach is the public path.
func (p *PeerInterface) markDetached() {
	p.online.Store(false)
}

// Detach takes the peer endpoint offline
func (p *PeerInterface) Detach() {
	if p.online.CompareAndSwap(true, false) {
		logger.Info(p.name, "peer interface down")
	}
}

func (p *PeerInterface) String() string {
	return fmt.Sprintf("PeerInterface[%s %s]", p.name, shortHash(p.identityHash))
}
