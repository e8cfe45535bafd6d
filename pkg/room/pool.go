package room

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"

	"trystero-go/pkg/log"
	"trystero-go/pkg/peer"
)

const offerPoolSize = 10

// sdpFuture resolves exactly once with a peer's local description. The
// announce step waits on it because the description may not exist yet when
// the payload is assembled.
type sdpFuture struct {
	once sync.Once
	done chan struct{}
	desc webrtc.SessionDescription
}

func newSDPFuture() *sdpFuture {
	return &sdpFuture{done: make(chan struct{})}
}

func (f *sdpFuture) resolve(desc webrtc.SessionDescription) {
	f.once.Do(func() {
		f.desc = desc
		close(f.done)
	})
}

func (f *sdpFuture) wait(ctx context.Context) (webrtc.SessionDescription, error) {
	select {
	case <-f.done:
		return f.desc, nil
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
}

// pooledOffer is one pre-initialized initiator peer awaiting an answer.
type pooledOffer struct {
	id       string
	peer     peer.Peer
	localSDP *sdpFuture
}

// makeOffers builds a fresh announce pool of offerPoolSize initiator
// peers, each capturing its first local description.
func (r *Room) makeOffers() map[string]*pooledOffer {
	pool := make(map[string]*pooledOffer, offerPoolSize)

	for len(pool) < offerPoolSize {
		p, err := r.newPeer(true)
		if err != nil {
			log.Warnf("room %s: init offer peer: %v", r.ns, err)

			break
		}

		offer := &pooledOffer{
			id:       GenID(),
			peer:     p,
			localSDP: newSDPFuture(),
		}

		p.OnSignal(offer.localSDP.resolve)

		pool[offer.id] = offer
	}

	return pool
}

// reapPool destroys every entry of pool that was neither answered nor
// connected and resets the handled-offer set for the next cycle. Connected
// entries were transferred out; handled ones are torn down by their own
// close path.
func (r *Room) reapPool(pool map[string]*pooledOffer) {
	r.mu.Lock()

	doomed := make([]*pooledOffer, 0, len(pool))
	for id, offer := range pool {
		if !r.handledOffers[id] && !r.connectedPeers[id] {
			doomed = append(doomed, offer)
		}
	}

	r.handledOffers = make(map[string]bool)
	r.mu.Unlock()

	for _, offer := range doomed {
		offer.peer.Destroy()
	}
}
