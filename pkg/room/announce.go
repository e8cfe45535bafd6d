package room

import (
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"trystero-go/pkg/crypto"
	"trystero-go/pkg/log"
	"trystero-go/pkg/signal"
	"trystero-go/pkg/socket"
)

const (
	defaultAnnounceSecs = 33
	maxAnnounceSecs     = 120
	numWant             = 10
)

// run drives the announce cycle until the room is left. The first announce
// fires immediately; later ones follow the (possibly tracker-adapted)
// interval.
func (r *Room) run() {
	r.announceAll()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.timer.C:
			r.announceAll()
			r.resetTimer()
		}
	}
}

func (r *Room) resetTimer() {
	r.mu.Lock()
	secs := r.announceSecs
	r.mu.Unlock()

	r.timer.Reset(time.Duration(secs) * time.Second)
}

// adaptInterval adopts a tracker's interval hint. The interval only ever
// grows, bounded by maxAnnounceSecs; hints below the current value or
// above the cap are ignored.
func (r *Room) adaptInterval(secs int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if secs <= r.announceSecs || secs > maxAnnounceSecs {
		return
	}

	r.announceSecs = secs

	r.timer.Stop()
	r.timer.Reset(time.Duration(secs) * time.Second)

	log.Debugf("room %s: announce interval set to %ds", r.ns, secs)
}

// announceAll rebuilds the offer pool and publishes it to every tracker.
// The pool swap happens under the join lock so overlapping ticks never
// reap each other's peers.
func (r *Room) announceAll() {
	pool := r.makeOffers()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		for _, offer := range pool {
			offer.peer.Destroy()
		}

		return
	}

	old := r.pool
	r.pool = pool
	r.mu.Unlock()

	if old != nil {
		r.reapPool(old)
	}

	offers, err := r.signedOffers(pool)
	if err != nil {
		// the join was left while waiting on local descriptions
		return
	}

	announce := signal.Announce{
		Action:   signal.ActionAnnounce,
		InfoHash: r.infoHash,
		PeerID:   SelfID,
		NumWant:  numWant,
		Offers:   offers,
	}

	for _, url := range r.trackerURLs {
		r.announceTo(url, announce)
	}
}

// signedOffers waits for every pooled peer's local description and wraps
// each in a signed envelope.
func (r *Room) signedOffers(pool map[string]*pooledOffer) ([]signal.AnnounceOffer, error) {
	offers := make([]signal.AnnounceOffer, 0, len(pool))

	for _, offer := range pool {
		desc, err := offer.localSDP.wait(r.ctx)
		if err != nil {
			return nil, err
		}

		signed, err := crypto.SignSDP(r.signingKey, desc.SDP)
		if err != nil {
			return nil, errors.Wrap(err, "sign offer")
		}

		offers = append(offers, signal.AnnounceOffer{
			OfferID: offer.id,
			Offer: webrtc.SessionDescription{
				Type: desc.Type,
				SDP:  signed,
			},
		})
	}

	return offers, nil
}

// announceTo publishes the announce frame on one tracker socket. A socket
// that is neither open nor connecting is force-reopened once this tick;
// one still connecting is skipped until the next tick.
func (r *Room) announceTo(url string, announce signal.Announce) {
	s, err := r.registry.GetSocket(r.ctx, url, r.infoHash, r.handleFrame, false)
	if err != nil {
		log.Warnf("tracker %s: %v", url, err)
	}

	switch s.State() {
	case socket.Open:
		if err := s.Send(announce); err != nil {
			log.Warnf("tracker %s: announce: %v", url, err)
		}
	case socket.Connecting:
		// GetSocket returned before the dial settled because the join was
		// left; nothing is sent
	default:
		s, err = r.registry.GetSocket(r.ctx, url, r.infoHash, r.handleFrame, true)
		if err != nil {
			log.Warnf("tracker %s: reopen: %v", url, err)

			return
		}

		if err := s.Send(announce); err != nil {
			log.Warnf("tracker %s: announce: %v", url, err)
		}
	}
}
