package room

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"trystero-go/pkg/crypto"
	"trystero-go/pkg/log"
	"trystero-go/pkg/peer"
	"trystero-go/pkg/signal"
	"trystero-go/pkg/socket"
)

// handleFrame dispatches one inbound tracker frame for this namespace.
// Frames for other swarms sharing the socket, and this process's own
// announces relayed back, are dropped silently.
func (r *Room) handleFrame(s *socket.Socket, payload []byte) {
	var msg signal.Message

	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warnf("tracker %s: bad frame: %v", s.URL(), err)

		return
	}

	if msg.InfoHash != r.infoHash || msg.PeerID == SelfID {
		return
	}

	if msg.Failure != "" {
		log.Warnf("tracker %s: failure: %s", s.URL(), msg.Failure)

		return
	}

	if msg.Interval > 0 {
		r.adaptInterval(msg.Interval)
	}

	switch {
	case msg.Offer != nil && msg.OfferID != "":
		r.handleRemoteOffer(s, msg)
	case msg.Answer != nil:
		r.handleRemoteAnswer(msg)
	}
}

// handleRemoteOffer answers another participant's pooled offer: it spawns
// a responder peer whose signed answer goes back through the same tracker.
// The de-dup flag is set before verification suspends, so the same offer
// arriving on a redundant tracker is dropped.
func (r *Room) handleRemoteOffer(s *socket.Socket, msg signal.Message) {
	r.mu.Lock()
	if r.closed || r.connectedPeers[msg.PeerID] || r.handledOffers[msg.OfferID] {
		r.mu.Unlock()

		return
	}

	r.handledOffers[msg.OfferID] = true
	r.mu.Unlock()

	p, err := r.newPeer(false)
	if err != nil {
		log.Warnf("room %s: init responder peer: %v", r.ns, err)

		return
	}

	peerID := msg.PeerID
	offerID := msg.OfferID

	p.OnSignal(func(answer webrtc.SessionDescription) {
		signed, err := crypto.SignSDP(r.signingKey, answer.SDP)
		if err != nil {
			log.Error(errors.Wrap(err, "sign answer"))

			return
		}

		frame := signal.Answer{
			Action:   signal.ActionAnnounce,
			InfoHash: r.infoHash,
			PeerID:   SelfID,
			ToPeerID: peerID,
			OfferID:  offerID,
			Answer: webrtc.SessionDescription{
				Type: answer.Type,
				SDP:  signed,
			},
		}

		if err := s.Send(frame); err != nil {
			log.Warnf("tracker %s: send answer: %v", s.URL(), err)
		}
	})
	p.OnConnect(func() { r.onConnect(p, peerID, "") })
	p.OnClose(func() { r.onDisconnect(peerID) })

	sdp, key, err := crypto.VerifySDP(msg.Offer.SDP)
	if err != nil {
		log.Warnf("room %s: offer from %s: %v", r.ns, peerID, err)

		return
	}

	if r.isClosed() {
		p.Destroy()

		return
	}

	p.SetKey(key)

	if err := p.Signal(webrtc.SessionDescription{Type: msg.Offer.Type, SDP: sdp}); err != nil {
		log.Warnf("room %s: signal offer from %s: %v", r.ns, peerID, err)
	}
}

// handleRemoteAnswer signals an incoming answer into the matching pooled
// peer. The offer id is marked handled before verification, so redundant
// trackers relaying the same answer cannot signal the peer twice.
func (r *Room) handleRemoteAnswer(msg signal.Message) {
	r.mu.Lock()
	if r.closed || r.connectedPeers[msg.PeerID] || r.handledOffers[msg.OfferID] {
		r.mu.Unlock()

		return
	}

	offer, ok := r.pool[msg.OfferID]
	if !ok || offer.peer.Destroyed() {
		r.mu.Unlock()

		return
	}

	r.handledOffers[msg.OfferID] = true
	r.mu.Unlock()

	peerID := msg.PeerID
	offerID := msg.OfferID
	p := offer.peer

	p.OnConnect(func() { r.onConnect(p, peerID, offerID) })
	p.OnClose(func() { r.onDisconnect(peerID) })

	sdp, key, err := crypto.VerifySDP(msg.Answer.SDP)
	if err != nil {
		log.Warnf("room %s: answer from %s: %v", r.ns, peerID, err)

		return
	}

	if r.isClosed() {
		return
	}

	p.SetKey(key)

	if err := p.Signal(webrtc.SessionDescription{Type: msg.Answer.Type, SDP: sdp}); err != nil {
		log.Warnf("room %s: signal answer from %s: %v", r.ns, peerID, err)
	}
}

// onConnect records the counterparty and hands the verified peer to the
// upper layer. Marking the offer id as connected keeps reapPool from
// destroying the pooled peer that now carries the connection.
func (r *Room) onConnect(p peer.Peer, peerID, offerID string) {
	r.mu.Lock()
	already := r.connectedPeers[peerID]

	r.connectedPeers[peerID] = true
	if offerID != "" {
		r.connectedPeers[offerID] = true
	}

	cb := r.onPeerConnect
	closed := r.closed
	r.mu.Unlock()

	if already || closed {
		return
	}

	log.Debugf("room %s: peer connected: %s", r.ns, peerID)

	cb(p, peerID)
}

// onDisconnect clears the counterparty so a later announce cycle can
// rediscover it.
func (r *Room) onDisconnect(peerID string) {
	r.mu.Lock()
	delete(r.connectedPeers, peerID)
	r.mu.Unlock()

	log.Debugf("room %s: peer disconnected: %s", r.ns, peerID)
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}
