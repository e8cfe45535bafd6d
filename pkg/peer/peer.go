package peer

import (
	"crypto/ecdsa"

	"github.com/pion/webrtc/v3"
)

// Peer is the signaling surface the rendezvous core drives. A Peer is
// created either as the initiator of a connection (it produces an offer
// and waits for an answer) or as a responder (it answers the first remote
// offer signaled into it).
//
// A handler registered after its event already happened fires immediately;
// each event is delivered at most once.
type Peer interface {
	// Signal feeds a remote session description into the connection.
	Signal(desc webrtc.SessionDescription) error

	Destroy()
	Destroyed() bool

	// OnSignal fires exactly once, with the complete local description.
	OnSignal(func(webrtc.SessionDescription))
	OnConnect(func())
	OnClose(func())

	// SetKey pins the counterparty's verified public key; Key returns it,
	// or nil before verification.
	SetKey(*ecdsa.PublicKey)
	Key() *ecdsa.PublicKey
}

// Factory creates Peers for a join: one per pooled offer and one per
// remote offer answered.
type Factory func(initiator bool) (Peer, error)
