// Package signal defines the JSON frames exchanged with WebTorrent-style
// WebSocket trackers and the sentinel errors of the rendezvous core.
package signal

import (
	"github.com/pion/webrtc/v3"
)

const ActionAnnounce = "announce"

// AnnounceOffer pairs a pooled offer id with its signed session
// description.
type AnnounceOffer struct {
	OfferID string                    `json:"offer_id"`
	Offer   webrtc.SessionDescription `json:"offer"`
}

// Announce is the periodic outbound frame advertising the offer pool to a
// tracker.
type Announce struct {
	Action   string          `json:"action"`
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	NumWant  int             `json:"numwant"`
	Offers   []AnnounceOffer `json:"offers"`
}

// Answer is the outbound reply to a remote peer's offer, relayed by the
// tracker to its sender.
type Answer struct {
	Action   string                    `json:"action"`
	InfoHash string                    `json:"info_hash"`
	PeerID   string                    `json:"peer_id"`
	ToPeerID string                    `json:"to_peer_id"`
	OfferID  string                    `json:"offer_id"`
	Answer   webrtc.SessionDescription `json:"answer"`
}

// Message is the union of inbound tracker frame shapes: relayed offers and
// answers, interval hints and failure reports.
type Message struct {
	InfoHash string                     `json:"info_hash"`
	PeerID   string                     `json:"peer_id"`
	OfferID  string                     `json:"offer_id"`
	Offer    *webrtc.SessionDescription `json:"offer"`
	Answer   *webrtc.SessionDescription `json:"answer"`
	Interval int                        `json:"interval"`
	Failure  string                     `json:"failure reason"`
}
