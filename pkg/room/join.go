package room

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"trystero-go/pkg/peer"
	"trystero-go/pkg/signal"
	"trystero-go/pkg/socket"
)

// DefaultTrackerURLs are the well-known public WebTorrent trackers used
// when the caller configures none.
var DefaultTrackerURLs = []string{
	"wss://tracker.openwebtorrent.com",
	"wss://tracker.btorrent.xyz",
	"wss://tracker.fastcast.nz",
	"wss://tracker.files.fm:7073/announce",
}

const defaultTrackerRedundancy = 2

var (
	occupiedMu    sync.Mutex
	occupiedRooms = make(map[string]bool)

	defaultRegistry = socket.NewRegistry()
)

type Config struct {
	// AppID scopes namespaces so unrelated applications sharing a tracker
	// never meet.
	AppID string

	// Password is the optional room password consumed by upper layers via
	// crypto.NewRoomCipher; the signaling core does not use it.
	Password string

	// TrackerURLs overrides the default tracker set. When nil, the
	// defaults are trimmed to TrackerRedundancy.
	TrackerURLs       []string
	TrackerRedundancy int

	RTCConfig webrtc.Configuration

	// SigningKey signs this join's local SDPs. Required; generated
	// externally (see crypto.GenerateSigningKey).
	SigningKey *ecdsa.PrivateKey

	// PeerFactory overrides how peers are created; nil means pion-backed
	// peers configured with RTCConfig.
	PeerFactory peer.Factory

	// Registry overrides the process-wide tracker socket registry.
	Registry *socket.Registry
}

// Room is the handle returned by JoinRoom: install the peer callback with
// OnPeerJoin, tear the join down with Leave.
type Room struct {
	ns          string
	infoHash    string
	trackerURLs []string
	signingKey  *ecdsa.PrivateKey
	registry    *socket.Registry
	newPeer     peer.Factory

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer

	mu             sync.Mutex
	closed         bool
	announceSecs   int
	pool           map[string]*pooledOffer
	connectedPeers map[string]bool
	handledOffers  map[string]bool
	onPeerConnect  func(peer.Peer, string)

	leaveOnce sync.Once
}

// JoinRoom starts announcing the namespace to the configured trackers and
// returns its handle. The first announce fires immediately. A namespace
// can be joined once per process until its Leave.
func JoinRoom(cfg Config, ns string) (*Room, error) {
	if cfg.AppID == "" {
		return nil, errors.New("app id is required")
	}

	if cfg.SigningKey == nil {
		return nil, errors.New("signing key is required")
	}

	urls := cfg.TrackerURLs
	if cfg.TrackerURLs == nil {
		redundancy := cfg.TrackerRedundancy
		if redundancy <= 0 {
			redundancy = defaultTrackerRedundancy
		}
		if redundancy > len(DefaultTrackerURLs) {
			redundancy = len(DefaultTrackerURLs)
		}

		urls = DefaultTrackerURLs[:redundancy]
	}

	if len(urls) == 0 {
		return nil, signal.ErrEmptyTrackers
	}

	occupiedMu.Lock()
	if occupiedRooms[ns] {
		occupiedMu.Unlock()

		return nil, errors.Wrapf(signal.ErrAlreadyJoined, "namespace %q", ns)
	}
	occupiedRooms[ns] = true
	occupiedMu.Unlock()

	registry := cfg.Registry
	if registry == nil {
		registry = defaultRegistry
	}

	factory := cfg.PeerFactory
	if factory == nil {
		rtcConfig := cfg.RTCConfig
		factory = func(initiator bool) (peer.Peer, error) {
			return peer.NewWebRTC(peer.WebRTCConfig{
				Initiator: initiator,
				RTC:       rtcConfig,
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Room{
		ns:             ns,
		infoHash:       InfoHash(cfg.AppID, ns),
		trackerURLs:    append([]string(nil), urls...),
		signingKey:     cfg.SigningKey,
		registry:       registry,
		newPeer:        factory,
		ctx:            ctx,
		cancel:         cancel,
		timer:          time.NewTimer(defaultAnnounceSecs * time.Second),
		announceSecs:   defaultAnnounceSecs,
		connectedPeers: make(map[string]bool),
		handledOffers:  make(map[string]bool),
		onPeerConnect:  func(peer.Peer, string) {},
	}

	go r.run()

	return r, nil
}

// OnPeerJoin installs the callback receiving each verified peer as it
// connects. The callback defaults to a no-op: peers that connect before it
// is installed are dropped, not replayed.
func (r *Room) OnPeerJoin(cb func(p peer.Peer, peerID string)) {
	r.mu.Lock()
	r.onPeerConnect = cb
	r.mu.Unlock()
}

// InfoHash returns the swarm key this join announces under.
func (r *Room) InfoHash() string {
	return r.infoHash
}

// Leave stops announcing, detaches this namespace from every tracker
// socket and reaps the offer pool. Tracker sockets stay open for other
// namespaces. Leave is idempotent; in-flight verifications resolve without
// signaling their peers.
func (r *Room) Leave() {
	r.leaveOnce.Do(func() {
		r.cancel()
		r.timer.Stop()

		for _, url := range r.trackerURLs {
			r.registry.ReleaseListener(url, r.infoHash)
		}

		occupiedMu.Lock()
		delete(occupiedRooms, r.ns)
		occupiedMu.Unlock()

		r.mu.Lock()
		r.closed = true
		pool := r.pool
		r.pool = nil
		r.mu.Unlock()

		r.reapPool(pool)
	})
}
