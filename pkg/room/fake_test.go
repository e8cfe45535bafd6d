package room

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"trystero-go/pkg/peer"
)

// fakePeer stands in for a WebRTC peer: initiators emit a canned offer,
// responders answer the first offer signaled into them. Connection events
// are fired by the test.
type fakePeer struct {
	initiator bool

	mu        sync.Mutex
	destroyed bool
	key       *ecdsa.PublicKey
	signaled  []webrtc.SessionDescription

	localDesc       *webrtc.SessionDescription
	signalDelivered bool
	signalHandler   func(webrtc.SessionDescription)

	connectHandler func()
	closeHandler   func()
}

func newFakePeer(initiator bool, seq int) *fakePeer {
	p := &fakePeer{initiator: initiator}

	if initiator {
		p.localDesc = &webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  fmt.Sprintf("v=0 fake offer %d", seq),
		}
	}

	return p
}

func (p *fakePeer) Signal(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.signaled = append(p.signaled, desc)
	respond := !p.initiator && desc.Type == webrtc.SDPTypeOffer && p.localDesc == nil
	if respond {
		p.localDesc = &webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  "v=0 fake answer",
		}
	}
	h := p.signalHandler
	deliver := respond && h != nil && !p.signalDelivered
	if deliver {
		p.signalDelivered = true
	}
	desc = webrtc.SessionDescription{}
	if p.localDesc != nil {
		desc = *p.localDesc
	}
	p.mu.Unlock()

	if deliver {
		h(desc)
	}

	return nil
}

func (p *fakePeer) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
}

func (p *fakePeer) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.destroyed
}

func (p *fakePeer) OnSignal(h func(webrtc.SessionDescription)) {
	p.mu.Lock()
	p.signalHandler = h
	desc := p.localDesc
	deliver := desc != nil && !p.signalDelivered
	if deliver {
		p.signalDelivered = true
	}
	p.mu.Unlock()

	if deliver {
		h(*desc)
	}
}

func (p *fakePeer) OnConnect(h func()) {
	p.mu.Lock()
	p.connectHandler = h
	p.mu.Unlock()
}

func (p *fakePeer) OnClose(h func()) {
	p.mu.Lock()
	p.closeHandler = h
	p.mu.Unlock()
}

func (p *fakePeer) SetKey(key *ecdsa.PublicKey) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func (p *fakePeer) Key() *ecdsa.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.key
}

func (p *fakePeer) fireConnect() {
	p.mu.Lock()
	h := p.connectHandler
	p.mu.Unlock()

	if h != nil {
		h()
	}
}

func (p *fakePeer) fireClose() {
	p.mu.Lock()
	h := p.closeHandler
	p.mu.Unlock()

	if h != nil {
		h()
	}
}

func (p *fakePeer) signalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.signaled)
}

func (p *fakePeer) lastSignaled() (webrtc.SessionDescription, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.signaled) == 0 {
		return webrtc.SessionDescription{}, false
	}

	return p.signaled[len(p.signaled)-1], true
}

// fakeNetwork is a peer.Factory that records every peer it creates.
type fakeNetwork struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (n *fakeNetwork) factory(initiator bool) (peer.Peer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := newFakePeer(initiator, len(n.peers))
	n.peers = append(n.peers, p)

	return p, nil
}

func (n *fakeNetwork) responders() []*fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []*fakePeer
	for _, p := range n.peers {
		if !p.initiator {
			out = append(out, p)
		}
	}

	return out
}

func (n *fakeNetwork) signaledInitiator() *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, p := range n.peers {
		if p.initiator && p.signalCount() > 0 {
			return p
		}
	}

	return nil
}

// fakeTracker is an in-process WebSocket tracker: it records every frame
// clients send and can push frames back at them.
type fakeTracker struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames chan []byte
}

func newFakeTracker(t *testing.T) *fakeTracker {
	t.Helper()

	ft := &fakeTracker{frames: make(chan []byte, 64)}
	ft.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ft.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ft.mu.Lock()
		ft.conns = append(ft.conns, conn)
		ft.mu.Unlock()

		go func() {
			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}

				ft.frames <- payload
			}
		}()
	}))

	t.Cleanup(ft.server.Close)

	return ft
}

func (ft *fakeTracker) url() string {
	return "ws" + strings.TrimPrefix(ft.server.URL, "http")
}

// push relays a frame to every connected client, the way a tracker
// multicasts offers and answers.
func (ft *fakeTracker) push(t *testing.T, v any) {
	t.Helper()

	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	for _, conn := range ft.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			t.Fatal(err)
		}
	}
}

func (ft *fakeTracker) nextFrame(t *testing.T) []byte {
	t.Helper()

	select {
	case payload := <-ft.frames:
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a tracker frame")

		return nil
	}
}

func (ft *fakeTracker) noFrame(t *testing.T, within time.Duration) {
	t.Helper()

	select {
	case payload := <-ft.frames:
		t.Fatalf("unexpected tracker frame: %s", payload)
	case <-time.After(within):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}
