// Package socket owns the process-wide tracker WebSocket connections. One
// socket exists per tracker URL and is shared by every namespace announcing
// to it; inbound frames fan out to the per-infohash listeners, which
// self-filter frames that belong to other swarms.
package socket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"trystero-go/pkg/log"
)

// ErrNotOpen is returned by Send when the underlying connection is gone.
var ErrNotOpen = errors.New("tracker socket is not open")

// Handler consumes raw frames delivered on a tracker socket.
type Handler func(s *Socket, payload []byte)

type State int

const (
	Connecting State = iota
	Open
	Closed
)

// Socket is a single long-lived tracker connection.
type Socket struct {
	url   string
	ready chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	dialErr   error
	closed    bool
	listeners map[string]Handler
}

// Registry maps tracker URLs to their sockets. It performs no reconnection
// on its own; the announce loop force-reopens stale sockets.
type Registry struct {
	mu      sync.Mutex
	sockets map[string]*Socket
}

func NewRegistry() *Registry {
	return &Registry{sockets: make(map[string]*Socket)}
}

// GetSocket returns the socket for url, dialing one first if none exists or
// force is set, and registers handler under infoHash. A force-opened socket
// inherits the listeners of the socket it replaces, so other namespaces
// sharing the URL keep receiving frames. The call blocks until the dial
// settles or ctx is done.
func (r *Registry) GetSocket(ctx context.Context, url, infoHash string, handler Handler, force bool) (*Socket, error) {
	r.mu.Lock()

	s, ok := r.sockets[url]
	if !ok || force {
		var inherited map[string]Handler
		if ok {
			inherited = s.snapshotListeners()
		}

		s = newSocket(url, inherited)
		r.sockets[url] = s

		go s.dial()
	}

	s.addListener(infoHash, handler)
	r.mu.Unlock()

	select {
	case <-s.ready:
	case <-ctx.Done():
		return s, ctx.Err()
	}

	return s, s.err()
}

// ReleaseListener detaches a namespace from the URL's socket. The socket
// itself stays open; other namespaces may share it.
func (r *Registry) ReleaseListener(url, infoHash string) {
	r.mu.Lock()
	s := r.sockets[url]
	r.mu.Unlock()

	if s == nil {
		return
	}

	s.removeListener(infoHash)
}

func newSocket(url string, inherited map[string]Handler) *Socket {
	listeners := make(map[string]Handler, len(inherited))
	for infoHash, h := range inherited {
		listeners[infoHash] = h
	}

	return &Socket{
		url:       url,
		ready:     make(chan struct{}),
		listeners: listeners,
	}
}

func (s *Socket) URL() string {
	return s.url
}

func (s *Socket) State() State {
	select {
	case <-s.ready:
	default:
		return Connecting
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.conn == nil {
		return Closed
	}

	return Open
}

// Send marshals v and writes it as a single text frame. Writes are
// serialized; gorilla connections allow one concurrent writer.
func (s *Socket) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.closed {
		return ErrNotOpen
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.closed = true

		return err
	}

	return nil
}

func (s *Socket) dial() {
	conn, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil && resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s.mu.Lock()
	if err != nil {
		s.dialErr = err
		s.closed = true
	} else {
		s.conn = conn
	}
	s.mu.Unlock()

	close(s.ready)

	if err != nil {
		log.Warnf("tracker %s: dial: %v", s.url, err)

		return
	}

	s.readLoop(conn)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()

			log.Debugf("tracker %s: read: %v", s.url, err)

			return
		}

		for _, h := range s.snapshotListeners() {
			h(s, payload)
		}
	}
}

func (s *Socket) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dialErr
}

func (s *Socket) addListener(infoHash string, h Handler) {
	s.mu.Lock()
	s.listeners[infoHash] = h
	s.mu.Unlock()
}

func (s *Socket) removeListener(infoHash string) {
	s.mu.Lock()
	delete(s.listeners, infoHash)
	s.mu.Unlock()
}

func (s *Socket) snapshotListeners() map[string]Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Handler, len(s.listeners))
	for infoHash, h := range s.listeners {
		out[infoHash] = h
	}

	return out
}
