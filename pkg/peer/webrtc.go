package peer

import (
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"trystero-go/pkg/log"
)

// WebRTC implements Peer on a pion peer connection. SDPs are non-trickle:
// the local description is emitted once, after ICE gathering completes, so
// a single offer/answer round trip through the tracker suffices.
type WebRTC struct {
	conn      *webrtc.PeerConnection
	initiator bool

	mu          sync.Mutex
	dataChannel datachannel.ReadWriteCloser
	key         *ecdsa.PublicKey
	destroyed   bool

	localDesc       *webrtc.SessionDescription
	signalDelivered bool
	signalHandler   func(webrtc.SessionDescription)

	connected      bool
	connectFired   bool
	connectHandler func()

	peerClosed   bool
	closeFired   bool
	closeHandler func()
}

type WebRTCConfig struct {
	Initiator bool
	RTC       webrtc.Configuration
}

func NewWebRTC(cfg WebRTCConfig) (*WebRTC, error) {
	settings := webrtc.SettingEngine{}

	settings.DetachDataChannels()
	settings.SetICETimeouts(15*time.Minute, 25*time.Second, 2*time.Second)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	conn, err := api.NewPeerConnection(cfg.RTC)
	if err != nil {
		return nil, err
	}

	p := &WebRTC{
		conn:      conn,
		initiator: cfg.Initiator,
	}

	conn.OnConnectionStateChange(p.onConnStateChange)

	if cfg.Initiator {
		dataChannel, err := conn.CreateDataChannel("data", nil)
		if err != nil {
			conn.Close()

			return nil, err
		}

		p.registerDataChannel(dataChannel)

		go func() {
			if err := p.offer(); err != nil {
				log.Error(errors.Wrap(err, "create offer"))
			}
		}()
	} else {
		conn.OnDataChannel(p.registerDataChannel)
	}

	return p, nil
}

func (p *WebRTC) Signal(desc webrtc.SessionDescription) error {
	if p.Destroyed() {
		return errors.New("peer destroyed")
	}

	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return errors.Wrap(err, "set remote description")
	}

	if desc.Type == webrtc.SDPTypeOffer {
		go func() {
			if err := p.answer(); err != nil {
				log.Error(errors.Wrap(err, "create answer"))
			}
		}()
	}

	return nil
}

func (p *WebRTC) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()

		return
	}
	p.destroyed = true
	p.mu.Unlock()

	if err := p.conn.Close(); err != nil {
		log.Error(err)
	}
}

func (p *WebRTC) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.destroyed
}

func (p *WebRTC) OnSignal(h func(webrtc.SessionDescription)) {
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

func (p *WebRTC) OnConnect(h func()) {
	p.mu.Lock()
	p.connectHandler = h

	fire := p.connected && !p.connectFired
	if fire {
		p.connectFired = true
	}
	p.mu.Unlock()

	if fire {
		h()
	}
}

func (p *WebRTC) OnClose(h func()) {
	p.mu.Lock()
	p.closeHandler = h

	fire := p.peerClosed && !p.closeFired
	if fire {
		p.closeFired = true
	}
	p.mu.Unlock()

	if fire {
		h()
	}
}

func (p *WebRTC) SetKey(key *ecdsa.PublicKey) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func (p *WebRTC) Key() *ecdsa.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.key
}

// Read reads from the detached data channel once the connection is
// established.
func (p *WebRTC) Read(payload []byte) (int, error) {
	dc, err := p.channel()
	if err != nil {
		return 0, err
	}

	return dc.Read(payload)
}

func (p *WebRTC) Write(payload []byte) (int, error) {
	dc, err := p.channel()
	if err != nil {
		return 0, err
	}

	return dc.Write(payload)
}

func (p *WebRTC) channel() (datachannel.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dataChannel == nil {
		return nil, errors.New("data channel not open")
	}

	return p.dataChannel, nil
}

func (p *WebRTC) offer() error {
	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return err
	}

	return p.gatherAndEmit(offer)
}

func (p *WebRTC) answer() error {
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return err
	}

	return p.gatherAndEmit(answer)
}

func (p *WebRTC) gatherAndEmit(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(p.conn)

	if err := p.conn.SetLocalDescription(desc); err != nil {
		return err
	}

	// gathering never completes on a connection destroyed mid-gather
	select {
	case <-gathered:
	case <-time.After(30 * time.Second):
	}

	local := p.conn.LocalDescription()
	if local == nil {
		return errors.New("no local description after gathering")
	}

	p.emitSignal(*local)

	return nil
}

func (p *WebRTC) emitSignal(desc webrtc.SessionDescription) {
	p.mu.Lock()
	if p.destroyed || p.localDesc != nil {
		p.mu.Unlock()

		return
	}

	p.localDesc = &desc

	h := p.signalHandler
	if h != nil {
		p.signalDelivered = true
	}
	p.mu.Unlock()

	if h != nil {
		h(desc)
	}
}

func (p *WebRTC) registerDataChannel(channel *webrtc.DataChannel) {
	channel.OnOpen(func() {
		raw, err := channel.Detach()
		if err != nil {
			log.Error(err)

			return
		}

		p.mu.Lock()
		p.dataChannel = raw
		p.connected = true

		h := p.connectHandler
		if h != nil {
			p.connectFired = true
		}
		p.mu.Unlock()

		if h != nil {
			h()
		}
	})
}

func (p *WebRTC) onConnStateChange(state webrtc.PeerConnectionState) {
	log.Debugf("peer connection state changed: %s", state)

	if state == webrtc.PeerConnectionStateDisconnected ||
		state == webrtc.PeerConnectionStateFailed ||
		state == webrtc.PeerConnectionStateClosed {
		p.emitClose()
	}
}

func (p *WebRTC) emitClose() {
	p.mu.Lock()
	if p.peerClosed {
		p.mu.Unlock()

		return
	}

	p.peerClosed = true

	h := p.closeHandler
	if h != nil {
		p.closeFired = true
	}
	p.mu.Unlock()

	if h != nil {
		h()
	}
}
