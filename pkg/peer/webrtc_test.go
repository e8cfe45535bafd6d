package peer

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
)

func TestInitiatorEmitsOneOffer(t *testing.T) {
	p, err := NewWebRTC(WebRTCConfig{Initiator: true})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	descs := make(chan webrtc.SessionDescription, 2)
	p.OnSignal(func(desc webrtc.SessionDescription) {
		descs <- desc
	})

	select {
	case desc := <-descs:
		if desc.Type != webrtc.SDPTypeOffer {
			t.Fatalf("local description type %v, want offer", desc.Type)
		}

		if desc.SDP == "" {
			t.Fatal("empty local description")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("initiator never emitted its offer")
	}

	select {
	case <-descs:
		t.Fatal("initiator emitted a second local description")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLateSignalHandlerStillFires(t *testing.T) {
	p, err := NewWebRTC(WebRTCConfig{Initiator: true})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	// wait until the offer exists before registering the handler
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		ready := p.localDesc != nil
		p.mu.Unlock()

		if ready {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	descs := make(chan webrtc.SessionDescription, 1)
	p.OnSignal(func(desc webrtc.SessionDescription) {
		descs <- desc
	})

	select {
	case <-descs:
	case <-time.After(time.Second):
		t.Fatal("late-registered handler never received the offer")
	}
}

func TestHandshakeOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("needs UDP loopback")
	}

	a, err := NewWebRTC(WebRTCConfig{Initiator: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	b, err := NewWebRTC(WebRTCConfig{Initiator: false})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()

	aConnected := make(chan struct{})
	bConnected := make(chan struct{})
	a.OnConnect(func() { close(aConnected) })
	b.OnConnect(func() { close(bConnected) })

	answers := make(chan webrtc.SessionDescription, 1)
	b.OnSignal(func(desc webrtc.SessionDescription) {
		answers <- desc
	})

	offers := make(chan webrtc.SessionDescription, 1)
	a.OnSignal(func(desc webrtc.SessionDescription) {
		offers <- desc
	})

	select {
	case offer := <-offers:
		if err := b.Signal(offer); err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no offer from initiator")
	}

	select {
	case answer := <-answers:
		if err := a.Signal(answer); err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no answer from responder")
	}

	for _, connected := range []chan struct{}{aConnected, bConnected} {
		select {
		case <-connected:
		case <-time.After(30 * time.Second):
			t.Fatal("peers never connected")
		}
	}

	want := []byte("ping over the mesh")
	if _, err := a.Write(want); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 1024)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatal(err)
	}

	if string(buf[:n]) != string(want) {
		t.Fatalf("read %q, want %q", buf[:n], want)
	}
}
