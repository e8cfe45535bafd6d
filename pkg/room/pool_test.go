package room

import (
	"testing"
)

func testRoom(network *fakeNetwork) *Room {
	return &Room{
		ns:             "test",
		newPeer:        network.factory,
		connectedPeers: make(map[string]bool),
		handledOffers:  make(map[string]bool),
	}
}

func TestMakeOffersFillsPool(t *testing.T) {
	network := &fakeNetwork{}
	r := testRoom(network)

	pool := r.makeOffers()

	if len(pool) != offerPoolSize {
		t.Fatalf("pool size %d, want %d", len(pool), offerPoolSize)
	}

	for id, offer := range pool {
		if offer.id != id {
			t.Fatalf("pool key %q does not match offer id %q", id, offer.id)
		}

		fp := offer.peer.(*fakePeer)
		if !fp.initiator {
			t.Fatal("pooled peer is not an initiator")
		}

		select {
		case <-offer.localSDP.done:
		default:
			t.Fatal("pooled offer has no local description")
		}
	}
}

func TestReapPoolSparesHandledAndConnected(t *testing.T) {
	network := &fakeNetwork{}
	r := testRoom(network)

	pool := r.makeOffers()

	var handled, connected string
	for id := range pool {
		if handled == "" {
			handled = id

			continue
		}

		if connected == "" {
			connected = id
		}
	}

	r.mu.Lock()
	r.handledOffers[handled] = true
	r.connectedPeers[connected] = true
	r.mu.Unlock()

	r.reapPool(pool)

	destroyed := 0
	for id, offer := range pool {
		if offer.peer.Destroyed() {
			destroyed++

			if id == handled || id == connected {
				t.Fatalf("spared offer %q was destroyed", id)
			}
		}
	}

	if destroyed != offerPoolSize-2 {
		t.Fatalf("destroyed %d peers, want %d", destroyed, offerPoolSize-2)
	}

	r.mu.Lock()
	remaining := len(r.handledOffers)
	r.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("handledOffers not reset: %d entries", remaining)
	}
}
