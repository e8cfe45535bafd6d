// Package room implements the rendezvous core: joining a namespace through
// a pool of WebTorrent-style WebSocket trackers, exchanging signed SDPs
// with other participants and handing back verified peers.
package room

import (
	"crypto/rand"
	"crypto/sha1"
	"strconv"
	"strings"
)

const (
	libName   = "trystero"
	hashLimit = 20
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// SelfID identifies this process in every swarm it announces to, stable
// for the process lifetime.
var SelfID = GenID()

// InfoHash derives the tracker swarm key for (appID, ns): the first
// hashLimit characters of the SHA-1 digest of "trystero:<appID>:<ns>" with
// each byte rendered in base 36. Deterministic, so independent processes
// with the same inputs land in the same swarm.
func InfoHash(appID, ns string) string {
	sum := sha1.Sum([]byte(libName + ":" + appID + ":" + ns))

	var b strings.Builder
	for _, v := range sum {
		b.WriteString(strconv.FormatUint(uint64(v), 36))
	}

	hash := b.String()
	if len(hash) > hashLimit {
		hash = hash[:hashLimit]
	}

	return hash
}

// GenID returns a fresh random hashLimit-character base-36 token.
func GenID() string {
	payload := make([]byte, hashLimit)
	if _, err := rand.Read(payload); err != nil {
		panic(err)
	}

	for i, v := range payload {
		payload[i] = base36Alphabet[int(v)%len(base36Alphabet)]
	}

	return string(payload)
}
