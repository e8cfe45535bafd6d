package internal

import (
	"bufio"
	"context"
	"io"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"

	"trystero-go/pkg/crypto"
	"trystero-go/pkg/log"
	"trystero-go/pkg/peer"
	"trystero-go/pkg/room"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

type App struct {
	appID       string
	namespace   string
	password    string
	trackerURLs []string
	stunServers []string

	instanceUUID string

	cipher *crypto.RoomCipher
	room   *room.Room

	peersMx sync.Mutex
	peers   map[string]io.ReadWriter
}

func NewApp() *App {
	return &App{
		instanceUUID: uuid.New().String(),
		peers:        make(map[string]io.ReadWriter),
	}
}

func (a *App) Setup() (err error) {
	a.parseCmdline()

	if a.password != "" {
		a.cipher, err = crypto.NewRoomCipher(a.password, a.namespace)
		if err != nil {
			return errors.Wrap(err, "room cipher")
		}
	}

	signingKey, err := crypto.GenerateSigningKey()
	if err != nil {
		return errors.Wrap(err, "signing key")
	}

	ice := make([]webrtc.ICEServer, len(a.stunServers))
	for i, stun := range a.stunServers {
		ice[i] = webrtc.ICEServer{
			URLs: []string{"stun:" + stun},
		}
	}

	a.room, err = room.JoinRoom(room.Config{
		AppID:       a.appID,
		Password:    a.password,
		TrackerURLs: a.trackerURLs,
		RTCConfig:   webrtc.Configuration{ICEServers: ice},
		SigningKey:  signingKey,
	}, a.namespace)
	if err != nil {
		return errors.Wrap(err, "join room")
	}

	return nil
}

func (a *App) Run(ctx context.Context, cancel context.CancelFunc) error {
	log.Infof("Joining %s/%s as %s, Instance UUID: %s", a.appID, a.namespace, room.SelfID, a.instanceUUID)
	defer log.Info("Left room")

	a.listenOS(cancel)

	a.room.OnPeerJoin(func(p peer.Peer, peerID string) {
		log.Infof("peer joined: %s", peerID)

		rw, ok := p.(io.ReadWriter)
		if !ok {
			return
		}

		a.peersMx.Lock()
		a.peers[peerID] = rw
		a.peersMx.Unlock()

		go a.readPeer(peerID, rw)
	})

	go a.readStdin()

	<-ctx.Done()

	a.room.Leave()

	return nil
}

func (a *App) parseCmdline() {
	pflag.StringVarP(&a.appID, "appid", "a", "trystero-chat", "Application ID shared by peers that should discover each other")
	pflag.StringVarP(&a.namespace, "room", "r", "lobby", "Room namespace to join")
	pflag.StringVarP(&a.password, "password", "p", "", "Optional room password used to encrypt chat payloads")
	pflag.StringSliceVarP(&a.trackerURLs, "tracker", "t", nil, "List of tracker URLs (defaults to well-known WebTorrent trackers)")
	pflag.StringSliceVarP(&a.stunServers, "stun", "S", []string{"stun.l.google.com:19302"}, "List of used STUN servers")

	pflag.Parse()
}

func (a *App) readPeer(peerID string, r io.Reader) {
	buf := make([]byte, 64*1024)

	for {
		n, err := r.Read(buf)
		if err != nil {
			a.dropPeer(peerID)

			return
		}

		line, err := a.decode(buf[:n])
		if err != nil {
			log.Warnf("peer %s: %v", peerID, err)

			continue
		}

		log.Infof("<%s> %s", peerID, line)
	}
}

func (a *App) readStdin() {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		payload, err := a.encode(scanner.Bytes())
		if err != nil {
			log.Error(err)

			continue
		}

		a.broadcast(payload)
	}
}

func (a *App) broadcast(payload []byte) {
	a.peersMx.Lock()
	peers := make(map[string]io.ReadWriter, len(a.peers))
	for id, rw := range a.peers {
		peers[id] = rw
	}
	a.peersMx.Unlock()

	for id, rw := range peers {
		if _, err := rw.Write(payload); err != nil {
			log.Warnf("peer %s: write: %v", id, err)
		}
	}
}

func (a *App) dropPeer(peerID string) {
	a.peersMx.Lock()
	delete(a.peers, peerID)
	a.peersMx.Unlock()

	log.Infof("peer left: %s", peerID)
}

func (a *App) encode(line []byte) ([]byte, error) {
	if a.cipher == nil {
		return append([]byte(nil), line...), nil
	}

	envelope, err := a.cipher.Encrypt(line)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt")
	}

	return []byte(envelope), nil
}

func (a *App) decode(payload []byte) (string, error) {
	if a.cipher == nil {
		return string(payload), nil
	}

	plaintext, err := a.cipher.Decrypt(string(payload))
	if err != nil {
		return "", errors.Wrap(err, "decrypt")
	}

	return string(plaintext), nil
}

func (a *App) listenOS(cancel context.CancelFunc) {
	sigchan := make(chan os.Signal, 1)
	ossignal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigchan
		cancel()
	}()
}
