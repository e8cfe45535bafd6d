package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// ErrBadEnvelope is returned by VerifySDP when the signed envelope cannot
// be parsed or carries an unusable key.
var ErrBadEnvelope = errors.New("malformed signed SDP envelope")

// ErrUnverified is returned by VerifySDP when the signature does not check
// out against the embedded key.
var ErrUnverified = errors.New("SDP signature verification failed")

// p384CoordSize is the byte length of a P-384 coordinate and of each half
// of a raw r||s signature.
const p384CoordSize = 48

// signedSDP is the envelope placed in the sdp field of tracker frames. The
// public key travels inside it as a JWK, so verification binds the SDP to
// some key, not to a pre-known identity.
type signedSDP struct {
	SDP       string `json:"sdp"`
	Signature string `json:"signature"`
	Key       jwk    `json:"key"`
}

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// GenerateSigningKey returns a fresh ECDSA P-384 key pair for signing a
// join's local SDPs.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

// SignSDP signs UTF-8(sdp) with ECDSA/SHA-384 and returns the JSON
// envelope {sdp, signature, key}.
func SignSDP(key *ecdsa.PrivateKey, sdp string) (string, error) {
	digest := sha512.Sum384([]byte(sdp))

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return "", errors.Wrap(err, "sign")
	}

	signature := make([]byte, 2*p384CoordSize)
	r.FillBytes(signature[:p384CoordSize])
	s.FillBytes(signature[p384CoordSize:])

	payload, err := json.Marshal(signedSDP{
		SDP:       sdp,
		Signature: base64.StdEncoding.EncodeToString(signature),
		Key:       exportJWK(&key.PublicKey),
	})
	if err != nil {
		return "", err
	}

	return string(payload), nil
}

// VerifySDP parses a signed envelope, imports the embedded key and checks
// the signature. On success it returns the original SDP and the imported
// key so the caller can pin it to the peer.
func VerifySDP(envelope string) (string, *ecdsa.PublicKey, error) {
	var env signedSDP

	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return "", nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}

	signature, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return "", nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}

	if len(signature) != 2*p384CoordSize {
		return "", nil, errors.Wrapf(ErrBadEnvelope, "signature length %d", len(signature))
	}

	key, err := importJWK(env.Key)
	if err != nil {
		return "", nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}

	digest := sha512.Sum384([]byte(env.SDP))

	r := new(big.Int).SetBytes(signature[:p384CoordSize])
	s := new(big.Int).SetBytes(signature[p384CoordSize:])

	if !ecdsa.Verify(key, digest[:], r, s) {
		return "", nil, ErrUnverified
	}

	return env.SDP, key, nil
}

func exportJWK(key *ecdsa.PublicKey) jwk {
	return jwk{
		Kty: "EC",
		Crv: "P-384",
		X:   base64.RawURLEncoding.EncodeToString(key.X.FillBytes(make([]byte, p384CoordSize))),
		Y:   base64.RawURLEncoding.EncodeToString(key.Y.FillBytes(make([]byte, p384CoordSize))),
	}
}

func importJWK(k jwk) (*ecdsa.PublicKey, error) {
	if k.Kty != "EC" || k.Crv != "P-384" {
		return nil, errors.Errorf("unsupported key type %s/%s", k.Kty, k.Crv)
	}

	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, errors.Wrap(err, "decode x")
	}

	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, errors.Wrap(err, "decode y")
	}

	key := &ecdsa.PublicKey{
		Curve: elliptic.P384(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}

	if !key.Curve.IsOnCurve(key.X, key.Y) {
		return nil, errors.New("point not on curve")
	}

	return key, nil
}
