package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/zenazn/pkcs7pad"
)

// RoomCipher encrypts room payloads with an AES-256-CBC key derived from
// the room password and namespace. Each Encrypt call draws a fresh random
// IV, so equal plaintexts produce distinct envelopes.
type RoomCipher struct {
	cipher cipher.Block
}

type cipherEnvelope struct {
	C  string    `json:"c"`
	IV byteArray `json:"iv"`
}

// byteArray marshals as a JSON array of numbers rather than a base64
// string, keeping the envelope readable by browser peers.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}

	return json.Marshal(out)
}

func (b *byteArray) UnmarshalJSON(payload []byte) error {
	var raw []int

	if err := json.Unmarshal(payload, &raw); err != nil {
		return err
	}

	*b = make([]byte, len(raw))

	for i, v := range raw {
		if v < 0 || v > 255 {
			return errors.Errorf("IV byte out of range: %d", v)
		}

		(*b)[i] = byte(v)
	}

	return nil
}

// NewRoomCipher derives the key as SHA-256 over "<password>:<ns>".
func NewRoomCipher(password, ns string) (*RoomCipher, error) {
	key := sha256.Sum256([]byte(password + ":" + ns))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	return &RoomCipher{cipher: block}, nil
}

func (c *RoomCipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7pad.Pad(plaintext, c.cipher.BlockSize())
	encrypted := make([]byte, len(padded))

	cipher.NewCBCEncrypter(c.cipher, iv).CryptBlocks(encrypted, padded)

	payload, err := json.Marshal(cipherEnvelope{
		C:  base64.StdEncoding.EncodeToString(encrypted),
		IV: iv,
	})
	if err != nil {
		return "", err
	}

	return string(payload), nil
}

func (c *RoomCipher) Decrypt(payload string) ([]byte, error) {
	var env cipherEnvelope

	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, errors.Wrap(err, "parse envelope")
	}

	encrypted, err := base64.StdEncoding.DecodeString(env.C)
	if err != nil {
		return nil, errors.Wrap(err, "decode ciphertext")
	}

	if len(env.IV) != aes.BlockSize {
		return nil, errors.Errorf("bad IV length: %d", len(env.IV))
	}

	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, errors.Errorf("bad ciphertext length: %d", len(encrypted))
	}

	decrypted := make([]byte, len(encrypted))

	cipher.NewCBCDecrypter(c.cipher, env.IV).CryptBlocks(decrypted, encrypted)

	return pkcs7pad.Unpad(decrypted)
}
