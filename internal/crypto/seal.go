package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/scrypt"
)

// ErrOpen is returned when a sealed value cannot be authenticated, usually
// because it was sealed under another passphrase.
var ErrOpen = errors.New("sealed value cannot be opened")

// Sealer encrypts values at rest with AES-GCM under a passphrase-derived key.
type Sealer struct {
	gcm cipher.AEAD
}

type sealed struct {
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// NewSealer derives the key with scrypt. An empty passphrase yields a nil
// Sealer, which passes values through unchanged.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, nil
	}
	salt := sha256.Sum256([]byte("direct-chat/session:" + passphrase))
	key, err := scrypt.Key([]byte(passphrase), salt[:], 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext; the name is bound as associated data so a value
// cannot be moved to another key.
func (s *Sealer) Seal(name string, plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(sealed{
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(s.gcm.Seal(nil, nonce, plaintext, []byte(name))),
	})
}

// Open reverses Seal.
func (s *Sealer) Open(name string, payload []byte) ([]byte, error) {
	if s == nil {
		return payload, nil
	}
	var env sealed
	if err := json.Unmarshal(payload, &env); err != nil || env.Nonce == "" {
		return nil, ErrOpen
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != s.gcm.NonceSize() {
		return nil, ErrOpen
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, ErrOpen
	}
	plain, err := s.gcm.Open(nil, nonce, data, []byte(name))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
