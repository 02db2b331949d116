// Package payload seals tool arguments for transport to the authorization
// service and opens reviewer-patched arguments coming back.
package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt       = "openclaw-salt"
	keyIterations = 100000
	keyLength     = 32
	nonceSize     = 12
	separator     = ":"
)

// DecryptionError reports a blob that could not be opened or parsed.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err == nil {
		return "decrypt payload: " + e.Reason
	}
	return fmt.Sprintf("decrypt payload: %s: %v", e.Reason, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Cipher encrypts JSON values with AES-256-GCM under a key derived from the
// shared secret. The key is derived on first use and reused afterwards; a
// Cipher is safe for concurrent use.
type Cipher struct {
	secret []byte

	once    sync.Once
	aead    cipher.AEAD
	initErr error
}

// NewCipher creates a cipher for the given shared secret.
func NewCipher(secret string) *Cipher {
	return &Cipher{secret: []byte(secret)}
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	c.once.Do(func() {
		if len(c.secret) == 0 {
			c.initErr = fmt.Errorf("payload cipher: empty secret")
			return
		}
		key := pbkdf2.Key(c.secret, []byte(keySalt), keyIterations, keyLength, sha256.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			c.initErr = fmt.Errorf("payload cipher: %w", err)
			return
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			c.initErr = fmt.Errorf("payload cipher: %w", err)
			return
		}
		c.aead = aead
	})
	return c.aead, c.initErr
}

// Encrypt serializes v as JSON and seals it with a fresh random nonce.
// The result is "<base64 nonce>:<base64 ciphertext>".
func (c *Cipher) Encrypt(v any) (string, error) {
	aead, err := c.gcm()
	if err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(nonce) + separator + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt and returns the JSON it carried.
//
// Anything that is not two base64 segments joined by the separator is read
// as plaintext JSON. Payloads written before encryption was introduced look
// like that, and only those are expected on this path; the JSON is still
// validated. JSON text never matches the sealed form because '{', '[' and '"'
// are outside the base64 alphabet.
func (c *Cipher) Decrypt(blob string) (json.RawMessage, error) {
	blob = strings.TrimSpace(blob)
	nonceB64, dataB64, ok := splitSealed(blob)
	if !ok {
		return parseJSON([]byte(blob))
	}

	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, &DecryptionError{Reason: "invalid nonce encoding", Err: err}
	}
	if len(nonce) != nonceSize {
		return nil, &DecryptionError{Reason: fmt.Sprintf("nonce must be %d bytes, got %d", nonceSize, len(nonce))}
	}
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, &DecryptionError{Reason: "invalid ciphertext encoding", Err: err}
	}

	aead, err := c.gcm()
	if err != nil {
		return nil, &DecryptionError{Reason: "key unavailable", Err: err}
	}
	plaintext, err := aead.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return parseJSON(plaintext)
}

// IsSealed reports whether blob has the shape produced by Encrypt.
func IsSealed(blob string) bool {
	_, _, ok := splitSealed(strings.TrimSpace(blob))
	return ok
}

func splitSealed(blob string) (string, string, bool) {
	nonce, data, found := strings.Cut(blob, separator)
	if !found || nonce == "" || data == "" {
		return "", "", false
	}
	if !isBase64(nonce) || !isBase64(data) {
		return "", "", false
	}
	return nonce, data, true
}

func isBase64(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=':
		default:
			return false
		}
	}
	return true
}

func parseJSON(data []byte) (json.RawMessage, error) {
	if !json.Valid(data) {
		return nil, &DecryptionError{Reason: "plaintext is not valid JSON"}
	}
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out, nil
}
