package secureframe

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/thatsimonsguy/trv-controller/internal/frame"
)

// Encryptor encrypts and authenticates one fixed 32-byte padded block
// with a 12-byte IV and 16-byte key/tag. plaintext may be nil for a
// tag-only (empty body) frame. authtext is authenticated but not
// encrypted. Returns false on any failure; implementations must not
// panic on hostile input.
type Encryptor interface {
	Encrypt(key *[16]byte, iv *[12]byte, authtext, plaintext []byte, ciphertextOut, tagOut []byte) bool
}

// Decryptor reverses Encryptor: authenticates authtext+ciphertext
// against tag and writes the 32-byte plaintext block to plaintextOut.
// ciphertext may be nil for an empty-body frame. Returns false on any
// failure including authentication failure, with no partial plaintext
// exposed.
type Decryptor interface {
	Decrypt(key *[16]byte, iv *[12]byte, authtext, ciphertext, tag []byte, plaintextOut []byte) bool
}

// GCMEncryptor is the production Encryptor, AES-128-GCM from the
// standard library.
type GCMEncryptor struct{}

func (GCMEncryptor) Encrypt(key *[16]byte, iv *[12]byte, authtext, plaintext []byte, ciphertextOut, tagOut []byte) bool {
	if key == nil || iv == nil || authtext == nil || ciphertextOut == nil || tagOut == nil {
		return false
	}
	if plaintext != nil && len(plaintext) != frame.PaddedBodySize {
		return false
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	sealed := aead.Seal(nil, iv[:], plaintext, authtext)
	// Seal output is ciphertext then tag.
	n := len(sealed) - 16
	if plaintext != nil {
		if copy(ciphertextOut, sealed[:n]) != frame.PaddedBodySize {
			return false
		}
	}
	copy(tagOut, sealed[n:])
	return true
}

// GCMDecryptor is the production Decryptor, AES-128-GCM from the
// standard library.
type GCMDecryptor struct{}

func (GCMDecryptor) Decrypt(key *[16]byte, iv *[12]byte, authtext, ciphertext, tag []byte, plaintextOut []byte) bool {
	if key == nil || iv == nil || authtext == nil || tag == nil || plaintextOut == nil {
		return false
	}
	if ciphertext != nil && len(ciphertext) < frame.PaddedBodySize {
		return false
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	var sealed []byte
	if ciphertext != nil {
		sealed = append(sealed, ciphertext[:frame.PaddedBodySize]...)
	}
	sealed = append(sealed, tag[:16]...)
	plain, err := aead.Open(nil, iv[:], sealed, authtext)
	if err != nil {
		return false
	}
	copy(plaintextOut, plain)
	return true
}

// NullEncryptor does not encrypt or authenticate and must never be used
// outside tests. It copies the plaintext through and writes the IV plus
// four zero bytes as the tag, so gross misuse of the pipeline (wrong
// IV, missing tag bytes) still shows up in round-trip tests.
type NullEncryptor struct{ Calls int }

func (e *NullEncryptor) Encrypt(key *[16]byte, iv *[12]byte, authtext, plaintext []byte, ciphertextOut, tagOut []byte) bool {
	e.Calls++
	if key == nil || iv == nil || authtext == nil || ciphertextOut == nil || tagOut == nil {
		return false
	}
	if plaintext != nil {
		copy(ciphertextOut, plaintext[:frame.PaddedBodySize])
	}
	copy(tagOut, iv[:])
	for i := 12; i < 16; i++ {
		tagOut[i] = 0
	}
	return true
}

// NullDecryptor undoes NullEncryptor, verifying only that the tag looks
// plausibly constructed. Test use only.
type NullDecryptor struct{ Calls int }

func (d *NullDecryptor) Decrypt(key *[16]byte, iv *[12]byte, authtext, ciphertext, tag []byte, plaintextOut []byte) bool {
	d.Calls++
	if key == nil || iv == nil || authtext == nil || tag == nil || plaintextOut == nil {
		return false
	}
	if tag[0] != iv[0] || tag[15] != 0 {
		return false
	}
	if ciphertext != nil {
		copy(plaintextOut, ciphertext[:frame.PaddedBodySize])
	}
	return true
}
