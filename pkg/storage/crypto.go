package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// deriveKey derives the sample encryption key from machine identity, so an
// encrypted corpus copied to another host cannot be read there.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("rollcall-samples-v1")

	return sha256.Sum256([]byte(identity.String()))
}

// seal encrypts data using NaCl secretbox. The nonce is prepended.
func seal(key *[KeySize]byte, plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// open reverses seal.
func open(key *[KeySize]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
