// Package encryption protects archived theme content before it leaves the
// primary database for the vault. Archive objects are encrypted with an
// X25519 age key pair: the public key encrypts during the retention sweep
// without any passphrase, the private key is passphrase-protected and only
// unlocked for restores from the archive.
package encryption

import "io"

// Encryptor encrypts archive objects and manages the key pair.
type Encryptor interface {
	// Setup generates and stores a new key pair protected by passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w. Requires
	// only the public key.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key with the passphrase and returns a
	// context that can decrypt archive objects.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether a key pair is in place.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	// Decrypt reads ciphertext from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
