// Package seal wraps filippo.io/age as the public-key capability the chat
// core depends on: parse and unlock private keys, encrypt a message for one
// recipient's public key, and open ciphertext addressed to the local key.
//
// Keys are age x25519 keys. A passphrase-protected private key is the
// standard age form: the secret key wrapped in a passphrase-encrypted
// armored file, as produced by age-keygen with a passphrase (or by
// [Protect]). Ciphertext is armored so it can live in JSON document fields.
package seal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

var (
	ErrMalformedKey     = errors.New("malformed key")
	ErrWrongPassphrase  = errors.New("wrong passphrase")
	ErrEncryptionFailed = errors.New("encryption failed")
)

// PrivateKey is an opaque handle to a parsed private key. A key parsed from
// a passphrase-protected file reports Unlocked() == false until Unlock
// succeeds.
type PrivateKey interface {
	Unlocked() bool
}

// Cipher is the capability interface the rest of the system takes as a
// dependency, so tests can swap in failing implementations.
type Cipher interface {
	// ParsePrivateKey parses armored private key text. ErrMalformedKey if
	// the text is neither a bare secret key nor a protected key file.
	ParsePrivateKey(armored string) (PrivateKey, error)

	// Unlock decrypts a protected key with the passphrase. A key that is
	// already unlocked is returned as-is and the passphrase is ignored.
	Unlock(key PrivateKey, passphrase string) (PrivateKey, error)

	// EncryptFor encrypts plaintext for a single recipient public key and
	// returns armored ciphertext. ErrEncryptionFailed covers malformed
	// recipient keys; callers are expected to handle it per recipient.
	EncryptFor(plaintext, publicKey string) (string, error)

	// Open decrypts ciphertext with an unlocked key. It never fails hard:
	// ok is false for ciphertext not addressed to this key, corrupted
	// input, or a key that is not unlocked.
	Open(key PrivateKey, ciphertext string) (plaintext string, ok bool)
}

const (
	secretKeyPrefix = "AGE-SECRET-KEY-"
	publicKeyPrefix = "age1"
)

// LooksLikePublicKey is the superficial format check used to reject
// obviously wrong input with a readable message before it reaches the real
// parser.
func LooksLikePublicKey(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), publicKeyPrefix)
}

// LooksLikePrivateKey accepts both the bare secret key form and the
// passphrase-protected armored file form.
func LooksLikePrivateKey(key string) bool {
	trimmed := strings.TrimSpace(key)
	return strings.HasPrefix(trimmed, secretKeyPrefix) || strings.HasPrefix(trimmed, armor.Header)
}

// Age implements Cipher with age x25519 keys.
type Age struct{}

type ageKey struct {
	identity *age.X25519Identity // nil until unlocked
	armored  string              // protected key file, kept for Unlock
}

func (k *ageKey) Unlocked() bool { return k.identity != nil }

func (Age) ParsePrivateKey(armored string) (PrivateKey, error) {
	trimmed := strings.TrimSpace(armored)
	switch {
	case strings.HasPrefix(trimmed, secretKeyPrefix):
		identity, err := age.ParseX25519Identity(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		return &ageKey{identity: identity}, nil
	case strings.HasPrefix(trimmed, armor.Header):
		return &ageKey{armored: trimmed}, nil
	default:
		return nil, ErrMalformedKey
	}
}

func (Age) Unlock(key PrivateKey, passphrase string) (PrivateKey, error) {
	k, ok := key.(*ageKey)
	if !ok {
		return nil, ErrMalformedKey
	}
	if k.Unlocked() {
		return k, nil
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	reader, err := age.Decrypt(armor.NewReader(strings.NewReader(k.armored)), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	secret, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	unlocked, err := age.ParseX25519Identity(strings.TrimSpace(string(secret)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return &ageKey{identity: unlocked}, nil
}

func (Age) EncryptFor(plaintext, publicKey string) (string, error) {
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(publicKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	writer, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if _, err := io.WriteString(writer, plaintext); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := armorWriter.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return buf.String(), nil
}

func (Age) Open(key PrivateKey, ciphertext string) (string, bool) {
	k, ok := key.(*ageKey)
	if !ok || !k.Unlocked() {
		return "", false
	}
	reader, err := age.Decrypt(armor.NewReader(strings.NewReader(strings.TrimSpace(ciphertext))), k.identity)
	if err != nil {
		return "", false
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// Keypair holds a freshly generated age x25519 keypair. The private key is
// the AGE-SECRET-KEY-1... string; the public key is safe to publish.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating keypair: %w", err)
	}
	return Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Protect wraps a bare secret key in a passphrase-encrypted armored key
// file, the form age-keygen produces when given a passphrase.
func Protect(privateKey, passphrase string) (string, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", err
	}
	// Keep interactive unlock well under a second.
	recipient.SetWorkFactor(15)

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	writer, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(writer, strings.TrimSpace(privateKey)+"\n"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	if err := armorWriter.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
