// Package secrets provides secure storage for the daemon's alert-forwarding
// signing key.
//
// This package defines a KeyStore interface for managing the Ed25519 key
// used to sign outbound webhook alerts (internal/alertforward). The primary
// implementation uses 1Password Connect for production environments, with a
// local file-based fallback for development or when no 1Password token is
// configured.
//
// # Rotation differs from a provisioning key
//
// A provisioning SSH key (the control plane's enrollment use case this
// package is adapted from) is revoked the moment it's rotated: the old key
// stops being handed to newly enrolled hosts and its only remaining value
// is an audit trail. A signing key used to verify webhook deliveries has
// the opposite requirement: an operator's webhook receiver typically caches
// the daemon's public key and polls for updates on its own schedule, so a
// signature produced with a freshly rotated key can reach the receiver
// before it has learned the new public key. KeyStore therefore keeps the
// superseded key queryable through PreviousSigningKey for a grace window
// after rotation, and internal/alertforward signs every payload with both
// keys while one is in that window.
package secrets

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// SigningKeyPair is the Ed25519 key pair used to sign NOPING webhook
// payloads, stored in SSH key formats because that's the format the
// underlying stores (1Password item fields, local PEM files) are built
// around.
type SigningKeyPair struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyType     string     `json:"key_type"`   // "ed25519"
	PublicKey   string     `json:"public_key"` // OpenSSH format (ssh-ed25519 AAAA...)
	PrivateKey  []byte     `json:"-"`          // PEM encoded, never serialized to JSON
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"created_at"`
	RotatedAt   *time.Time `json:"rotated_at,omitempty"`
	// RetiredAt is set on the key that RotateKey just superseded: the
	// moment it stopped being the primary signing key. Nil for the
	// current key. PreviousSigningKey uses this plus the store's grace
	// period to decide whether the key is still returned.
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// previousKeyName is the fixed slot a superseded key is kept under so
// PreviousSigningKey can find it without having to enumerate archives.
// Only one superseded key is ever retained at a time: a rotation that
// lands while the prior grace window is still open overwrites it, which
// is fine because a receiver that hasn't caught up after two full
// rotations has a problem this package can't fix anyway.
const previousKeyName = DefaultKeyName + "-previous"

// DefaultGracePeriod is how long a rotated-out key remains valid for
// signature verification when the store isn't configured with an
// explicit grace period.
const DefaultGracePeriod = 24 * time.Hour

// KeyStore provides secure storage and retrieval of the signing key.
type KeyStore interface {
	// GetOrCreateSigningKey returns the daemon's alert-signing key pair,
	// creating one if it doesn't exist.
	GetOrCreateSigningKey(ctx context.Context) (*SigningKeyPair, error)

	// GetPrivateKey retrieves only the private key bytes for a named key.
	// Returns nil if the key doesn't exist.
	GetPrivateKey(ctx context.Context, name string) ([]byte, error)

	// RotateKey creates a new key pair, retires the old one into the
	// previous-key slot, and returns the new key. The retired key remains
	// available from PreviousSigningKey for the store's grace period so
	// a webhook receiver that hasn't yet picked up the new public key can
	// still verify deliveries signed just after rotation.
	RotateKey(ctx context.Context) (*SigningKeyPair, error)

	// PreviousSigningKey returns the key RotateKey most recently
	// superseded, if one exists and is still within its grace period.
	// Returns (nil, nil) once there is no such key or its grace period
	// has elapsed.
	PreviousSigningKey(ctx context.Context) (*SigningKeyPair, error)

	// GetPublicKey retrieves the public key in OpenSSH format, so an
	// operator can hand it to a webhook receiver for verification.
	GetPublicKey(ctx context.Context, name string) (string, error)

	// Close releases any resources held by the key store.
	Close() error
}

// DefaultKeyName is the name of the default alert-signing key.
const DefaultKeyName = "nopingd-alert-signing"

// GenerateSigningKeyPair generates a new Ed25519 key pair.
func GenerateSigningKeyPair(name string) (*SigningKeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("converting to ssh public key: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}

	fingerprint := ssh.FingerprintSHA256(sshPubKey)
	pubKeyStr := string(ssh.MarshalAuthorizedKey(sshPubKey))

	return &SigningKeyPair{
		Name:        name,
		KeyType:     "ed25519",
		PublicKey:   pubKeyStr,
		PrivateKey:  pem.EncodeToMemory(privKeyPEM),
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
	}, nil
}

// ParsePrivateKey parses a PEM-encoded private key and returns an ssh.Signer
// usable to sign webhook payloads.
func ParsePrivateKey(pemBytes []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return signer, nil
}
