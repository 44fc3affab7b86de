package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalKeyStore stores the alert-signing key on the local filesystem.
// This is intended for development and testing only.
//
// Keys are stored in a directory with the following structure:
//
//	<base_dir>/
//	  <key_name>.json  (metadata)
//	  <key_name>.pem   (private key)
//	  <key_name>.pub   (public key)
type LocalKeyStore struct {
	baseDir     string
	gracePeriod time.Duration
	logger      *slog.Logger

	mu       sync.RWMutex
	keyCache map[string]*SigningKeyPair
}

// keyMetadata is the JSON structure stored alongside keys.
type keyMetadata struct {
	Name        string     `json:"name"`
	KeyType     string     `json:"key_type"`
	PublicKey   string     `json:"public_key"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"created_at"`
	RotatedAt   *time.Time `json:"rotated_at,omitempty"`
	RetiredAt   *time.Time `json:"retired_at,omitempty"`
}

// NewLocalKeyStore creates a new local filesystem-backed key store.
// If baseDir is empty, it defaults to ~/.nopingd/keys. If gracePeriod is
// zero, DefaultGracePeriod is used.
func NewLocalKeyStore(baseDir string, gracePeriod time.Duration, logger *slog.Logger) (*LocalKeyStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".nopingd", "keys")
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	logger.Info("using local key store", "path", baseDir, "grace_period", gracePeriod)

	return &LocalKeyStore{
		baseDir:     baseDir,
		gracePeriod: gracePeriod,
		logger:      logger,
		keyCache:    make(map[string]*SigningKeyPair),
	}, nil
}

// GetOrCreateSigningKey returns the daemon's alert-signing key pair,
// creating one if it doesn't exist.
func (ks *LocalKeyStore) GetOrCreateSigningKey(ctx context.Context) (*SigningKeyPair, error) {
	// Check cache first
	ks.mu.RLock()
	if cached, ok := ks.keyCache[DefaultKeyName]; ok {
		ks.mu.RUnlock()
		return cached, nil
	}
	ks.mu.RUnlock()

	// Try to load from disk
	keyPair, err := ks.loadKey(DefaultKeyName)
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}

	if keyPair != nil {
		// Cache and return existing key
		ks.mu.Lock()
		ks.keyCache[DefaultKeyName] = keyPair
		ks.mu.Unlock()
		return keyPair, nil
	}

	// Key doesn't exist, create new one
	ks.logger.Info("creating new alert-signing key", "name", DefaultKeyName)

	keyPair, err = GenerateSigningKeyPair(DefaultKeyName)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	// Save to disk
	if err := ks.saveKey(keyPair); err != nil {
		return nil, fmt.Errorf("saving key: %w", err)
	}

	// Cache and return
	ks.mu.Lock()
	ks.keyCache[DefaultKeyName] = keyPair
	ks.mu.Unlock()

	ks.logger.Info("created new alert-signing key",
		"name", DefaultKeyName,
		"fingerprint", keyPair.Fingerprint,
		"path", ks.baseDir)

	return keyPair, nil
}

// GetPrivateKey retrieves only the private key bytes for a named key.
func (ks *LocalKeyStore) GetPrivateKey(ctx context.Context, name string) ([]byte, error) {
	keyPair, err := ks.loadKey(name)
	if err != nil {
		return nil, err
	}
	if keyPair == nil {
		return nil, nil
	}
	return keyPair.PrivateKey, nil
}

// GetPublicKey retrieves the public key in OpenSSH format.
func (ks *LocalKeyStore) GetPublicKey(ctx context.Context, name string) (string, error) {
	// Check cache first
	ks.mu.RLock()
	if cached, ok := ks.keyCache[name]; ok {
		ks.mu.RUnlock()
		return cached.PublicKey, nil
	}
	ks.mu.RUnlock()

	keyPair, err := ks.loadKey(name)
	if err != nil {
		return "", err
	}
	if keyPair == nil {
		return "", fmt.Errorf("key not found: %s", name)
	}
	return keyPair.PublicKey, nil
}

// RotateKey creates a new key pair and retires the old one into the
// previous-key slot, where PreviousSigningKey can still serve it until the
// grace period elapses.
func (ks *LocalKeyStore) RotateKey(ctx context.Context) (*SigningKeyPair, error) {
	// Get the old key to retire it
	oldKey, err := ks.loadKey(DefaultKeyName)
	if err != nil {
		return nil, fmt.Errorf("loading old key: %w", err)
	}

	// Retire the old key into the fixed previous-key slot, overwriting
	// whatever was retired by an earlier rotation.
	if oldKey != nil {
		now := time.Now()
		oldKey.Name = previousKeyName
		oldKey.RetiredAt = &now
		if err := ks.saveKey(oldKey); err != nil {
			ks.logger.Warn("failed to retire previous signing key", "error", err)
			// Continue with rotation anyway
		}
	}

	// Generate new key
	newKey, err := GenerateSigningKeyPair(DefaultKeyName)
	if err != nil {
		return nil, fmt.Errorf("generating new key: %w", err)
	}
	now := time.Now()
	newKey.RotatedAt = &now

	// Save new key
	if err := ks.saveKey(newKey); err != nil {
		return nil, fmt.Errorf("saving new key: %w", err)
	}

	// Update cache
	ks.mu.Lock()
	ks.keyCache[DefaultKeyName] = newKey
	if oldKey != nil {
		ks.keyCache[previousKeyName] = oldKey
	}
	ks.mu.Unlock()

	ks.logger.Info("rotated alert-signing key",
		"fingerprint", newKey.Fingerprint,
		"grace_period", ks.gracePeriod)

	return newKey, nil
}

// PreviousSigningKey returns the key most recently superseded by
// RotateKey, if it's still within the store's grace period.
func (ks *LocalKeyStore) PreviousSigningKey(ctx context.Context) (*SigningKeyPair, error) {
	ks.mu.RLock()
	if cached, ok := ks.keyCache[previousKeyName]; ok {
		ks.mu.RUnlock()
		return ks.withinGrace(cached), nil
	}
	ks.mu.RUnlock()

	keyPair, err := ks.loadKey(previousKeyName)
	if err != nil {
		return nil, fmt.Errorf("loading previous key: %w", err)
	}
	if keyPair == nil {
		return nil, nil
	}

	ks.mu.Lock()
	ks.keyCache[previousKeyName] = keyPair
	ks.mu.Unlock()

	return ks.withinGrace(keyPair), nil
}

// withinGrace returns key unless it's nil or its retirement is older than
// the store's grace period.
func (ks *LocalKeyStore) withinGrace(key *SigningKeyPair) *SigningKeyPair {
	if key == nil || key.RetiredAt == nil {
		return nil
	}
	if time.Since(*key.RetiredAt) > ks.gracePeriod {
		return nil
	}
	return key
}

// Close releases any resources.
func (ks *LocalKeyStore) Close() error {
	// Clear cache
	ks.mu.Lock()
	ks.keyCache = make(map[string]*SigningKeyPair)
	ks.mu.Unlock()
	return nil
}

// loadKey loads a key from disk by name.
func (ks *LocalKeyStore) loadKey(name string) (*SigningKeyPair, error) {
	metadataPath := filepath.Join(ks.baseDir, name+".json")
	privatePath := filepath.Join(ks.baseDir, name+".pem")

	// Check if metadata file exists
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, nil
	}

	// Read metadata
	metadataBytes, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var meta keyMetadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}

	// Read private key
	privateBytes, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	return &SigningKeyPair{
		Name:        meta.Name,
		KeyType:     meta.KeyType,
		PublicKey:   meta.PublicKey,
		PrivateKey:  privateBytes,
		Fingerprint: meta.Fingerprint,
		CreatedAt:   meta.CreatedAt,
		RotatedAt:   meta.RotatedAt,
		RetiredAt:   meta.RetiredAt,
	}, nil
}

// saveKey saves a key to disk.
func (ks *LocalKeyStore) saveKey(keyPair *SigningKeyPair) error {
	metadataPath := filepath.Join(ks.baseDir, keyPair.Name+".json")
	privatePath := filepath.Join(ks.baseDir, keyPair.Name+".pem")
	publicPath := filepath.Join(ks.baseDir, keyPair.Name+".pub")

	// Write metadata
	meta := keyMetadata{
		Name:        keyPair.Name,
		KeyType:     keyPair.KeyType,
		PublicKey:   keyPair.PublicKey,
		Fingerprint: keyPair.Fingerprint,
		CreatedAt:   keyPair.CreatedAt,
		RotatedAt:   keyPair.RotatedAt,
		RetiredAt:   keyPair.RetiredAt,
	}
	metadataBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(metadataPath, metadataBytes, 0600); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	// Write private key (restrictive permissions)
	if err := os.WriteFile(privatePath, keyPair.PrivateKey, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	// Write public key (readable)
	if err := os.WriteFile(publicPath, []byte(keyPair.PublicKey), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	return nil
}
