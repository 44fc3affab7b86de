// Package alertforward optionally relays NOPING events to an
// operator-configured HTTPS endpoint, Ed25519-signed so the receiver can
// verify the daemon sent them. It's off by default; the Notifier's local
// controllers remain the canonical delivery path regardless of whether this
// is configured.
package alertforward

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pilot-net/nopingd/internal/secrets"
)

// Event is the payload forwarded for one NOPING notification.
type Event struct {
	HostID   uint64    `json:"host_id"`
	HostName string    `json:"host_name"`
	At       time.Time `json:"at"`
}

// Forwarder posts signed Event payloads to a configured webhook URL.
type Forwarder struct {
	webhookURL   string
	headerName   string
	sharedToken  string
	tokenHash    string
	client       *http.Client
	keyStore     secrets.KeyStore
	logger       *slog.Logger
}

// Config configures a Forwarder. WebhookURL empty disables forwarding
// entirely — New returns (nil, nil) in that case so callers can skip
// wiring it into the notifier chain.
type Config struct {
	WebhookURL    string
	SharedToken   string
	TokenHash     string // bcrypt hash the SharedToken must match, if set
	RequestHeader string // header name for the shared token; default X-Nopingd-Token
}

// New constructs a Forwarder, or returns (nil, nil) if WebhookURL is empty.
// If TokenHash is set, SharedToken is verified against it with bcrypt before
// the forwarder is considered usable — catching a stale or mistyped token at
// startup rather than on the first failed delivery.
func New(cfg Config, keyStore secrets.KeyStore, logger *slog.Logger) (*Forwarder, error) {
	if cfg.WebhookURL == "" {
		return nil, nil
	}

	if cfg.TokenHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.TokenHash), []byte(cfg.SharedToken)); err != nil {
			return nil, fmt.Errorf("alertforward: configured token does not match stored hash: %w", err)
		}
	}

	header := cfg.RequestHeader
	if header == "" {
		header = "X-Nopingd-Token"
	}

	return &Forwarder{
		webhookURL:  cfg.WebhookURL,
		headerName:  header,
		sharedToken: cfg.SharedToken,
		tokenHash:   cfg.TokenHash,
		client:      &http.Client{Timeout: 5 * time.Second},
		keyStore:    keyStore,
		logger:      logger.With("component", "alertforward"),
	}, nil
}

// Forward signs and posts one Event. Failures are logged and swallowed —
// forwarding is best-effort, same as local-controller notification, and
// never fails the tick that produced the NOPING. The POST runs
// synchronously in the caller; the client's 5-second timeout bounds how
// long it can hold that tick up.
func (f *Forwarder) Forward(ctx context.Context, ev Event) {
	if f == nil {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("marshaling alert payload", "error", err)
		return
	}

	signature, err := f.sign(ctx, body)
	if err != nil {
		f.logger.Warn("signing alert payload failed, sending unsigned", "error", err)
	}

	// During a rotation's grace window the receiver may still only have
	// cached the old public key, so sign with it too rather than risk a
	// delivery the receiver can't yet verify.
	previousSignature, err := f.signWithPrevious(ctx, body)
	if err != nil {
		f.logger.Debug("no previous signing key available", "error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(body))
	if err != nil {
		f.logger.Error("building webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if f.sharedToken != "" {
		req.Header.Set(f.headerName, f.sharedToken)
	}
	if signature != "" {
		req.Header.Set("X-Nopingd-Signature", signature)
	}
	if previousSignature != "" {
		req.Header.Set("X-Nopingd-Signature-Previous", previousSignature)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("webhook delivery failed", "host_id", ev.HostID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.logger.Warn("webhook rejected alert", "host_id", ev.HostID, "status", resp.StatusCode)
	}
}

func (f *Forwarder) sign(ctx context.Context, body []byte) (string, error) {
	if f.keyStore == nil {
		return "", nil
	}
	key, err := f.keyStore.GetOrCreateSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching signing key: %w", err)
	}
	return signWithKey(key, body)
}

// signWithPrevious signs body with the key store's previous signing key, if
// one is still within its rotation grace period. Returns ("", nil) when
// there is none to sign with, which is the common case outside a rotation
// window.
func (f *Forwarder) signWithPrevious(ctx context.Context, body []byte) (string, error) {
	if f.keyStore == nil {
		return "", nil
	}
	key, err := f.keyStore.PreviousSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching previous signing key: %w", err)
	}
	if key == nil {
		return "", nil
	}
	return signWithKey(key, body)
}

func signWithKey(key *secrets.SigningKeyPair, body []byte) (string, error) {
	signer, err := secrets.ParsePrivateKey(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("parsing signing key: %w", err)
	}
	sig, err := signer.Sign(nil, body)
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig.Blob), nil
}

// verifySignature checks a forwarded payload's signature against the
// daemon's public key, without needing the private key or this package's
// HTTP machinery. It is unexported; this package's tests use it.
func verifySignature(pub ed25519.PublicKey, body, sig []byte) bool {
	return ed25519.Verify(pub, body, sig)
}
