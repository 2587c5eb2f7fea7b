// Package wallet is the consumer-side SDK for staged document deliveries.
//
// A wallet generates an X25519 keypair, hands the public half to the portal's
// complete-download step, fetches the staged pickup from the returned service
// endpoint, and opens the NaCl box locally. The portal never sees the private
// key.
package wallet

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/box"
)

// ErrExpired is returned when the pickup's TTL or view budget is spent.
var ErrExpired = errors.New("pickup expired or view budget spent")

// Pickup is one staged delivery as served by the portal's pickup endpoint.
type Pickup struct {
	PickupID         string    `json:"pickupId"`
	EncryptedContent string    `json:"encryptedContent"`
	Nonce            string    `json:"nonce"`
	ServerPublicKey  string    `json:"serverPublicKey"`
	WalletDID        string    `json:"walletDid"`
	DocumentID       string    `json:"documentId"`
	EphemeralDID     string    `json:"ephemeralDid"`
	ContentType      string    `json:"contentType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ViewsRemaining   int       `json:"viewsRemaining"`
}

// Keypair holds the wallet's X25519 keys for one delivery. Generate a fresh
// pair per download; the portal seals to the public half only.
type Keypair struct {
	publicKey  [32]byte
	privateKey [32]byte
}

// NewKeypair generates an X25519 keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{publicKey: *pub, privateKey: *priv}, nil
}

// PublicKey returns the base64 public key to submit with complete-download.
func (k *Keypair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(k.publicKey[:])
}

// Open decrypts a pickup's content with the wallet private key.
func (k *Keypair) Open(p *Pickup) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(p.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonceRaw) != 24 {
		return nil, fmt.Errorf("nonce is %d bytes, want 24", len(nonceRaw))
	}
	serverRaw, err := base64.StdEncoding.DecodeString(p.ServerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode server public key: %w", err)
	}
	if len(serverRaw) != 32 {
		return nil, fmt.Errorf("server public key is %d bytes, want 32", len(serverRaw))
	}

	var nonce [24]byte
	var serverPub [32]byte
	copy(nonce[:], nonceRaw)
	copy(serverPub[:], serverRaw)

	plaintext, ok := box.Open(nil, sealed, &nonce, &serverPub, &k.privateKey)
	if !ok {
		return nil, errors.New("open failed: wrong key or tampered content")
	}
	return plaintext, nil
}

// VerifyContentHash checks the plaintext against the SHA-256 hex hash the
// portal returned from the complete-download step.
func VerifyContentHash(content []byte, wantHex string) error {
	got := sha256.Sum256(content)
	if hex.EncodeToString(got[:]) != wantHex {
		return errors.New("content hash mismatch")
	}
	return nil
}

// Client fetches staged pickups from a portal.
type Client struct {
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPickup retrieves a staged pickup from its service endpoint URL, the
// one-time URL returned by the complete-download step. Each fetch consumes
// one view.
func (c *Client) FetchPickup(ctx context.Context, serviceEndpointURL string) (*Pickup, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceEndpointURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pickup: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read pickup: %w", err)
	}

	if resp.StatusCode == http.StatusGone {
		return nil, ErrExpired
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("pickup failed: %s", apiErr.Message)
		}
		return nil, fmt.Errorf("pickup failed: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Document *Pickup `json:"document"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parse pickup: %w", err)
	}
	if body.Document == nil {
		return nil, errors.New("pickup response has no document")
	}
	return body.Document, nil
}

// Download fetches a pickup and opens it in one step, returning the
// decrypted content and the pickup record.
func (c *Client) Download(ctx context.Context, serviceEndpointURL string, kp *Keypair) ([]byte, *Pickup, error) {
	p, err := c.FetchPickup(ctx, serviceEndpointURL)
	if err != nil {
		return nil, nil, err
	}
	content, err := kp.Open(p)
	if err != nil {
		return nil, nil, err
	}
	return content, p, nil
}
