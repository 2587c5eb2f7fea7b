// Package blobstore provides the client for the external blob store holding
// document bytes. Content at CONFIDENTIAL and above is envelope-encrypted on
// this side before upload; the store only ever sees ciphertext. The envelope
// parameters travel with the returned reference and are opaque to every other
// component.
package blobstore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/techcorp/docbroker/internal/classify"
)

const envelopeAlgorithm = "AES-256-GCM"

// EncryptionInfo carries the envelope parameters needed to recover a blob.
type EncryptionInfo struct {
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`   // base64
	Nonce     string `json:"nonce"` // base64
}

// BlobRef identifies stored content. ContentHash is the SHA-256 hex of the
// plaintext, computed before any envelope encryption.
type BlobRef struct {
	FileID      string          `json:"fileId"`
	ContentHash string          `json:"contentHash"`
	URL         string          `json:"url,omitempty"`
	Size        int64           `json:"size"`
	Encryption  *EncryptionInfo `json:"encryption,omitempty"`
}

// Client talks to the blob store's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a blob store client for baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Put stores data under filename. For any level above INTERNAL the payload is
// envelope-encrypted first and the returned reference carries the parameters
// needed by Get.
func (c *Client) Put(ctx context.Context, data []byte, filename string, level classify.Level) (*BlobRef, error) {
	hash := sha256.Sum256(data)

	payload := data
	var enc *EncryptionInfo
	if level > classify.Internal {
		var err error
		payload, enc, err = seal(data)
		if err != nil {
			return nil, fmt.Errorf("envelope encrypt %q: %w", filename, err)
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.WriteField("classification", level.String()); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		FileID string `json:"fileId"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}

	return &BlobRef{
		FileID:      resp.FileID,
		ContentHash: hex.EncodeToString(hash[:]),
		URL:         resp.URL,
		Size:        int64(len(payload)),
		Encryption:  enc,
	}, nil
}

// Get retrieves a blob and, when enc is non-nil, removes the envelope.
func (c *Client) Get(ctx context.Context, fileID string, enc *EncryptionInfo) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/files/"+fileID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return body, nil
	}
	plain, err := open(body, enc)
	if err != nil {
		return nil, fmt.Errorf("envelope decrypt %s: %w", fileID, err)
	}
	return plain, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob store request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("blob store returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// seal encrypts data under a fresh one-shot key.
func seal(data []byte) ([]byte, *EncryptionInfo, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ct := gcm.Seal(nil, nonce, data, nil)
	return ct, &EncryptionInfo{
		Algorithm: envelopeAlgorithm,
		Key:       base64.StdEncoding.EncodeToString(key),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// open reverses seal.
func open(ct []byte, enc *EncryptionInfo) ([]byte, error) {
	if enc.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("unsupported envelope algorithm %q", enc.Algorithm)
	}
	key, err := base64.StdEncoding.DecodeString(enc.Key)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce length %d", len(nonce))
	}
	return gcm.Open(nil, nonce, ct, nil)
}
