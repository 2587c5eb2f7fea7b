package agent

import (
	"context"
	"fmt"
	"net/http"
)

// Wallet is a hosted wallet record on the multi-tenant agent.
type Wallet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entity is the IAM principal bound to a wallet.
type Entity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	WalletID string `json:"walletId"`
}

// CreateWallet provisions a hosted wallet on the multi-tenant agent.
func (c *Client) CreateWallet(ctx context.Context, name string) (*Wallet, error) {
	var w Wallet
	err := c.adminRequest(ctx, http.MethodPost, "/wallets", map[string]string{"name": name}, &w)
	if err != nil {
		return nil, fmt.Errorf("create wallet %q: %w", name, err)
	}
	return &w, nil
}

// CreateEntity creates the IAM entity owning walletID.
func (c *Client) CreateEntity(ctx context.Context, name, walletID string) (*Entity, error) {
	var e Entity
	err := c.adminRequest(ctx, http.MethodPost, "/iam/entities", map[string]string{
		"name":     name,
		"walletId": walletID,
	}, &e)
	if err != nil {
		return nil, fmt.Errorf("create entity %q: %w", name, err)
	}
	return &e, nil
}

// RegisterAPIKey binds apiKey to entityID so subsequent calls carrying the
// key act inside the entity's wallet.
func (c *Client) RegisterAPIKey(ctx context.Context, entityID, apiKey string) error {
	err := c.adminRequest(ctx, http.MethodPost, "/iam/apikey-authentication", map[string]string{
		"entityId": entityID,
		"apiKey":   apiKey,
	}, nil)
	if err != nil {
		return fmt.Errorf("register api key for entity %s: %w", entityID, err)
	}
	return nil
}
