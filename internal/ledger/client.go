package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"marketplace-service/internal/models"

	"go.uber.org/zap"
)

// The two failure kinds callers need to tell apart: the node being down and
// the node being slow. Batch jobs log either and continue; foreground
// shipment endpoints surface them as 5xx.
var (
	ErrUnavailable = errors.New("ledger unavailable")
	ErrTimeout     = errors.New("ledger timeout")
)

// Config carries the chain gateway connection parameters.
type Config struct {
	RPCURL             string
	ProductNFTAddress  string
	SupplyChainAddress string
	CallTimeout        time.Duration
}

// Client talks to the chain gateway over HTTP. The gateway wraps the
// ProductNFT and SupplyChain contracts; every mutating call returns only
// after transaction finality.
//
// Initialization is lazy and race-safe: concurrent callers wait on the same
// in-flight attempt instead of initializing twice, and a failed attempt
// resets the state so the next call retries from scratch.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	ready    bool
	initErr  error
	inflight chan struct{} // non-nil while an init attempt runs; closed when it finishes
}

// NewClient creates a gateway client. No network traffic happens until the
// first call.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.CallTimeout},
		logger: logger,
	}
}

// ProductMetadata is the JSON blob minted into the token URI.
type ProductMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Image       string         `json:"image"`
	Attributes  models.JSONMap `json:"attributes,omitempty"`
}

// MintResult is returned once the mint transaction is final.
type MintResult struct {
	TokenID string `json:"token_id"`
	TxHash  string `json:"tx_hash"`
}

// TxResult is returned by shipment mutations once the transaction is final.
type TxResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

// OnChainProduct is the ledger's view of a minted token.
type OnChainProduct struct {
	TokenID   string               `json:"token_id"`
	Owner     string               `json:"owner"`
	TokenURI  string               `json:"token_uri"`
	Stage     models.ShipmentStage `json:"stage"`
	StageName string               `json:"stage_name"`
	Location  string               `json:"location,omitempty"`
}

// NetworkStatus is the gateway's connectivity report.
type NetworkStatus struct {
	ChainID     string `json:"chain_id"`
	BlockNumber int64  `json:"block_number"`
	Connected   bool   `json:"connected"`
}

// MintProduct mints an NFT for a product using the store's wallet and waits
// for finality.
func (c *Client) MintProduct(ctx context.Context, wallet string, meta ProductMetadata) (*MintResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	req := struct {
		Wallet   string          `json:"wallet"`
		Metadata ProductMetadata `json:"metadata"`
	}{Wallet: wallet, Metadata: meta}

	var result MintResult
	path := fmt.Sprintf("/contracts/%s/products", c.cfg.SupplyChainAddress)
	if err := c.call(ctx, "mint_product", http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	if result.TokenID == "" {
		return nil, fmt.Errorf("mint succeeded but no token id returned")
	}
	return &result, nil
}

// CreateShipment starts a token's on-chain shipment record and waits for
// finality.
func (c *Client) CreateShipment(ctx context.Context, tokenID, receiver, location string) (*TxResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	req := struct {
		TokenID  string `json:"token_id"`
		Receiver string `json:"receiver"`
		Location string `json:"location"`
	}{TokenID: tokenID, Receiver: receiver, Location: location}

	var result TxResult
	path := fmt.Sprintf("/contracts/%s/shipments", c.cfg.SupplyChainAddress)
	if err := c.call(ctx, "create_shipment", http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateShipmentStage advances a token's stage and waits for finality. The
// contract enforces no rollback path; stages only move forward.
func (c *Client) UpdateShipmentStage(ctx context.Context, tokenID string, stage models.ShipmentStage) (*TxResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	req := struct {
		Stage uint8 `json:"stage"`
	}{Stage: uint8(stage)}

	var result TxResult
	path := fmt.Sprintf("/contracts/%s/shipments/%s/stage", c.cfg.SupplyChainAddress, url.PathEscape(tokenID))
	if err := c.call(ctx, "update_stage", http.MethodPut, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateShipmentLocation records a token's free-text location and waits for
// finality.
func (c *Client) UpdateShipmentLocation(ctx context.Context, tokenID, location string) (*TxResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	req := struct {
		Location string `json:"location"`
	}{Location: location}

	var result TxResult
	path := fmt.Sprintf("/contracts/%s/shipments/%s/location", c.cfg.SupplyChainAddress, url.PathEscape(tokenID))
	if err := c.call(ctx, "update_location", http.MethodPut, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProduct reads a token's current on-chain state.
func (c *Client) GetProduct(ctx context.Context, tokenID string) (*OnChainProduct, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var result OnChainProduct
	path := fmt.Sprintf("/contracts/%s/tokens/%s", c.cfg.ProductNFTAddress, url.PathEscape(tokenID))
	if err := c.call(ctx, "get_product", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ShipmentHistory reads a token's immutable stage log, oldest first.
func (c *Client) ShipmentHistory(ctx context.Context, tokenID string) ([]models.ShipmentEvent, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var result []models.ShipmentEvent
	path := fmt.Sprintf("/contracts/%s/shipments/%s/history", c.cfg.SupplyChainAddress, url.PathEscape(tokenID))
	if err := c.call(ctx, "shipment_history", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// WalletBalance reads a wallet's balance in wei, as a decimal string.
func (c *Client) WalletBalance(ctx context.Context, address string) (string, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return "", err
	}

	var result struct {
		BalanceWei string `json:"balance_wei"`
	}
	path := fmt.Sprintf("/wallets/%s/balance", url.PathEscape(address))
	if err := c.call(ctx, "wallet_balance", http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	return result.BalanceWei, nil
}

// Status reports gateway connectivity without requiring initialization.
func (c *Client) Status(ctx context.Context) (*NetworkStatus, error) {
	var result NetworkStatus
	if err := c.call(ctx, "status", http.MethodGet, "/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
