package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"marketplace-service/internal/ledger"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// chainLedger is the ledger surface the mirror uses. Tests substitute a
// fake; production wires *ledger.Client.
type chainLedger interface {
	MintProduct(ctx context.Context, wallet string, meta ledger.ProductMetadata) (*ledger.MintResult, error)
	WalletBalance(ctx context.Context, address string) (string, error)
	CreateShipment(ctx context.Context, tokenID, receiver, location string) (*ledger.TxResult, error)
	UpdateShipmentStage(ctx context.Context, tokenID string, stage models.ShipmentStage) (*ledger.TxResult, error)
	UpdateShipmentLocation(ctx context.Context, tokenID, location string) (*ledger.TxResult, error)
	ShipmentHistory(ctx context.Context, tokenID string) ([]models.ShipmentEvent, error)
	Status(ctx context.Context) (*ledger.NetworkStatus, error)
}

// mintStore is the database surface the mint batch touches.
type mintStore interface {
	ListMintableProducts(ctx context.Context) ([]store.MintableProduct, error)
	MarkProductMinted(ctx context.Context, productID, tokenID string) error
	MarkProductMintFailed(ctx context.Context, productID string) error
	GetProductByTokenID(ctx context.Context, tokenID string) (*models.Product, error)
}

// MirrorService reconciles relational product rows with their on-chain
// counterparts: it mints pending products in batches and passes shipment
// mutations through to the chain, fanning results out as events.
type MirrorService struct {
	store       mintStore
	chain       chainLedger
	events      *ledger.Broker
	notifier    *NotificationEmitter
	ipfsGateway string
	minBalance  *big.Int
	logger      *zap.Logger
}

func NewMirrorService(st mintStore, chain chainLedger, events *ledger.Broker, notifier *NotificationEmitter, ipfsGateway, minBalanceWei string) *MirrorService {
	min, ok := new(big.Int).SetString(minBalanceWei, 10)
	if !ok {
		min = big.NewInt(0)
	}
	return &MirrorService{
		store:       st,
		chain:       chain,
		events:      events,
		notifier:    notifier,
		ipfsGateway: strings.TrimRight(ipfsGateway, "/"),
		minBalance:  min,
		logger:      util.GetLogger(),
	}
}

// MintBatchResult summarizes one mint-pending run.
type MintBatchResult struct {
	Scanned int
	Minted  int
	Failed  int
}

// MintPendingProducts scans products whose mirror status is pending or
// failed and mints each one. A failure marks that product failed and moves
// on; one bad product never aborts the batch, and re-running is safe
// because minted products drop out of the scan.
func (m *MirrorService) MintPendingProducts(ctx context.Context) (*MintBatchResult, error) {
	ctx, span := util.StartSpan(ctx, "MirrorService.MintPendingProducts")
	defer span.End()

	rows, err := m.store.ListMintableProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mintable products: %w", err)
	}

	result := &MintBatchResult{Scanned: len(rows)}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if m.mintOne(ctx, row) {
			result.Minted++
		} else {
			result.Failed++
		}
	}

	if result.Scanned > 0 {
		m.logger.Info("Mint batch finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("minted", result.Minted),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

func (m *MirrorService) mintOne(ctx context.Context, row store.MintableProduct) bool {
	util.MintAttemptsTotal.Inc()

	if !row.WalletAddress.Valid || row.WalletAddress.String == "" {
		m.failMint(ctx, row, "no_wallet", "store has no wallet address")
		return false
	}
	wallet := row.WalletAddress.String

	balance, err := m.chain.WalletBalance(ctx, wallet)
	if err != nil {
		m.failMint(ctx, row, mintErrorKind(err), fmt.Sprintf("wallet balance check failed: %v", err))
		return false
	}
	if bal, ok := new(big.Int).SetString(balance, 10); !ok || bal.Cmp(m.minBalance) < 0 {
		m.failMint(ctx, row, "insufficient_balance",
			fmt.Sprintf("wallet balance %s below minimum %s", balance, m.minBalance))
		return false
	}

	meta := ledger.ProductMetadata{
		Name:        row.Name,
		Description: row.Description,
		Image:       m.imageURL(row.Images),
		Attributes:  row.Attributes,
	}

	res, err := m.chain.MintProduct(ctx, wallet, meta)
	if err != nil {
		m.failMint(ctx, row, mintErrorKind(err), fmt.Sprintf("mint failed: %v", err))
		return false
	}

	if err := m.store.MarkProductMinted(ctx, row.ID, res.TokenID); err != nil {
		// Lost the race with another run; the token exists either way.
		m.logger.Warn("Minted product could not be recorded",
			zap.String("product_id", row.ID),
			zap.String("token_id", res.TokenID),
			zap.Error(err))
		return false
	}

	util.MintSuccessTotal.Inc()
	m.logger.Info("Product minted",
		zap.String("product_id", row.ID),
		zap.String("token_id", res.TokenID),
		zap.String("tx_hash", res.TxHash))

	m.notifier.ProductMinted(ctx, row.ID, row.StoreOwnerID, res.TokenID, res.TxHash)
	m.events.Publish(ledger.Event{
		Type:      ledger.EventProductMinted,
		ProductID: row.ID,
		TokenID:   res.TokenID,
		TxHash:    res.TxHash,
		Timestamp: time.Now().UTC(),
	})
	return true
}

func (m *MirrorService) failMint(ctx context.Context, row store.MintableProduct, reason, detail string) {
	util.MintFailedTotal.WithLabelValues(reason).Inc()
	m.logger.Warn("Product mint failed",
		zap.String("product_id", row.ID),
		zap.String("reason", reason),
		zap.String("detail", detail))

	if err := m.store.MarkProductMintFailed(ctx, row.ID); err != nil {
		m.logger.Error("Failed to mark product mint failed",
			zap.String("product_id", row.ID),
			zap.Error(err))
	}

	m.notifier.MintFailed(ctx, row.ID, row.StoreOwnerID, detail)
	m.events.Publish(ledger.Event{
		Type:      ledger.EventMintFailed,
		ProductID: row.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// imageURL resolves a product's primary image to a gateway URL. Bare CIDs
// are prefixed with the configured IPFS gateway.
func (m *MirrorService) imageURL(images models.JSONStrings) string {
	if len(images) == 0 {
		return ""
	}
	img := images[0]
	if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}
	return m.ipfsGateway + "/ipfs/" + strings.TrimPrefix(img, "ipfs://")
}

func mintErrorKind(err error) string {
	switch {
	case isLedgerTimeout(err):
		return "ledger_timeout"
	case isLedgerUnavailable(err):
		return "ledger_unavailable"
	default:
		return "ledger_error"
	}
}

// CreateShipment opens on-chain shipment tracking for a minted product.
// Only the owning seller or an admin may call it.
func (m *MirrorService) CreateShipment(ctx context.Context, actor models.Actor, tokenID, receiver, location string) (*ledger.TxResult, error) {
	if _, err := m.authorizeShipment(ctx, actor, tokenID); err != nil {
		return nil, err
	}
	res, err := m.chain.CreateShipment(ctx, tokenID, receiver, location)
	if err != nil {
		return nil, err
	}
	m.events.Publish(ledger.Event{
		Type:      ledger.EventStageUpdated,
		TokenID:   tokenID,
		Stage:     models.StageCreated,
		Location:  location,
		TxHash:    res.TxHash,
		Timestamp: time.Now().UTC(),
	})
	return res, nil
}

// UpdateShipment advances a shipment's stage, its location, or both.
func (m *MirrorService) UpdateShipment(ctx context.Context, actor models.Actor, tokenID, stageName, location string) (*ledger.TxResult, error) {
	if stageName == "" && location == "" {
		return nil, fmt.Errorf("nothing to update: %w", ErrValidation)
	}
	if _, err := m.authorizeShipment(ctx, actor, tokenID); err != nil {
		return nil, err
	}

	var last *ledger.TxResult
	if stageName != "" {
		stage, err := models.ParseShipmentStage(stageName)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrValidation)
		}
		res, err := m.chain.UpdateShipmentStage(ctx, tokenID, stage)
		if err != nil {
			return nil, err
		}
		last = res
		m.events.Publish(ledger.Event{
			Type:      ledger.EventStageUpdated,
			TokenID:   tokenID,
			Stage:     stage,
			TxHash:    res.TxHash,
			Timestamp: time.Now().UTC(),
		})
	}
	if location != "" {
		res, err := m.chain.UpdateShipmentLocation(ctx, tokenID, location)
		if err != nil {
			return nil, err
		}
		last = res
		m.events.Publish(ledger.Event{
			Type:      ledger.EventLocationUpdated,
			TokenID:   tokenID,
			Location:  location,
			TxHash:    res.TxHash,
			Timestamp: time.Now().UTC(),
		})
	}
	return last, nil
}

// ShipmentHistory returns the on-chain event trail for a token.
func (m *MirrorService) ShipmentHistory(ctx context.Context, tokenID string) ([]models.ShipmentEvent, error) {
	if _, err := m.store.GetProductByTokenID(ctx, tokenID); err != nil {
		return nil, err
	}
	return m.chain.ShipmentHistory(ctx, tokenID)
}

// NetworkStatus reports chain gateway connectivity.
func (m *MirrorService) NetworkStatus(ctx context.Context) (*ledger.NetworkStatus, error) {
	return m.chain.Status(ctx)
}

func (m *MirrorService) authorizeShipment(ctx context.Context, actor models.Actor, tokenID string) (*models.Product, error) {
	product, err := m.store.GetProductByTokenID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
		return product, nil
	case models.RoleSeller:
		if actor.StoreID != "" && actor.StoreID == product.StoreID {
			return product, nil
		}
		return nil, fmt.Errorf("seller does not own token %s: %w", tokenID, ErrForbidden)
	case models.RoleBuyer:
		return nil, fmt.Errorf("buyers cannot modify shipments: %w", ErrForbidden)
	default:
		return nil, fmt.Errorf("unknown role %q: %w", actor.Role, ErrForbidden)
	}
}
