package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-service/internal/hologram"
	"marketplace-service/internal/ledger"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/util"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	qrDataVersion = "1.0"
	qrImageSize   = 500

	// Only this many hex characters of the verification code are embedded
	// in the hologram's steganographic layer. A stolen hologram reveals a
	// prefix, not the full code.
	hologramCodePrefixLen = 12

	chainStateCacheTTL = 5 * time.Minute
)

// chainReader is the slice of the ledger client Verify needs. The lookup is
// best effort; a failing reader degrades the result, never the verification.
type chainReader interface {
	GetProduct(ctx context.Context, tokenID string) (*ledger.OnChainProduct, error)
}

type hologramGenerator interface {
	Generate(ctx context.Context, storeName, tokenID, codePrefix string) (*hologram.Label, error)
}

// qrStore is the database surface the binder uses; *store.Store satisfies
// it.
type qrStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderForVerification(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	SetOrderQRCredential(ctx context.Context, orderID string, data models.QRData) error
	SetProductHologram(ctx context.Context, productID string, data models.JSONMap) error
	RecordQRVerification(ctx context.Context, orderID string) error
}

// QRService binds verification credentials to (order, product, token)
// triples and validates scans against them.
type QRService struct {
	store     qrStore
	chain     chainReader
	holograms hologramGenerator
	redis     *redisclient.Client
	notifier  *NotificationEmitter
	logger    *zap.Logger
}

func NewQRService(st qrStore, chain chainReader, holograms hologramGenerator, redis *redisclient.Client, notifier *NotificationEmitter) *QRService {
	return &QRService{
		store:     st,
		chain:     chain,
		holograms: holograms,
		redis:     redis,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// qrPayload is the compact JSON encoded into the printed QR image.
type qrPayload struct {
	OrderID   string `json:"o"`
	ProductID string `json:"p"`
	TokenID   string `json:"t"`
	Code      string `json:"v"`
	Timestamp string `json:"ts"`
}

// GenerateLabelsResult is returned to the seller after label generation.
type GenerateLabelsResult struct {
	QRCode       string    `json:"qrCode"` // data URL
	HologramPath string    `json:"hologramPath"`
	OrderID      string    `json:"orderId"`
	Status       string    `json:"status"`
	GeneratedAt  time.Time `json:"generatedAt"`
	OrderNumber  string    `json:"orderNumber"`
	ProductName  string    `json:"productName"`
	StoreName    string    `json:"storeName"`
}

// GenerateLabels creates a fresh verification credential for an order and
// renders the QR and hologram labels carrying it. Only the order's seller
// may call it, and only while the order is confirmed or packed. Calling it
// again replaces the previous credential; already printed labels stop
// verifying.
func (s *QRService) GenerateLabels(ctx context.Context, actor models.Actor, orderID string) (*GenerateLabelsResult, error) {
	ctx, span := util.StartSpan(ctx, "QRService.GenerateLabels")
	defer span.End()

	if actor.Role != models.RoleSeller || actor.StoreID == "" {
		return nil, fmt.Errorf("seller access required: %w", ErrForbidden)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Ownership mismatch reads the same as a missing order.
	if order.StoreID != actor.StoreID {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if order.Status != models.OrderStatusConfirmed && order.Status != models.OrderStatusPacked {
		return nil, fmt.Errorf("labels can only be generated for confirmed or packed orders: %w", ErrValidation)
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("order has no items: %w", ErrValidation)
	}

	product, err := s.store.GetProductByID(ctx, items[0].ProductID)
	if err != nil {
		return nil, err
	}
	merchant, err := s.store.GetStoreByID(ctx, order.StoreID)
	if err != nil {
		return nil, err
	}

	code, err := newVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}
	now := time.Now().UTC()

	payload, err := json.Marshal(qrPayload{
		OrderID:   order.ID,
		ProductID: product.ID,
		TokenID:   product.TokenID.String,
		Code:      code,
		Timestamp: now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(string(payload), qrcode.High, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	label, err := s.holograms.Generate(ctx, merchant.Name, product.TokenID.String, code[:hologramCodePrefixLen])
	if err != nil {
		return nil, fmt.Errorf("failed to generate hologram: %w", err)
	}

	if err := s.store.SetOrderQRCredential(ctx, order.ID, models.QRData{
		VerificationCode: code,
		GeneratedAt:      now,
		Version:          qrDataVersion,
	}); err != nil {
		return nil, err
	}
	if err := s.store.SetProductHologram(ctx, product.ID, models.JSONMap{
		"path":         label.Path,
		"generated_at": label.GeneratedAt.Format(time.RFC3339),
		"version":      qrDataVersion,
	}); err != nil {
		return nil, err
	}

	util.QRLabelsGeneratedTotal.Inc()
	s.logger.Info("Verification labels generated",
		zap.String("order_id", order.ID),
		zap.String("product_id", product.ID))
	s.notifier.LabelsGenerated(ctx, order, product.ID)

	return &GenerateLabelsResult{
		QRCode:       dataURL,
		HologramPath: label.Path,
		OrderID:      order.ID,
		Status:       models.QRStatusActive,
		GeneratedAt:  now,
		OrderNumber:  orderNumber(order.ID),
		ProductName:  product.Name,
		StoreName:    merchant.Name,
	}, nil
}

// VerificationResult is the public response for an authentic scan.
type VerificationResult struct {
	IsAuthentic  bool                   `json:"isAuthentic"`
	VerifiedAt   time.Time              `json:"verifiedAt"`
	PurchaseDate time.Time              `json:"purchaseDate"`
	StoreName    string                 `json:"store"`
	Product      VerifiedProduct        `json:"product"`
	ChainStatus  string                 `json:"chainStatus"`
	ChainState   *ledger.OnChainProduct `json:"nftData,omitempty"`
	OrderID      string                 `json:"orderId"`
	OrderStatus  string                 `json:"orderStatus"`
}

type VerifiedProduct struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	TokenID      string `json:"tokenId,omitempty"`
}

// Verify validates a scanned QR payload. Every mismatch, whatever the
// cause, surfaces as ErrVerificationFailed so callers cannot probe which
// field was wrong. On-chain state is attached best effort: if the ledger
// cannot answer, the result carries chain status "pending" instead of
// failing.
func (s *QRService) Verify(ctx context.Context, rawPayload string) (*VerificationResult, error) {
	ctx, span := util.StartSpan(ctx, "QRService.Verify")
	defer span.End()

	var payload qrPayload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return nil, s.reject(fmt.Errorf("malformed payload: %w", ErrVerificationFailed))
	}
	if payload.OrderID == "" || payload.ProductID == "" || payload.Code == "" {
		return nil, s.reject(fmt.Errorf("incomplete payload: %w", ErrVerificationFailed))
	}

	order, err := s.store.GetOrderForVerification(ctx, payload.OrderID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("order lookup: %w", ErrVerificationFailed))
	}

	items, err := s.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("item lookup: %w", ErrVerificationFailed))
	}
	var matched bool
	for _, item := range items {
		if item.ProductID == payload.ProductID {
			matched = true
			break
		}
	}
	if !matched {
		return nil, s.reject(fmt.Errorf("product not in order: %w", ErrVerificationFailed))
	}

	product, err := s.store.GetProductByID(ctx, payload.ProductID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("product lookup: %w", ErrVerificationFailed))
	}
	if product.TokenID.String != payload.TokenID {
		return nil, s.reject(fmt.Errorf("token mismatch: %w", ErrVerificationFailed))
	}

	if order.QRData.VerificationCode == "" || order.QRData.VerificationCode != payload.Code {
		return nil, s.reject(fmt.Errorf("code mismatch: %w", ErrVerificationFailed))
	}

	if err := s.store.RecordQRVerification(ctx, order.ID); err != nil {
		return nil, err
	}

	merchant, err := s.store.GetStoreByID(ctx, order.StoreID)
	if err != nil {
		return nil, err
	}

	chainStatus, chainState := s.lookupChainState(ctx, payload.TokenID)

	if s.redis != nil {
		if _, err := s.redis.CountScan(ctx, order.ID, 24*time.Hour); err != nil {
			s.logger.Warn("Failed to record scan count", zap.Error(err))
		}
	}

	util.QRVerificationsTotal.WithLabelValues("authentic").Inc()
	s.logger.Info("QR verification succeeded",
		zap.String("order_id", order.ID),
		zap.String("product_id", product.ID))

	return &VerificationResult{
		IsAuthentic:  true,
		VerifiedAt:   time.Now().UTC(),
		PurchaseDate: order.CreatedAt,
		StoreName:    merchant.Name,
		Product: VerifiedProduct{
			Name:         product.Name,
			Manufacturer: product.Manufacturer,
			TokenID:      product.TokenID.String,
		},
		ChainStatus: chainStatus,
		ChainState:  chainState,
		OrderID:     order.ID,
		OrderStatus: order.Status,
	}, nil
}

// lookupChainState fetches the token's on-chain view through a short-lived
// cache. Any failure degrades to status "pending".
func (s *QRService) lookupChainState(ctx context.Context, tokenID string) (string, *ledger.OnChainProduct) {
	if tokenID == "" {
		return "pending", nil
	}

	if s.redis != nil {
		var cached ledger.OnChainProduct
		if ok, err := s.redis.GetChainProduct(ctx, tokenID, &cached); err == nil && ok {
			return "verified", &cached
		}
	}

	state, err := s.chain.GetProduct(ctx, tokenID)
	if err != nil {
		s.logger.Warn("On-chain lookup failed during verification",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return "pending", nil
	}

	if s.redis != nil {
		if err := s.redis.CacheChainProduct(ctx, tokenID, state, chainStateCacheTTL); err != nil {
			s.logger.Warn("Failed to cache chain state", zap.Error(err))
		}
	}
	return "verified", state
}

// QRStatusInfo is the authenticated status projection.
type QRStatusInfo struct {
	OrderID           string     `json:"orderId"`
	QRStatus          string     `json:"qrStatus"`
	VerificationCount int        `json:"verificationCount"`
	LastVerifiedAt    *time.Time `json:"lastVerifiedAt,omitempty"`
}

// GetStatus returns the credential status for an order the actor may view.
func (s *QRService) GetStatus(ctx context.Context, actor models.Actor, orderID string) (*QRStatusInfo, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrderRead(actor, order); err != nil {
		return nil, err
	}

	info := &QRStatusInfo{
		OrderID:           order.ID,
		QRStatus:          order.QRStatus,
		VerificationCount: order.QRVerificationCount,
	}
	if order.QRLastVerifiedAt.Valid {
		t := order.QRLastVerifiedAt.Time
		info.LastVerifiedAt = &t
	}
	return info, nil
}

// reject logs the real cause at debug level and counts the scan; the caller
// only ever sees the generic sentinel.
func (s *QRService) reject(err error) error {
	util.QRVerificationsTotal.WithLabelValues("invalid").Inc()
	s.logger.Debug("QR verification rejected", zap.Error(err))
	return ErrVerificationFailed
}

func newVerificationCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func orderNumber(orderID string) string {
	if len(orderID) < 8 {
		return orderID
	}
	return orderID[:8]
}
