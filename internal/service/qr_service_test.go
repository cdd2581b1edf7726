package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"marketplace-service/internal/ledger"
	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQRStore struct {
	order         *models.Order
	items         []models.OrderItem
	product       *models.Product
	merchant      *models.Store
	verifications int
}

func (f *fakeQRStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, ErrNotFound
	}
	return f.order, nil
}

func (f *fakeQRStore) GetOrderForVerification(ctx context.Context, id string) (*models.Order, error) {
	if f.order == nil || f.order.ID != id || f.order.QRStatus != models.QRStatusActive {
		return nil, ErrNotFound
	}
	return f.order, nil
}

func (f *fakeQRStore) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return f.items, nil
}

func (f *fakeQRStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	if f.product == nil || f.product.ID != id {
		return nil, ErrNotFound
	}
	return f.product, nil
}

func (f *fakeQRStore) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	if f.merchant == nil || f.merchant.ID != id {
		return nil, ErrNotFound
	}
	return f.merchant, nil
}

func (f *fakeQRStore) SetOrderQRCredential(ctx context.Context, orderID string, data models.QRData) error {
	f.order.QRData = data
	f.order.QRStatus = models.QRStatusActive
	return nil
}

func (f *fakeQRStore) SetProductHologram(ctx context.Context, productID string, data models.JSONMap) error {
	f.product.HologramData = data
	return nil
}

func (f *fakeQRStore) RecordQRVerification(ctx context.Context, orderID string) error {
	f.verifications++
	return nil
}

type fakeChainReader struct {
	product *ledger.OnChainProduct
	err     error
}

func (f *fakeChainReader) GetProduct(ctx context.Context, tokenID string) (*ledger.OnChainProduct, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.product, nil
}

func verificationFixture(code string) *fakeQRStore {
	return &fakeQRStore{
		order: &models.Order{
			ID:       "order-1",
			UserID:   "buyer-1",
			StoreID:  "store-1",
			Status:   models.OrderStatusConfirmed,
			QRStatus: models.QRStatusActive,
			QRData: models.QRData{
				VerificationCode: code,
				GeneratedAt:      time.Now().UTC(),
				Version:          qrDataVersion,
			},
			CreatedAt: time.Now().UTC(),
		},
		items: []models.OrderItem{
			{ID: "item-1", OrderID: "order-1", ProductID: "product-1", Quantity: 1},
		},
		product: &models.Product{
			ID:           "product-1",
			StoreID:      "store-1",
			Name:         "Widget",
			Manufacturer: "Acme",
			TokenID:      sql.NullString{String: "42", Valid: true},
		},
		merchant: &models.Store{ID: "store-1", Name: "Acme Store", UserID: "seller-1"},
	}
}

func payloadJSON(t *testing.T, p qrPayload) string {
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return string(raw)
}

func TestVerifyAuthentic(t *testing.T) {
	code := "aaaabbbbccccddddaaaabbbbccccddddaaaabbbbccccddddaaaabbbbccccdddd"
	st := verificationFixture(code)
	chain := &fakeChainReader{product: &ledger.OnChainProduct{TokenID: "42", Stage: models.StageForSale}}
	svc := NewQRService(st, chain, nil, nil, nil)

	result, err := svc.Verify(context.Background(), payloadJSON(t, qrPayload{
		OrderID:   "order-1",
		ProductID: "product-1",
		TokenID:   "42",
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}))

	require.NoError(t, err)
	assert.True(t, result.IsAuthentic)
	assert.Equal(t, "Acme Store", result.StoreName)
	assert.Equal(t, "Widget", result.Product.Name)
	assert.Equal(t, "verified", result.ChainStatus)
	assert.Equal(t, 1, st.verifications)
}

// A payload whose verification code differs by a single byte must be
// rejected with the same generic error as any other mismatch.
func TestVerifyTamperedCode(t *testing.T) {
	code := "aaaabbbbccccddddaaaabbbbccccddddaaaabbbbccccddddaaaabbbbccccdddd"
	st := verificationFixture(code)
	svc := NewQRService(st, &fakeChainReader{}, nil, nil, nil)

	tampered := "f" + code[1:]
	_, err := svc.Verify(context.Background(), payloadJSON(t, qrPayload{
		OrderID:   "order-1",
		ProductID: "product-1",
		TokenID:   "42",
		Code:      tampered,
	}))

	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Zero(t, st.verifications)
}

func TestVerifyGenericFailures(t *testing.T) {
	code := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	tests := []struct {
		name    string
		mutate  func(st *fakeQRStore)
		payload qrPayload
	}{
		{
			name:    "malformed payload",
			payload: qrPayload{},
		},
		{
			name:   "unknown order",
			mutate: func(st *fakeQRStore) { st.order.ID = "other" },
			payload: qrPayload{
				OrderID: "order-1", ProductID: "product-1", TokenID: "42", Code: code,
			},
		},
		{
			name:   "credential revoked",
			mutate: func(st *fakeQRStore) { st.order.QRStatus = models.QRStatusRevoked },
			payload: qrPayload{
				OrderID: "order-1", ProductID: "product-1", TokenID: "42", Code: code,
			},
		},
		{
			name: "product not in order",
			payload: qrPayload{
				OrderID: "order-1", ProductID: "other-product", TokenID: "42", Code: code,
			},
		},
		{
			name: "token mismatch",
			payload: qrPayload{
				OrderID: "order-1", ProductID: "product-1", TokenID: "99", Code: code,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := verificationFixture(code)
			if tt.mutate != nil {
				tt.mutate(st)
			}
			svc := NewQRService(st, &fakeChainReader{}, nil, nil, nil)

			_, err := svc.Verify(context.Background(), payloadJSON(t, tt.payload))

			assert.ErrorIs(t, err, ErrVerificationFailed)
			assert.Zero(t, st.verifications)
		})
	}
}

// A ledger outage must not fail verification; the chain portion degrades to
// pending.
func TestVerifyChainOutageDegrades(t *testing.T) {
	code := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	st := verificationFixture(code)
	chain := &fakeChainReader{err: ledger.ErrUnavailable}
	svc := NewQRService(st, chain, nil, nil, nil)

	result, err := svc.Verify(context.Background(), payloadJSON(t, qrPayload{
		OrderID: "order-1", ProductID: "product-1", TokenID: "42", Code: code,
	}))

	require.NoError(t, err)
	assert.True(t, result.IsAuthentic)
	assert.Equal(t, "pending", result.ChainStatus)
	assert.Nil(t, result.ChainState)
	assert.Equal(t, 1, st.verifications)
}

func TestGenerateLabelsAuthorization(t *testing.T) {
	st := verificationFixture("irrelevant")
	svc := NewQRService(st, &fakeChainReader{}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.GenerateLabels(ctx, models.Actor{UserID: "b1", Role: models.RoleBuyer}, "order-1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GenerateLabels(ctx, models.Actor{UserID: "s2", Role: models.RoleSeller, StoreID: "store-2"}, "order-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateLabelsRequiresConfirmedOrPacked(t *testing.T) {
	st := verificationFixture("irrelevant")
	st.order.Status = models.OrderStatusPending
	svc := NewQRService(st, &fakeChainReader{}, nil, nil, nil)

	_, err := svc.GenerateLabels(context.Background(),
		models.Actor{UserID: "seller-1", Role: models.RoleSeller, StoreID: "store-1"}, "order-1")

	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewVerificationCode(t *testing.T) {
	a, err := newVerificationCode()
	require.NoError(t, err)
	b, err := newVerificationCode()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Greater(t, len(a), hologramCodePrefixLen)
}

func TestQRPayloadFieldNames(t *testing.T) {
	raw, err := json.Marshal(qrPayload{
		OrderID: "o1", ProductID: "p1", TokenID: "t1", Code: "v1", Timestamp: "ts1",
	})
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]string{
		"o": "o1", "p": "p1", "t": "t1", "v": "v1", "ts": "ts1",
	}, decoded)
}

func TestOrderNumber(t *testing.T) {
	assert.Equal(t, "12345678", orderNumber("123456789abc"))
	assert.Equal(t, "short", orderNumber("short"))
}
