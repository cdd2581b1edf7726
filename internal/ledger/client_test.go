package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatewayFixture struct {
	statusHits   int32
	failStatus   int32 // fail this many /status calls before succeeding
	tokenDelay   time.Duration
	tokenMissing bool
}

func (g *gatewayFixture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/status":
			hits := atomic.AddInt32(&g.statusHits, 1)
			if hits <= atomic.LoadInt32(&g.failStatus) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(NetworkStatus{ChainID: "1337", Connected: true})
		case strings.HasPrefix(r.URL.Path, "/contracts/nft/tokens/"):
			if g.tokenDelay > 0 {
				time.Sleep(g.tokenDelay)
			}
			if g.tokenMissing {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"message": "unknown token"})
				return
			}
			json.NewEncoder(w).Encode(OnChainProduct{TokenID: "42", Owner: "0xowner", StageName: "ForSale"})
		case strings.HasPrefix(r.URL.Path, "/contracts/"):
			json.NewEncoder(w).Encode(map[string]string{"address": strings.TrimPrefix(r.URL.Path, "/contracts/")})
		case strings.HasPrefix(r.URL.Path, "/wallets/"):
			json.NewEncoder(w).Encode(map[string]string{"balance_wei": "5000000000000000000"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func testClient(url string, timeout time.Duration) *Client {
	return NewClient(Config{
		RPCURL:             url,
		ProductNFTAddress:  "nft",
		SupplyChainAddress: "sc",
		CallTimeout:        timeout,
	}, zap.NewNop())
}

// Concurrent first calls must share one initialization attempt.
func TestInitializationSingleFlight(t *testing.T) {
	g := &gatewayFixture{}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	client := testClient(srv.URL, 5*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.GetProduct(context.Background(), "42")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&g.statusHits))
}

// A failed initialization resets the client so the next call retries from
// scratch instead of staying broken forever.
func TestInitializationFailureResets(t *testing.T) {
	g := &gatewayFixture{failStatus: 1}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	client := testClient(srv.URL, 5*time.Second)

	_, err := client.GetProduct(context.Background(), "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	product, err := client.GetProduct(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", product.TokenID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&g.statusHits))
}

func TestCallTimeoutClassification(t *testing.T) {
	g := &gatewayFixture{tokenDelay: 500 * time.Millisecond}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	client := testClient(srv.URL, 100*time.Millisecond)

	_, err := client.GetProduct(context.Background(), "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestCallUnavailableClassification(t *testing.T) {
	srv := httptest.NewServer((&gatewayFixture{}).handler())
	srv.Close() // connection refused from here on

	client := testClient(srv.URL, 100*time.Millisecond)

	_, err := client.GetProduct(context.Background(), "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTimeout)
}

// Client errors from the gateway carry its message and are neither timeouts
// nor outages.
func TestCallClientError(t *testing.T) {
	g := &gatewayFixture{tokenMissing: true}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	client := testClient(srv.URL, 5*time.Second)

	_, err := client.GetProduct(context.Background(), "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token")
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestWalletBalance(t *testing.T) {
	srv := httptest.NewServer((&gatewayFixture{}).handler())
	defer srv.Close()

	client := testClient(srv.URL, 5*time.Second)

	balance, err := client.WalletBalance(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000000", balance)
}
