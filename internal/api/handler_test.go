package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testContext(method, path, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRespondDataEnvelope(t *testing.T) {
	c, w := testContext(http.MethodPost, "/api/orders", "")

	respondData(c, http.StatusCreated, []string{"o1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []interface{}{"o1"}, body["data"])
	assert.NotContains(t, body, "error")
}

func TestRespondErrorEnvelope(t *testing.T) {
	h := &Handler{logger: zap.NewNop()}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			"validation",
			fmt.Errorf("quantity must be positive: %w", service.ErrValidation),
			http.StatusBadRequest,
			"",
		},
		{
			"insufficient stock",
			fmt.Errorf("product p1 has 0, requested 2: %w", service.ErrInsufficientStock),
			http.StatusConflict,
			"",
		},
		{"not found", service.ErrNotFound, http.StatusNotFound, "Not found"},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "Access denied"},
		{"internal", assert.AnError, http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := testContext(http.MethodGet, "/api/orders/o1", "")

			h.respondError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, false, body["success"])
			if tt.message == "" {
				// Validation and stock errors carry their own detail.
				assert.Equal(t, tt.err.Error(), body["message"])
			} else {
				assert.Equal(t, tt.message, body["message"])
			}
			assert.NotContains(t, body, "error")
		})
	}
}

func TestCreateOrderBindingFailureEnvelope(t *testing.T) {
	h := &Handler{logger: zap.NewNop()}
	c, w := testContext(http.MethodPost, "/api/orders", `{"items": "not-a-list"}`)

	h.createOrder(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid request body", body["message"])
}

func TestVerifyBindingFailureEnvelope(t *testing.T) {
	h := &Handler{logger: zap.NewNop()}
	c, w := testContext(http.MethodPost, "/api/verify", `{}`)

	h.verifyQR(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "QR data is required", body["message"])
}
