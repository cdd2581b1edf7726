package hologram

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Client talks to the external hologram-image microservice. The service
// renders a UV hologram label with a steganographic layer; only a prefix of
// the verification code goes into that layer, so leaked hologram data alone
// cannot forge a valid scan.
type Client struct {
	baseURL   string
	uploadDir string
	http      *http.Client
	logger    *zap.Logger
}

func NewClient(baseURL, uploadDir string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		uploadDir: uploadDir,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

type generateRequest struct {
	StoreName  string `json:"store_name"`
	TokenID    string `json:"token_id,omitempty"`
	CodePrefix string `json:"code_prefix"`
}

type generateResponse struct {
	Image string `json:"image"` // base64 PNG
}

// Label is the persisted result of a hologram generation.
type Label struct {
	Path        string
	GeneratedAt time.Time
}

// Generate requests a hologram label and stores the rendered image. The
// caller passes a truncated codePrefix; the full verification code never
// leaves this service.
func (c *Client) Generate(ctx context.Context, storeName, tokenID, codePrefix string) (*Label, error) {
	body, err := json.Marshal(generateRequest{
		StoreName:  storeName,
		TokenID:    tokenID,
		CodePrefix: codePrefix,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-hologram", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hologram service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hologram service error: %d - %s", resp.StatusCode, string(detail))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("hologram service returned invalid JSON: %w", err)
	}
	if out.Image == "" {
		return nil, fmt.Errorf("hologram service returned no image data")
	}

	raw, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, fmt.Errorf("hologram image is not valid base64: %w", err)
	}

	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hologram directory: %w", err)
	}
	filename := fmt.Sprintf("hologram_%d.png", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(c.uploadDir, filename), raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save hologram image: %w", err)
	}

	path := "/uploads/holograms/" + filename
	c.logger.Debug("Hologram label generated",
		zap.String("store", storeName),
		zap.String("path", path))

	return &Label{Path: path, GeneratedAt: time.Now().UTC()}, nil
}
