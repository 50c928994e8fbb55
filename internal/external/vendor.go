package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vitalwatch/internal/types"
)

// defaultVendorBaseURL is the partner metrics endpoint of the wearable
// vendor. Overridable in config/tests.
const defaultVendorBaseURL = "https://partner.ultrahuman.com/api/v1/metrics"

// VendorConfig holds the configuration for creating a VendorClient.
type VendorConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Logger  *slog.Logger
}

// VendorClient fetches daily metric payloads from the wearable vendor API
// through BaseClient, so vendor calls share the platform's circuit breaking
// and retry behavior.
//
// The API identifies patients by email and takes the authorization key as a
// bare Authorization header, no Bearer prefix.
type VendorClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewVendorClient creates a VendorClient. The httpClient timeout should be
// set by the caller (30 seconds in the entrypoints).
func NewVendorClient(httpClient *http.Client, cfg VendorConfig) *VendorClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultVendorBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"vendor-metrics",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		"VitalWatch/1.0",
	)

	return &VendorClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// NewVendorClientWithBase creates a VendorClient over a pre-configured
// BaseClient, used by tests to disable retries.
func NewVendorClientWithBase(base *BaseClient, cfg VendorConfig) *VendorClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultVendorBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VendorClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// FetchDay retrieves the raw metrics payload for one (patient, day).
// A vendor 404 reports found=false with a nil error: "no data for that
// date" is a terminal outcome, not a transport failure.
func (c *VendorClient) FetchDay(ctx context.Context, patientID string, day types.Date) (json.RawMessage, bool, error) {
	query := url.Values{}
	query.Set("email", patientID)
	query.Set("date", day.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build vendor request", err)
	}
	req.Header.Set("Authorization", c.apiKey.Unmask())

	c.logger.InfoContext(ctx, "fetching vendor metrics", "date", day.String())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.WarnContext(ctx, "vendor has no metrics for date", "date", day.String())
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, types.NewAppError(types.ErrCodeUpstreamVendor,
			fmt.Sprintf("vendor returned unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeUpstreamVendor,
			"failed to read vendor response body", err)
	}
	if !json.Valid(body) {
		return nil, false, types.NewAppError(types.ErrCodeUpstreamVendor,
			"vendor response is not valid JSON", nil)
	}

	return json.RawMessage(body), true, nil
}
