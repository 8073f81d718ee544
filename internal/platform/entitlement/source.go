package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/draftforge-labs/draftforge-go/internal/platform/env"
)

// ErrSourceUnavailable reports that the tier lookup backend could not be
// reached. Callers treat it as a transient failure, not a denial.
var ErrSourceUnavailable = errors.New("entitlement source unavailable")

// Source resolves the subscription tier of a user.
type Source interface {
	TierFor(ctx context.Context, userID string) (Tier, error)
}

// StaticSource serves tiers from a fixed map. Users absent from the map get
// the configured default tier. Useful for tests and single-tenant installs.
type StaticSource struct {
	Tiers   map[string]Tier
	Default Tier
}

func (s StaticSource) TierFor(_ context.Context, userID string) (Tier, error) {
	if tier, ok := s.Tiers[strings.TrimSpace(userID)]; ok {
		return tier, nil
	}
	def := s.Default
	if !def.Valid() {
		def = TierFree
	}
	return def, nil
}

// HTTPSource asks a billing service for the user's tier. The endpoint is
// expected to answer GET {base}/users/{id}/plan with {"tier": "..."}.
type HTTPSource struct {
	baseURL string
	http    *http.Client
}

type HTTPSourceConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("entitlement source base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSource) TierFor(ctx context.Context, userID string) (Tier, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	endpoint := s.baseURL + "/users/" + url.PathEscape(userID) + "/plan"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out struct {
			Tier string `json:"tier"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode plan response: %w", err)
		}
		return NormalizeTier(out.Tier), nil
	case resp.StatusCode == http.StatusNotFound:
		return TierFree, nil
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	default:
		return "", fmt.Errorf("plan lookup failed with status %d", resp.StatusCode)
	}
}

// Config selects and parameterizes the gate's tier source.
type Config struct {
	Source      string
	BaseURL     string
	Timeout     time.Duration
	DefaultTier Tier
	MatrixFile  string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("ENTITLEMENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Source:      env.String("ENTITLEMENT_SOURCE", "static"),
		BaseURL:     env.String("ENTITLEMENT_BASE_URL", ""),
		Timeout:     timeout,
		DefaultTier: NormalizeTier(env.String("ENTITLEMENT_DEFAULT_TIER", string(TierFree))),
		MatrixFile:  env.String("ENTITLEMENT_MATRIX_FILE", ""),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Source)) {
	case "static":
		return nil
	case "http":
		if strings.TrimSpace(c.BaseURL) == "" {
			return errors.New("ENTITLEMENT_BASE_URL is required when ENTITLEMENT_SOURCE=http")
		}
		return nil
	default:
		return fmt.Errorf("ENTITLEMENT_SOURCE must be static or http, got %q", c.Source)
	}
}

// NewSource builds the tier source described by cfg.
func NewSource(cfg Config) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.ToLower(strings.TrimSpace(cfg.Source)) == "http" {
		return NewHTTPSource(HTTPSourceConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	}
	return StaticSource{Default: cfg.DefaultTier}, nil
}
