package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/resilience"
)

// RemoteConfig configures the encrypted key store client
type RemoteConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int

	// BreakerThreshold consecutive failures stop lookups for BreakerCooldown
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// RemoteStore fetches keys from the settings service that owns the
// encrypted key vault:
//
//	GET {BaseURL}/providers/{id}/api-key -> {"provider": "...", "api_key": "..."}
type RemoteStore struct {
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

type keyResponse struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRemoteStore creates a client for the key store at cfg.BaseURL
func NewRemoteStore(cfg RemoteConfig, logger *zap.Logger) *RemoteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "squadron-term/1.0").
		SetTransport(retryClient.StandardClient().Transport)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	breaker := resilience.New("credentials", resilience.Settings{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, ErrNoCredential) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Credential store breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RemoteStore{client: client, breaker: breaker, logger: logger}
}

// APIKey returns the stored key for providerID. Once the store has failed
// repeatedly, lookups fail fast with resilience.ErrOpen until a probe
// succeeds.
func (s *RemoteStore) APIKey(ctx context.Context, providerID string) (string, error) {
	var key string
	err := s.breaker.Do(func() error {
		var err error
		key, err = s.fetch(ctx, providerID)
		return err
	})
	if errors.Is(err, resilience.ErrOpen) {
		return "", fmt.Errorf("credential store: %w", err)
	}
	return key, err
}

func (s *RemoteStore) fetch(ctx context.Context, providerID string) (string, error) {
	var body keyResponse
	var failure errorResponse

	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&failure).
		Get("/providers/" + url.PathEscape(providerID) + "/api-key")
	if err != nil {
		return "", fmt.Errorf("credential store: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", ErrNoCredential
	case resp.IsError():
		s.logger.Warn("Credential store request failed",
			zap.String("provider", providerID),
			zap.Int("status", resp.StatusCode()),
			zap.String("error", failure.Error))
		return "", fmt.Errorf("credential store: status %d", resp.StatusCode())
	case body.APIKey == "":
		return "", ErrNoCredential
	}
	return body.APIKey, nil
}
