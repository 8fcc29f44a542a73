package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"meetdash/internal/config"
	"meetdash/internal/logging"
	"meetdash/internal/metrics"
)

const maxErrorBody = 4 << 10

// StreamClient implements Client against a Stream-compatible REST API.
type StreamClient struct {
	baseURL string
	apiKey  string
	signer  *TokenSigner
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// BreakerSettings tunes the circuit breaker in front of the platform.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings trips after 5 requests with 60% failures.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// NewStreamClient builds the REST client from config.
func NewStreamClient(cfg config.VideoConfig, bs BreakerSettings, logger *zap.Logger) (*StreamClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("video api key is required")
	}
	signer, err := NewTokenSigner(cfg.APISecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger).Named("video")
	c := &StreamClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		signer:  signer,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "video-platform",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bs.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bs.FailureThreshold
		},
		// a 4xx is our mistake, not a sign the platform is unhealthy
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

func (c *StreamClient) UpsertUsers(ctx context.Context, users ...User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return c.do(ctx, "upsert_users", "/api/v2/users", map[string]any{"users": byID})
}

func (c *StreamClient) CreateCall(ctx context.Context, req CreateCallRequest) error {
	data := map[string]any{
		"created_by_id": req.CreatedByID,
		"custom":        req.Custom,
		"settings_override": map[string]any{
			"transcription": map[string]any{
				"mode":                "auto-on",
				"closed_caption_mode": "auto-on",
				"language":            req.TranscriptionLanguage,
			},
			"recording": map[string]any{
				"mode":    "auto-on",
				"quality": req.RecordingQuality,
			},
		},
	}
	return c.do(ctx, "create_call", callPath(req.Type, req.ID), map[string]any{"data": data})
}

func (c *StreamClient) DeleteCall(ctx context.Context, callType, callID string) error {
	return c.do(ctx, "delete_call", callPath(callType, callID)+"/delete", map[string]any{"hard": true})
}

func (c *StreamClient) CreateToken(userID string) (string, error) {
	return c.signer.UserToken(userID)
}

func callPath(callType, callID string) string {
	return "/api/v2/video/call/" + url.PathEscape(callType) + "/" + url.PathEscape(callID)
}

func (c *StreamClient) do(ctx context.Context, op, path string, body any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, path, body)
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		c.logger.Warn("video request failed", zap.String("operation", op), zap.Error(err))
		err = fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
	}
	metrics.VideoRequests.WithLabelValues(op, outcome).Inc()
	return err
}

func (c *StreamClient) send(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	token, err := c.signer.ServerToken()
	if err != nil {
		return fmt.Errorf("sign server token: %w", err)
	}
	endpoint := c.baseURL + path + "?api_key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("stream-auth-type", "jwt")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

// StatusError is a non-2xx platform response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}
