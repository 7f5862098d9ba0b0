package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/phonegate/server/internal/logger"
)

const defaultRetryDelay = 500 * time.Millisecond

// APIError is a request the provider answered but rejected.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kavenegar: status %d: %s", e.Status, e.Message)
}

func (e *APIError) temporary() bool {
	return e.Status >= 500
}

// Kavenegar sends codes through the Kavenegar verify/lookup API.
type Kavenegar struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	template   string
	retryDelay time.Duration
	log        *slog.Logger
}

// KavenegarOption configures a Kavenegar client.
type KavenegarOption func(*Kavenegar)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) KavenegarOption {
	return func(k *Kavenegar) { k.httpClient = c }
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) KavenegarOption {
	return func(k *Kavenegar) { k.retryDelay = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) KavenegarOption {
	return func(k *Kavenegar) { k.log = log }
}

// NewKavenegar creates a client for the API at baseURL.
func NewKavenegar(baseURL, apiKey, template string, timeout time.Duration, opts ...KavenegarOption) *Kavenegar {
	k := &Kavenegar{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		template:   template,
		retryDelay: defaultRetryDelay,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

type lookupResponse struct {
	Return struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"return"`
}

// Send delivers code to phone with the configured template. Transport failures and
// provider 5xx answers are retried once.
func (k *Kavenegar) Send(ctx context.Context, phone, code string) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(k.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := k.lookup(ctx, phone, code)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.temporary() {
			return err
		}
		k.log.WarnContext(ctx, "sms lookup failed", logger.Phone(phone), "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

func (k *Kavenegar) lookup(ctx context.Context, phone, code string) error {
	q := url.Values{}
	q.Set("receptor", phone)
	q.Set("token", code)
	q.Set("template", k.template)
	q.Set("type", "sms")
	endpoint := fmt.Sprintf("%s/v1/%s/verify/lookup.json?%s", k.baseURL, url.PathEscape(k.apiKey), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Return.Status == 0 {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: unexpected body")
	}
	if parsed.Return.Status != http.StatusOK {
		return &APIError{Status: parsed.Return.Status, Message: parsed.Return.Message}
	}
	return nil
}
