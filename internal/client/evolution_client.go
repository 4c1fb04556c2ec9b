package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrGatewayFailure = errors.New("gateway failure")
	ErrConnection     = fmt.Errorf("%w: connection error", ErrGatewayFailure)
	ErrTimeout        = fmt.Errorf("%w: timeout", ErrGatewayFailure)
	ErrUnavailable    = fmt.Errorf("%w: circuit open", ErrGatewayFailure)
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultDelayMS = 1000

	maxErrorBody = 512
)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d body=%q", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrGatewayFailure
}

// EvolutionClient sends WhatsApp texts through one Evolution API instance.
type EvolutionClient struct {
	baseURL  string
	apiKey   string
	instance string
	delayMS  int
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

type Option func(*EvolutionClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *EvolutionClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *EvolutionClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithDelay sets the typing delay the gateway applies before sending.
func WithDelay(ms int) Option {
	return func(c *EvolutionClient) { c.delayMS = ms }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *EvolutionClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// BreakerSettings controls when the client stops calling a failing gateway.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenFor             time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenFor: 30 * time.Second, HalfOpenRequests: 1}
}

func WithBreaker(s BreakerSettings) Option {
	return func(c *EvolutionClient) { c.breaker = c.newBreaker(s) }
}

func NewEvolutionClient(baseURL, apiKey, instance string, opts ...Option) *EvolutionClient {
	c := &EvolutionClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		instance: instance,
		delayMS:  DefaultDelayMS,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = c.newBreaker(DefaultBreakerSettings())
	}
	return c
}

func (c *EvolutionClient) newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "evolution-" + c.instance,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// A rejected request says nothing about gateway health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("gateway circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// SendText delivers text to number and returns the gateway's message id,
// which may be empty. Failures wrap ErrGatewayFailure.
func (c *EvolutionClient) SendText(ctx context.Context, number, text string) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.send(ctx, number, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (c *EvolutionClient) send(ctx context.Context, number, text string) (string, error) {
	reqBody, err := json.Marshal(sendTextRequest{
		Number: number,
		Text:   text,
		Delay:  c.delayMS,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var sr sendTextResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		c.logger.Debug("gateway response without message key", zap.Error(err))
	}
	return sr.Key.ID, nil
}

func classify(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
