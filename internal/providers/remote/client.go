package remote

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

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/providers/vendor"
)

// ErrSynchronousFamily is returned when a status lookup is requested for a
// family that completes in its submit call.
var ErrSynchronousFamily = errors.New("remote: family has no status endpoint")

const fallbackMessage = "request failed"

// TokenSource supplies the bearer token of the current session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options configures the job API client.
type Options struct {
	BaseURL         string
	SecondaryVendor string
	ImageVendor     string
	HTTPClient      *http.Client
	Tokens          TokenSource
	Logger          *infra.Logger
	RequestTimeout  time.Duration
}

// Client maps job families onto the submit and status endpoints of the
// generation API. It does not retry or cache.
type Client struct {
	baseURL         string
	secondaryVendor string
	imageVendor     string
	httpClient      *http.Client
	tokens          TokenSource
	logger          *infra.Logger
}

// Error is a non-2xx response from the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.Message)
}

// NewClient constructs a client with defaults for the vendor path segments.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	secondary := strings.Trim(strings.TrimSpace(opts.SecondaryVendor), "/")
	if secondary == "" {
		secondary = "sora"
	}
	imageVendor := strings.Trim(strings.TrimSpace(opts.ImageVendor), "/")
	if imageVendor == "" {
		imageVendor = "nano"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		baseURL:         baseURL,
		secondaryVendor: secondary,
		imageVendor:     imageVendor,
		httpClient:      httpClient,
		tokens:          opts.Tokens,
		logger:          logger,
	}, nil
}

// Submit posts a job payload to the family's generate endpoint.
func (c *Client) Submit(ctx context.Context, family domain.Family, payload any) (vendor.Payload, error) {
	endpoint, err := c.submitPath(family)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remote: encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, body)
}

// Status fetches the current state of a remote task.
func (c *Client) Status(ctx context.Context, family domain.Family, remoteID string) (vendor.Payload, error) {
	endpoint, err := c.statusPath(family, remoteID)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) submitPath(family domain.Family) (string, error) {
	switch family {
	case domain.FamilyPrimaryVideo:
		return "/api/generate/video", nil
	case domain.FamilySecondaryVideoImageRef:
		return "/api/proxy/" + c.secondaryVendor + "/generate", nil
	case domain.FamilySecondaryVideoTextOnly:
		return "/api/proxy/" + c.secondaryVendor + "-text/generate", nil
	case domain.FamilyImageGen:
		return "/api/proxy/" + c.imageVendor + "/generate", nil
	default:
		return "", fmt.Errorf("remote: %w: %q", domain.ErrUnknownFamily, family)
	}
}

func (c *Client) statusPath(family domain.Family, remoteID string) (string, error) {
	id := strings.TrimSpace(remoteID)
	if id == "" {
		return "", errors.New("remote: remote id is required")
	}
	id = url.PathEscape(id)
	switch family {
	case domain.FamilyPrimaryVideo:
		return "/api/tasks/" + id, nil
	case domain.FamilySecondaryVideoImageRef:
		return "/api/proxy/" + c.secondaryVendor + "/result/" + id, nil
	case domain.FamilySecondaryVideoTextOnly:
		return "/api/proxy/" + c.secondaryVendor + "-text/result/" + id, nil
	case domain.FamilyImageGen:
		return "", ErrSynchronousFamily
	default:
		return "", fmt.Errorf("remote: %w: %q", domain.ErrUnknownFamily, family)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (vendor.Payload, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("remote: session token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		c.logger.Debug().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Message).
			Msg("remote: request rejected")
		return nil, apiErr
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Msg("remote: request ok")
	return payload, nil
}

func decodePayload(raw []byte) (vendor.Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return vendor.Payload{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload vendor.Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}
	if payload == nil {
		payload = vendor.Payload{}
	}
	return payload, nil
}

// errorMessage pulls a human-readable message out of an error body, falling
// back to a generic message when the body has none.
func errorMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return fallbackMessage
	}
	p := vendor.Payload(body)
	if detail, ok := p.Lookup("detail"); ok {
		if list, ok := detail.([]any); ok && len(list) > 0 {
			if item, ok := list[0].(map[string]any); ok {
				if msg := vendor.Payload(item).String("msg"); msg != "" {
					return msg
				}
			}
		}
	}
	msg := p.FirstString(
		[]string{"detail"},
		[]string{"error"},
		[]string{"error", "message"},
		[]string{"message"},
		[]string{"msg"},
	)
	if msg == "" {
		return fallbackMessage
	}
	return msg
}

// Message returns the user-facing text for a submit or status failure.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallbackMessage
}
