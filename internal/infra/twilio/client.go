package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"road_anomaly_reconciler/internal/infra/config"

	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://api.twilio.com/2010-04-01"
	maxRetryAfter  = 10 * time.Second
)

// Client posts messages to the Twilio Messages resource of one account.
type Client struct {
	endpoint    string
	accountSID  string
	authToken   string
	maxRetries  int
	httpClient  *http.Client
	log         *logrus.Entry
	baseBackoff time.Duration
}

func New(cfg config.TwilioConfig, log *logrus.Entry) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		endpoint:    fmt.Sprintf("%s/Accounts/%s/Messages.json", base, cfg.AccountSID),
		accountSID:  cfg.AccountSID,
		authToken:   cfg.AuthToken,
		maxRetries:  max(cfg.MaxRetries, 0),
		httpClient:  &http.Client{Timeout: timeout},
		log:         log.WithField("client", "twilio"),
		baseBackoff: time.Second,
	}, nil
}

type SendMessageRequest struct {
	To        string
	From      string
	Body      string
	MediaURLs []string
}

func (r SendMessageRequest) form() url.Values {
	form := url.Values{}
	form.Set("To", r.To)
	form.Set("From", r.From)
	if r.Body != "" {
		form.Set("Body", r.Body)
	}
	for _, u := range r.MediaURLs {
		form.Add("MediaUrl", u)
	}
	return form
}

// Message is the part of the Twilio message resource that gets logged.
type Message struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// HTTPError is a non-2xx answer. Code and Message come from the Twilio error body when present.
type HTTPError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio: status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// SendMessage creates one message, retrying throttling, 5xx and transport
// failures up to the configured number of times with doubling backoff.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	if req.To == "" || req.From == "" {
		return nil, errors.New("twilio: sender and recipient are required")
	}
	if req.Body == "" && len(req.MediaURLs) == 0 {
		return nil, errors.New("twilio: message has neither body nor media")
	}

	body := req.form().Encode()
	backoff := c.baseBackoff
	for attempt := 0; ; attempt++ {
		msg, wait, err := c.post(ctx, body)
		if err == nil {
			return msg, nil
		}
		if attempt >= c.maxRetries || !shouldRetry(err) {
			return nil, err
		}
		if wait <= 0 {
			wait = backoff
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"wait":    wait.String(),
		}).Warn("Twilio request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.temporary()
	}
	return true
}

// post performs a single attempt. wait carries the server's Retry-After hint.
func (c *Client) post(ctx context.Context, body string) (msg *Message, wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retryAfter(resp.Header), decodeError(resp)
	}

	msg = &Message{}
	if err := json.NewDecoder(resp.Body).Decode(msg); err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("twilio: decode response: %w", err)
	}
	return msg, 0, nil
}

func decodeError(resp *http.Response) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		httpErr.Code, httpErr.Message = payload.Code, payload.Message
	}
	return httpErr
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs < 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
