// Package notify delivers operator notifications through the PushPlus API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skyfare/farewatch/internal/config"
)

// DefaultEndpoint is the fixed PushPlus send endpoint.
const DefaultEndpoint = "https://www.pushplus.plus/send"

// DefaultTimeout bounds a single notification POST.
const DefaultTimeout = 20 * time.Second

// PushPlus response codes the client understands.
const (
	codeOK           = 200
	codeInvalidToken = 903
)

// Format selects the PushPlus content template.
type Format string

const (
	// FormatMarkdown renders the body as markdown; used for success
	// notifications.
	FormatMarkdown Format = "markdown"
	// FormatHTML renders the body as HTML; used for failure notifications.
	FormatHTML Format = "html"
)

// Result classifies the delivery attempt.
type Result string

const (
	ResultDelivered     Result = "delivered"
	ResultRefused       Result = "refused"
	ResultRequestError  Result = "request_error"
	ResultResponseError Result = "response_error"
	ResultInvalidToken  Result = "invalid_token"
	ResultAPIError      Result = "api_error"
)

// Outcome reports what happened to one notification. It exists for logging;
// nothing downstream branches on it.
type Outcome struct {
	Delivered bool
	Result    Result
	Detail    string
}

type payload struct {
	Token    string `json:"token"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Template string `json:"template"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Config controls Client behavior. Zero values pick the fixed endpoint and
// default timeout.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client posts notifications to PushPlus.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send posts one notification. It refuses to issue the HTTP call when the
// token is empty or a known placeholder, and classifies every other outcome
// without returning an error: a failed notification is terminal for the run
// but never fatal to the process.
func (c *Client) Send(ctx context.Context, token, title, content string, format Format) Outcome {
	if token == "" || config.IsPlaceholderToken(token) {
		c.logger.Error("pushplus token empty or placeholder, refusing to send")
		return Outcome{Result: ResultRefused, Detail: "token empty or placeholder"}
	}

	c.logger.Info("sending pushplus notification",
		zap.String("title", title),
		zap.String("template", string(format)))

	body, err := json.Marshal(payload{
		Token:    token,
		Title:    title,
		Content:  content,
		Template: string(format),
	})
	if err != nil {
		return Outcome{Result: ResultRequestError, Detail: fmt.Sprintf("marshal payload: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Result: ResultRequestError, Detail: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("pushplus request failed", zap.Error(err))
		return Outcome{Result: ResultRequestError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	return c.classify(resp)
}

func (c *Client) classify(resp *http.Response) Outcome {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Error("read pushplus response failed", zap.Error(err))
		return Outcome{Result: ResultResponseError, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("pushplus returned non-2xx status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return Outcome{Result: ResultResponseError, Detail: fmt.Sprintf("http status %d", resp.StatusCode)}
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Error("pushplus response not parseable",
			zap.ByteString("body", raw), zap.Error(err))
		return Outcome{Result: ResultResponseError, Detail: "unparseable response body"}
	}

	switch parsed.Code {
	case codeOK:
		c.logger.Info("pushplus notification delivered")
		return Outcome{Delivered: true, Result: ResultDelivered}
	case codeInvalidToken:
		c.logger.Error("pushplus rejected the token, check PUSHPLUS_TOKEN",
			zap.Int("code", parsed.Code))
		return Outcome{Result: ResultInvalidToken, Detail: parsed.Msg}
	default:
		c.logger.Error("pushplus api error",
			zap.Int("code", parsed.Code),
			zap.String("msg", parsed.Msg))
		return Outcome{Result: ResultAPIError, Detail: parsed.Msg}
	}
}
