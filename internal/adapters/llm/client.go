// Package llm is a completion client for OpenAI-compatible chat APIs.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"repoaudit/internal/core/errors"
	"repoaudit/internal/shared/observability"
	"repoaudit/internal/shared/util"
)

const (
	DefaultRetryWait    = 2 * time.Second
	DefaultRetryMaxWait = 30 * time.Second
	// charsPerToken matches the batching estimate.
	charsPerToken = 4
)

type Options struct {
	BaseURL           string
	Model             string
	APIKey            string
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	TokensPerMinute   int
	RetryWait         time.Duration
	RetryMaxWait      time.Duration
}

type Client struct {
	http  *resty.Client
	model string
	temp  float64
	rpm   *util.Limiter
	tpm   *util.Limiter
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func New(opts Options) *Client {
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = DefaultRetryMaxWait
	}

	client := resty.New()
	client.SetLogger(slogAdapter{})
	client.
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(retryable)
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &Client{
		http:  client,
		model: opts.Model,
		temp:  opts.Temperature,
		rpm:   util.NewPerMinute(opts.RequestsPerMinute),
		tpm:   util.NewPerMinute(opts.TokensPerMinute),
	}
}

// retryable retries transport errors, rate limiting and server errors.
func retryable(r *resty.Response, err error) bool {
	if err != nil {
		return r == nil || r.Request == nil || r.Request.Context().Err() == nil
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// EstimateTokens approximates the prompt size used for rate limiting.
func EstimateTokens(system, user string) int {
	return (len(system)+len(user))/charsPerToken + 1
}

// Complete sends one chat completion and returns the assistant text. It
// waits on the request and token budgets first. Transport failures and
// non-2xx replies are LLM_FAILURE errors; a reply without choices is
// MALFORMED_RESPONSE.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.rpm.Wait(ctx, 1); err != nil {
		return "", errors.Wrap(err, errors.CodeCanceled, "waiting for request budget")
	}
	if err := c.tpm.Wait(ctx, EstimateTokens(system, user)); err != nil {
		return "", errors.Wrap(err, errors.CodeCanceled, "waiting for token budget")
	}

	start := time.Now()
	defer func() { observability.LLMRequestDuration.Observe(time.Since(start).Seconds()) }()

	var result chatResponse
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(chatRequest{
			Model:          c.model,
			Temperature:    c.temp,
			ResponseFormat: map[string]string{"type": "json_object"},
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		observability.LLMRequestsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), errors.CodeCanceled, "completion canceled")
		}
		if resp != nil && resp.IsSuccess() {
			return "", errors.Wrap(err, errors.CodeMalformedResponse, "completion reply is not valid JSON")
		}
		return "", errors.Wrap(err, errors.CodeLLMFailure, "completion request failed")
	}
	if resp.IsError() {
		observability.LLMRequestsTotal.WithLabelValues("error").Inc()
		msg := failure.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", errors.New(errors.CodeLLMFailure, fmt.Sprintf("completion failed with status %d: %s", resp.StatusCode(), msg))
	}

	observability.LLMTokensTotal.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
	observability.LLMTokensTotal.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		observability.LLMRequestsTotal.WithLabelValues("empty").Inc()
		return "", errors.New(errors.CodeMalformedResponse, "completion returned no content")
	}
	observability.LLMRequestsTotal.WithLabelValues("ok").Inc()
	slog.Debug("completion finished",
		"model", c.model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"elapsed", time.Since(start))
	return result.Choices[0].Message.Content, nil
}

// slogAdapter forwards resty's internal logging to slog.
type slogAdapter struct{}

func (slogAdapter) Errorf(format string, v ...interface{}) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "llm")
}

func (slogAdapter) Warnf(format string, v ...interface{}) {
	slog.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "llm")
}

func (slogAdapter) Debugf(format string, v ...interface{}) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "llm")
}
