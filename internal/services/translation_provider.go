package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/titlesync/backend/internal/logger"
)

// ProviderOptions configures a TranslationProvider.
type ProviderOptions struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration // per upstream call
	RetryAttempts  int           // back-to-back attempts before pausing
	RetryPause     time.Duration // sleep after a failed round of attempts
}

// TranslationProvider localizes text through an OpenAI compatible chat
// completions endpoint.
type TranslationProvider struct {
	opts    ProviderOptions
	http    *resty.Client
	prompts PromptSet
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// DefaultRetryPause is the sleep between retry rounds when none is configured.
const DefaultRetryPause = 60 * time.Second

// NewTranslationProvider builds a provider with the default prompt set.
func NewTranslationProvider(opts ProviderOptions, metrics *Metrics) *TranslationProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4"
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	if opts.RetryPause <= 0 {
		opts.RetryPause = DefaultRetryPause
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &TranslationProvider{
		opts:    opts,
		http:    resty.New().SetHeader("Content-Type", "application/json"),
		prompts: DefaultPrompts(),
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// WithTemplates returns a copy of the provider that renders prompts from set.
// Operations missing from set keep their current template.
func (p *TranslationProvider) WithTemplates(set PromptSet) *TranslationProvider {
	merged := make(PromptSet, len(p.prompts)+len(set))
	for op, tpl := range p.prompts {
		merged[op] = tpl
	}
	for op, tpl := range set {
		merged[op] = tpl
	}
	cp := *p
	cp.prompts = merged
	return &cp
}

// Localize returns text localized into language for the given operation.
//
// Failures other than quota exhaustion are retried RetryAttempts times in a
// row, then again after RetryPause, for as long as ctx is alive.
func (p *TranslationProvider) Localize(ctx context.Context, text, language string, op Operation) (string, error) {
	prompt, err := p.prompts.Render(op, PromptData{Text: text, Language: language})
	if err != nil {
		return "", err
	}

	log := logger.WithProvider(string(op), language)
	for round := 1; ; round++ {
		var lastErr error
		for attempt := 1; attempt <= p.opts.RetryAttempts; attempt++ {
			result, err := p.complete(ctx, prompt)
			if err == nil {
				p.metrics.UpstreamCalls.WithLabelValues(string(op), "ok").Inc()
				return result, nil
			}
			if errors.Is(err, ErrQuotaExhausted) {
				p.metrics.UpstreamCalls.WithLabelValues(string(op), "quota").Inc()
				log.WithError(err).Error("Translation quota exhausted")
				return "", err
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.metrics.UpstreamCalls.WithLabelValues(string(op), "error").Inc()
			log.WithError(err).Warnf("Translation attempt %d failed", attempt)
			lastErr = err
		}

		log.WithError(lastErr).Warnf("Retry round %d exhausted, pausing for %s", round, p.opts.RetryPause)
		if err := p.sleep(ctx, p.opts.RetryPause); err != nil {
			return "", fmt.Errorf("translation aborted after %d rounds: %w", round, lastErr)
		}
	}
}

func (p *TranslationProvider) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	var out chatResponse
	resp, err := p.http.R().
		SetContext(callCtx).
		SetAuthToken(p.opts.APIKey).
		SetBody(chatRequest{
			Model:     p.opts.Model,
			Messages:  []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens: p.opts.MaxTokens,
		}).
		SetResult(&out).
		Post(strings.TrimRight(p.opts.BaseURL, "/") + "/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}

	body := resp.String()
	if resp.StatusCode() == http.StatusTooManyRequests || strings.Contains(body, "insufficient_quota") {
		return "", fmt.Errorf("%w: %s", ErrQuotaExhausted, abbreviate(body, 300))
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completion failed: %s; body: %s", resp.Status(), abbreviate(body, 300))
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return stripQuotes(strings.TrimSpace(out.Choices[0].Message.Content)), nil
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"«", "»"},
	{"“", "”"},
}

// stripQuotes removes one layer of enclosing quotes.
func stripQuotes(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
