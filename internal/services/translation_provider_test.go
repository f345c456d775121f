package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func newTestProvider(url string) (*TranslationProvider, *[]time.Duration) {
	p := NewTranslationProvider(ProviderOptions{
		BaseURL:        url,
		APIKey:         "sk-test",
		RetryAttempts:  3,
		RetryPause:     time.Minute,
		RequestTimeout: 2 * time.Second,
	}, nil)
	var pauses []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}
	return p, &pauses
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"La Casa de Papel"`, "La Casa de Papel"},
		{`'Le Fabuleux Destin'`, "Le Fabuleux Destin"},
		{"«Amélie»", "Amélie"},
		{"“Der Untergang”", "Der Untergang"},
		{`""Doubled""`, `"Doubled"`},
		{`"unbalanced`, `"unbalanced`},
		{`"`, `"`},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := stripQuotes(test.in); got != test.want {
			t.Errorf("stripQuotes(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestLocalizeSendsPromptAndStripsQuotes(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		chatReply(w, `  "Le Parrain"  `)
	}))
	defer srv.Close()

	p, _ := newTestProvider(srv.URL)
	out, err := p.Localize(context.Background(), "The Godfather", "fr", OpTitle)
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	if out != "Le Parrain" {
		t.Errorf("Expected stripped title, got %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != "gpt-4" || len(gotReq.Messages) != 1 {
		t.Fatalf("Unexpected request %+v", gotReq)
	}
	prompt := gotReq.Messages[0].Content
	if !strings.Contains(prompt, `"The Godfather"`) || !strings.Contains(prompt, "fr-speaking") {
		t.Errorf("Title prompt not rendered: %q", prompt)
	}
}

func TestLocalizeQuotaIsNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`},
		{"insufficient quota", http.StatusForbidden, `{"error":{"code":"insufficient_quota"}}`},
	}
	for _, test := range tests {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(test.status)
			w.Write([]byte(test.body))
		}))

		p, pauses := newTestProvider(srv.URL)
		_, err := p.Localize(context.Background(), "text", "es", OpBody)
		if !errors.Is(err, ErrQuotaExhausted) {
			t.Errorf("%s: expected ErrQuotaExhausted, got %v", test.name, err)
		}
		if atomic.LoadInt32(&calls) != 1 || len(*pauses) != 0 {
			t.Errorf("%s: expected a single call without pause, got %d calls, %d pauses", test.name, calls, len(*pauses))
		}
		srv.Close()
	}
}

func TestLocalizeRetriesTransientFailuresAfterPause(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 4 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		chatReply(w, "Hola")
	}))
	defer srv.Close()

	p, pauses := newTestProvider(srv.URL)
	out, err := p.Localize(context.Background(), "Hello", "es", OpBody)
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	if out != "Hola" {
		t.Errorf("Expected Hola, got %q", out)
	}
	if calls != 5 {
		t.Errorf("Expected 5 calls, got %d", calls)
	}
	if len(*pauses) != 1 || (*pauses)[0] != time.Minute {
		t.Errorf("Expected one 1m pause between rounds, got %v", *pauses)
	}
}

func TestLocalizeNeverRetriesWithoutPause(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		chatReply(w, "Hola")
	}))
	defer srv.Close()

	for _, pause := range []time.Duration{0, -time.Second} {
		atomic.StoreInt32(&calls, 0)
		p := NewTranslationProvider(ProviderOptions{BaseURL: srv.URL, RetryAttempts: 3, RetryPause: pause}, nil)
		var pauses []time.Duration
		p.sleep = func(ctx context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		}
		if _, err := p.Localize(context.Background(), "Hello", "es", OpTitle); err != nil {
			t.Fatalf("Localize failed: %v", err)
		}
		if len(pauses) != 1 || pauses[0] != DefaultRetryPause {
			t.Errorf("RetryPause %s: expected one %s pause, got %v", pause, DefaultRetryPause, pauses)
		}
	}
}

func TestLocalizeTimeoutIsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		chatReply(w, "Bonjour")
	}))
	defer srv.Close()

	p, _ := newTestProvider(srv.URL)
	p.opts.RequestTimeout = 100 * time.Millisecond
	out, err := p.Localize(context.Background(), "Hello", "fr", OpBody)
	if err != nil || out != "Bonjour" {
		t.Errorf("Expected retry after timeout to succeed, got %q, %v", out, err)
	}
}

func TestLocalizeStopsWhenContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := newTestProvider(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	_, err := p.Localize(ctx, "Hello", "fr", OpBody)
	if err == nil || errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Expected a non-quota error after cancel, got %v", err)
	}
}

func TestWithTemplatesKeepsContract(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Messages[0].Content
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	custom, err := ParsePrompts(map[Operation]string{OpTitle: "T[{{.Language}}] {{.Text}}"})
	if err != nil {
		t.Fatalf("ParsePrompts failed: %v", err)
	}
	base, _ := newTestProvider(srv.URL)
	p := base.WithTemplates(custom)

	_, err = p.Localize(context.Background(), "Heat", "de", OpTitle)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Expected quota contract unchanged, got %v", err)
	}
	if prompt != "T[de] Heat" {
		t.Errorf("Expected custom prompt, got %q", prompt)
	}
	if _, ok := p.prompts[OpBody]; !ok {
		t.Errorf("Expected body template to be kept")
	}
}
