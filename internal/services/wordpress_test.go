package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/titlesync/backend/internal/models"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://blog.example.com", "https://blog.example.com/wp-json/wp/v2"},
		{"blog.example.com/", "https://blog.example.com/wp-json/wp/v2"},
		{"http://example.com/news/", "http://example.com/news/wp-json/wp/v2"},
		{"https://example.com/wp-json/wp/v2/", "https://example.com/wp-json/wp/v2"},
		{"https://example.com/wp-json", "https://example.com/wp-json/wp/v2"},
	}
	for _, test := range tests {
		got, err := NormalizeBaseURL(test.in)
		if err != nil {
			t.Errorf("NormalizeBaseURL(%q) returned error: %v", test.in, err)
			continue
		}
		if got != test.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", test.in, got, test.want)
		}
	}

	for _, bad := range []string{"", "ftp://example.com", "https://"} {
		if _, err := NormalizeBaseURL(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("NormalizeBaseURL(%q): expected ErrValidation, got %v", bad, err)
		}
	}
}

func TestSlugFromLocator(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/film/the-godfather/", "the-godfather"},
		{"https://example.com/film/The Godfather", "the-godfather"},
		{"/posts/amelie", "amelie"},
		{"plain-slug", "plain-slug"},
	}
	for _, test := range tests {
		if got := slugFromLocator(test.in); got != test.want {
			t.Errorf("slugFromLocator(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

// fakeWordPress serves film 7 by id and a post with slug "the-godfather".
func fakeWordPress(t *testing.T, updates *[]map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/wp/v2/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "editor" || pass != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/wp-json/wp/v2")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && path == "/film/7":
			fmt.Fprint(w, `{"id":7,"slug":"heat","link":"https://example.com/film/heat/"}`)
		case r.Method == http.MethodGet && path == "/posts" && r.URL.Query().Get("slug") == "the-godfather":
			fmt.Fprint(w, `[{"id":42,"slug":"the-godfather"}]`)
		case r.Method == http.MethodGet && (path == "/film" || path == "/posts" || path == "/pages"):
			fmt.Fprint(w, `[]`)
		case r.Method == http.MethodPost && path == "/posts/42":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			*updates = append(*updates, body)
			fmt.Fprint(w, `{"id":42,"slug":"the-godfather"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":"rest_post_invalid_id"}`)
		}
	})
	return httptest.NewServer(mux)
}

func testDomain(srv *httptest.Server) *models.Domain {
	return &models.Domain{BaseURL: srv.URL + "/wp-json/wp/v2", Login: "editor", APISecret: "app-pass", IsWordPress: true}
}

func TestResolveByID(t *testing.T) {
	var updates []map[string]interface{}
	srv := fakeWordPress(t, &updates)
	defer srv.Close()

	w := NewWordPressPublisher(nil, 5*time.Second)
	res, err := w.Resolve(context.Background(), "7", testDomain(srv))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.ID != 7 || res.Collection != "film" {
		t.Errorf("Expected film 7, got %+v", res)
	}
}

func TestResolveBySlugFallsThroughCollections(t *testing.T) {
	var updates []map[string]interface{}
	srv := fakeWordPress(t, &updates)
	defer srv.Close()

	w := NewWordPressPublisher(nil, 5*time.Second)
	res, err := w.Resolve(context.Background(), "https://example.com/2020/01/the-godfather/", testDomain(srv))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.ID != 42 || res.Collection != "posts" {
		t.Errorf("Expected post 42, got %+v", res)
	}
}

func TestResolveNotFoundAfterAllStrategies(t *testing.T) {
	var updates []map[string]interface{}
	srv := fakeWordPress(t, &updates)
	defer srv.Close()

	w := NewWordPressPublisher(nil, 5*time.Second)
	for _, locator := range []string{"99", "https://example.com/film/unknown/"} {
		if _, err := w.Resolve(context.Background(), locator, testDomain(srv)); !errors.Is(err, ErrResourceNotFound) {
			t.Errorf("Resolve(%q): expected ErrResourceNotFound, got %v", locator, err)
		}
	}
}

func TestPublishPostsContentAndMeta(t *testing.T) {
	var updates []map[string]interface{}
	srv := fakeWordPress(t, &updates)
	defer srv.Close()

	w := NewWordPressPublisher(nil, 5*time.Second)
	cred := testDomain(srv)
	res, err := w.Resolve(context.Background(), "the-godfather", cred)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	_, err = w.Publish(context.Background(), res, PublishFields{
		Title:           "Le Parrain",
		Content:         "Une famille mafieuse...",
		MetaDescription: "Le classique de Coppola.",
	}, cred)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("Expected one update, got %d", len(updates))
	}
	body := updates[0]
	if body["title"] != "Le Parrain" || body["content"] != "Une famille mafieuse..." {
		t.Errorf("Unexpected body %v", body)
	}
	meta, _ := body["meta"].(map[string]interface{})
	if meta["_yoast_wpseo_metadesc"] != "Le classique de Coppola." {
		t.Errorf("Expected yoast meta description, got %v", body["meta"])
	}
}

func TestPublishReportsRemoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w := NewWordPressPublisher([]string{"posts"}, 5*time.Second)
	_, err := w.Publish(context.Background(), &RemoteResource{ID: 1}, PublishFields{Content: "x"}, testDomain(srv))
	if err == nil {
		t.Errorf("Expected an error from a 403 response")
	}
}
