package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gosimple/slug"
	"github.com/sony/gobreaker"
	"github.com/titlesync/backend/internal/logger"
	"github.com/titlesync/backend/internal/models"
)

const wordPressAPIPath = "/wp-json/wp/v2"

// RemoteResource is the subset of a WordPress post the publisher needs.
type RemoteResource struct {
	ID         int    `json:"id"`
	Slug       string `json:"slug"`
	Link       string `json:"link"`
	Collection string `json:"-"`
}

// PublishFields are the localized values written to a remote resource.
type PublishFields struct {
	Title           string
	Content         string
	Excerpt         string
	MetaDescription string
}

// WordPressPublisher resolves and updates posts over the WordPress REST API.
type WordPressPublisher struct {
	http        *resty.Client
	collections []string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewWordPressPublisher creates a publisher that searches collections in order.
func NewWordPressPublisher(collections []string, timeout time.Duration) *WordPressPublisher {
	if len(collections) == 0 {
		collections = []string{"film", "posts", "pages"}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WordPressPublisher{
		http:        resty.New().SetTimeout(timeout),
		collections: collections,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// NormalizeBaseURL turns a site address into its REST API root.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: CMS url is required", ErrValidation)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid CMS url %q", ErrValidation, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported CMS url scheme %q", ErrValidation, u.Scheme)
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.Index(path, "/wp-json"); i >= 0 {
		path = path[:i]
	}
	u.Path = path + wordPressAPIPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Resolve finds the remote resource a row points at. Numeric locators are
// looked up by id first, everything else by slug, across every collection.
func (w *WordPressPublisher) Resolve(ctx context.Context, locator string, cred *models.Domain) (*RemoteResource, error) {
	if cred == nil {
		return nil, errors.New("no CMS credential configured")
	}
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, fmt.Errorf("%w: empty locator", ErrResourceNotFound)
	}
	log := logger.WithPublisher(cred.BaseURL, locator)

	if id, ok := numericID(locator); ok {
		for _, collection := range w.collections {
			var res RemoteResource
			found, err := w.get(ctx, cred, fmt.Sprintf("/%s/%d", collection, id), nil, &res)
			if err != nil {
				return nil, err
			}
			if found && res.ID != 0 {
				res.Collection = collection
				return &res, nil
			}
		}
		log.Debug("No resource found by id, trying slug lookup")
	}

	s := slugFromLocator(locator)
	if s == "" {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, locator)
	}
	for _, collection := range w.collections {
		var list []RemoteResource
		found, err := w.get(ctx, cred, "/"+collection, map[string]string{"slug": s}, &list)
		if err != nil {
			return nil, err
		}
		if found && len(list) > 0 {
			res := list[0]
			res.Collection = collection
			return &res, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, locator)
}

// Publish writes fields onto an already resolved resource.
func (w *WordPressPublisher) Publish(ctx context.Context, res *RemoteResource, fields PublishFields, cred *models.Domain) (*RemoteResource, error) {
	if cred == nil || res == nil {
		return nil, errors.New("publish needs a resolved resource and a credential")
	}
	body := map[string]interface{}{
		"content": fields.Content,
	}
	if fields.Title != "" {
		body["title"] = fields.Title
	}
	if fields.Excerpt != "" {
		body["excerpt"] = fields.Excerpt
	}
	if fields.MetaDescription != "" {
		body["meta"] = map[string]string{
			"_yoast_wpseo_metadesc": fields.MetaDescription,
		}
	}

	collection := res.Collection
	if collection == "" {
		collection = w.collections[0]
	}
	endpoint := fmt.Sprintf("%s/%s/%d", strings.TrimRight(cred.BaseURL, "/"), collection, res.ID)

	var updated RemoteResource
	_, err := w.breaker(cred.BaseURL).Execute(func() (interface{}, error) {
		resp, err := w.http.R().
			SetContext(ctx).
			SetBasicAuth(cred.Login, cred.APISecret).
			SetBody(body).
			SetResult(&updated).
			Post(endpoint)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("update %s/%d failed: %s; body: %s", collection, res.ID, resp.Status(), abbreviate(resp.String(), 300))
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	updated.Collection = collection
	return &updated, nil
}

// get fetches path into out. A 404 is reported as found=false without error.
func (w *WordPressPublisher) get(ctx context.Context, cred *models.Domain, path string, query map[string]string, out interface{}) (bool, error) {
	endpoint := strings.TrimRight(cred.BaseURL, "/") + path
	found := false
	_, err := w.breaker(cred.BaseURL).Execute(func() (interface{}, error) {
		resp, err := w.http.R().
			SetContext(ctx).
			SetBasicAuth(cred.Login, cred.APISecret).
			SetQueryParams(query).
			SetResult(out).
			Get(endpoint)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound, resp.StatusCode() == http.StatusBadRequest:
			return nil, nil
		case resp.IsError():
			return nil, fmt.Errorf("GET %s failed: %s", path, resp.Status())
		}
		found = true
		return nil, nil
	})
	return found, err
}

func (w *WordPressPublisher) breaker(baseURL string) *gobreaker.CircuitBreaker {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cb, ok := w.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})
	w.breakers[host] = cb
	return cb
}

// numericID accepts "123" as well as a URL carrying ?p=123.
func numericID(locator string) (int, bool) {
	if id, err := strconv.Atoi(locator); err == nil && id > 0 {
		return id, true
	}
	if u, err := url.Parse(locator); err == nil {
		if id, err := strconv.Atoi(u.Query().Get("p")); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// slugFromLocator takes the last path segment of a URL, or the locator itself.
func slugFromLocator(locator string) string {
	path := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return slug.Make(path)
}
