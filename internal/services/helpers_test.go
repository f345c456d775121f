package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/titlesync/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.Job{}, &models.Domain{}, &models.Segment{},
		&models.TranslationRecord{}, &models.PublishFailure{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

// writeCSV writes a source file with n rows keyed tt0..tt<n-1>.
func writeCSV(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("imdbid,title,description,permalink\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "tt%d,Title %d,Body %d,https://example.com/film/title-%d/\n", i, i, i, i)
	}
	path := filepath.Join(t.TempDir(), "source.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("Failed to write csv: %v", err)
	}
	return path
}

// fakeLocalizer echoes "<lang>:<op>:<text>" and lets tests inject behavior.
type fakeLocalizer struct {
	mu    sync.Mutex
	calls []string
	hook  func(text, lang string, op Operation) error

	// hang, when set, makes matching calls wait for ctx; entered receives
	// the text of each hanging call
	hang    func(text, lang string, op Operation) bool
	entered chan string
}

func (f *fakeLocalizer) Localize(ctx context.Context, text, lang string, op Operation) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s|%s|%s", lang, op, text))
	hook, hang, entered := f.hook, f.hang, f.entered
	f.mu.Unlock()

	if hang != nil && hang(text, lang, op) {
		if entered != nil {
			entered <- text
		}
		<-ctx.Done()
		return "", ctx.Err()
	}

	if hook != nil {
		if err := hook(text, lang, op); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s:%s:%s", lang, op, text), nil
}

func (f *fakeLocalizer) setHook(h func(text, lang string, op Operation) error) {
	f.mu.Lock()
	f.hook = h
	f.mu.Unlock()
}

func (f *fakeLocalizer) setHang(h func(text, lang string, op Operation) bool) <-chan string {
	entered := make(chan string, 1)
	f.mu.Lock()
	f.hang = h
	f.entered = entered
	f.mu.Unlock()
	return entered
}

func (f *fakeLocalizer) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu        sync.Mutex
	failOn    map[string]bool
	published []string
}

func (p *fakePublisher) Resolve(ctx context.Context, locator string, cred *models.Domain) (*RemoteResource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[locator] {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, locator)
	}
	return &RemoteResource{ID: 1, Slug: locator, Collection: "film"}, nil
}

func (p *fakePublisher) Publish(ctx context.Context, res *RemoteResource, fields PublishFields, cred *models.Domain) (*RemoteResource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, res.Slug)
	return res, nil
}

func waitDone(t *testing.T, js *JobService, id string) {
	t.Helper()
	select {
	case <-js.Done(id):
	case <-time.After(10 * time.Second):
		t.Fatalf("Job %s did not finish in time", id)
	}
}
