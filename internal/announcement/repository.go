// Package announcement serves admissions announcements cached from Elasticsearch.
package announcement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

var (
	ErrIndexSetupFailed = errors.New("INDEX_SETUP_FAILED")
	ErrDisposed         = errors.New("REPOSITORY_DISPOSED")
)

const (
	DefaultIndex = "announcements"
	defaultSize  = 50

	// AudienceAll matches announcements shown to every applicant.
	AudienceAll = "all"
)

const indexMapping = `{
	"mappings": {
		"properties": {
			"title": {"type": "text"},
			"body": {"type": "text"},
			"audience": {"type": "keyword"},
			"pinned": {"type": "boolean"},
			"publishedAt": {"type": "date"}
		}
	}
}`

// Repository owns the announcement cache. Callers construct it, Init it once, and
// Dispose it on shutdown.
type Repository struct {
	client *elasticsearch.Client
	index  string
	size   int
	logger logger.Logger

	mu          sync.RWMutex
	items       []models.Announcement
	refreshedAt time.Time
	disposed    bool
}

func NewRepository(client *elasticsearch.Client, index string, log logger.Logger) *Repository {
	if index == "" {
		index = DefaultIndex
	}
	return &Repository{
		client: client,
		index:  index,
		size:   defaultSize,
		logger: log.WithFields(map[string]interface{}{"component": "announcement", "index": index}),
	}
}

// Init creates the index when missing and loads the first snapshot.
func (r *Repository) Init(ctx context.Context) error {
	if err := r.ensureIndex(ctx); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

// Refresh replaces the cache with the currently published announcements. On error the
// previous snapshot stays in place.
func (r *Repository) Refresh(ctx context.Context) error {
	r.mu.RLock()
	disposed := r.disposed
	r.mu.RUnlock()
	if disposed {
		return ErrDisposed
	}

	items, err := r.search(ctx)
	if err != nil {
		r.logger.Warn("announcement refresh failed", map[string]interface{}{"error": err})
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return ErrDisposed
	}
	r.items = items
	r.refreshedAt = time.Now().UTC()
	r.logger.Debug("announcements refreshed", map[string]interface{}{"count": len(items)})
	return nil
}

// Run refreshes on every tick until ctx ends or the repository is disposed.
func (r *Repository) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); errors.Is(err, ErrDisposed) {
				return
			}
		}
	}
}

// List returns the cached announcements, pinned first then newest first.
func (r *Repository) List() []models.Announcement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Announcement(nil), r.items...)
}

// ForAudience returns announcements addressed to audience or to everyone.
func (r *Repository) ForAudience(audience string) []models.Announcement {
	var out []models.Announcement
	for _, a := range r.List() {
		if a.Audience == "" || a.Audience == AudienceAll || strings.EqualFold(a.Audience, audience) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Repository) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// Dispose drops the cache. Further refreshes fail with ErrDisposed.
func (r *Repository) Dispose() {
	r.mu.Lock()
	r.items = nil
	r.disposed = true
	r.mu.Unlock()
}

func (r *Repository) ensureIndex(ctx context.Context) error {
	res, err := r.client.Indices.Exists([]string{r.index}, r.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: exists: %v", ErrIndexSetupFailed, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("%w: exists: %s", ErrIndexSetupFailed, res.Status())
	}

	res, err = r.client.Indices.Create(
		r.index,
		r.client.Indices.Create.WithContext(ctx),
		r.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("%w: create: %v", ErrIndexSetupFailed, err)
	}
	defer res.Body.Close()

	// Another instance may have created it first.
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("%w: create: %s", ErrIndexSetupFailed, res.String())
	}
	r.logger.Info("announcement index created", nil)
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string              `json:"_id"`
			Source models.Announcement `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *Repository) search(ctx context.Context) ([]models.Announcement, error) {
	query := map[string]interface{}{
		"size": r.size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"range": map[string]interface{}{"publishedAt": map[string]interface{}{"lte": "now"}}},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"pinned": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"publishedAt": map[string]interface{}{"order": "desc"}},
		},
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(query); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(r.index, fmt.Errorf("encode query: %w", err))
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(&body),
	)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(r.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(r.index, errors.New(res.String()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(r.index, fmt.Errorf("decode response: %w", err))
	}

	out := make([]models.Announcement, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		a := hit.Source
		if a.ID == "" {
			a.ID = hit.ID
		}
		out = append(out, a)
	}
	return out, nil
}
