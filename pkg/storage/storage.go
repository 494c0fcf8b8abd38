// Package storage defines the external persistence collaborator §6
// assumes (the host process's "Scan" table) and provides an in-memory
// reference implementation, grounded on the teacher's pkg/history.Store:
// a mutex-guarded map keyed by id, copy-on-read/copy-on-write so callers
// can never mutate a stored record through a returned pointer.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vulnscan/scanengine/pkg/crawler"
	"github.com/vulnscan/scanengine/pkg/model"
)

// CrawlStats mirrors §6's persisted `crawlStats` sub-object.
type CrawlStats struct {
	TotalPages      int `json:"totalPages"`
	TotalForms      int `json:"totalForms"`
	TotalLinks      int `json:"totalLinks"`
	VisitedUrls     int `json:"visitedUrls"`
	MaxDepthReached int `json:"maxDepthReached"`
}

// FromCrawlerStats adapts the Crawler's own bookkeeping type to the
// persisted schema's field names.
func FromCrawlerStats(s crawler.CrawlStats) CrawlStats {
	return CrawlStats{
		TotalPages:      s.TotalPages,
		TotalForms:      s.TotalForms,
		TotalLinks:      s.TotalLinks,
		VisitedUrls:     s.VisitedUrls,
		MaxDepthReached: s.MaxDepthReached,
	}
}

// Scan is the persisted record shape §6 fixes for the external storage
// collaborator.
type Scan struct {
	ID              model.ScanId    `json:"id"`
	URL             string          `json:"url"`
	Status          string          `json:"status"`
	Vulnerabilities []model.Finding `json:"vulnerabilities"`
	PagesScanned    int             `json:"pagesScanned"`
	FormsFound      int             `json:"formsFound"`
	EndpointsTested int             `json:"endpointsTested"`
	CrawlStats      CrawlStats      `json:"crawlStats"`
	CreatedAt       time.Time       `json:"createdAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// ErrNotFound is returned by Get when no Scan exists for the given id.
var ErrNotFound = fmt.Errorf("storage: scan not found")

// Store is the interface the Coordinator's host process implements to
// persist and retrieve Scan records. The engine depends only on this
// interface; nothing in this module assumes an in-memory or file-backed
// implementation.
type Store interface {
	Create(ctx context.Context, scan Scan) error
	Update(ctx context.Context, scan Scan) error
	Get(ctx context.Context, id model.ScanId) (Scan, error)
	List(ctx context.Context) ([]Scan, error)
}

// MemStore is a reference Store implementation for embedding and tests. It
// is not durable across process restarts; a real deployment's front-end
// owns a database-backed implementation instead.
type MemStore struct {
	mu    sync.RWMutex
	scans map[model.ScanId]Scan
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{scans: make(map[model.ScanId]Scan)}
}

func cloneScan(s Scan) Scan {
	cp := s
	cp.Vulnerabilities = append([]model.Finding(nil), s.Vulnerabilities...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// Create inserts a new Scan record.
func (m *MemStore) Create(ctx context.Context, scan Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[scan.ID] = cloneScan(scan)
	return nil
}

// Update overwrites an existing Scan record.
func (m *MemStore) Update(ctx context.Context, scan Scan) error {
	return m.Create(ctx, scan)
}

// Get returns the Scan for id, or ErrNotFound.
func (m *MemStore) Get(ctx context.Context, id model.ScanId) (Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scans[id]
	if !ok {
		return Scan{}, ErrNotFound
	}
	return cloneScan(s), nil
}

// List returns every stored Scan, ordered by CreatedAt ascending.
func (m *MemStore) List(ctx context.Context) ([]Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Scan, 0, len(m.scans))
	for _, s := range m.scans {
		out = append(out, cloneScan(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
