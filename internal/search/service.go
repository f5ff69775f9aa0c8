package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"kycdesk/api/internal/store"
)

const defaultLimit = 20

// CaseSource is the store the index is synced from. List also backs the fallback scan
// when Meilisearch is unavailable.
type CaseSource interface {
	Get(context.Context, string) (store.Case, error)
	List(context.Context) ([]store.Case, error)
}

type documentIndex interface {
	Healthy() bool
	Search(Query) ([]Result, int, error)
	IndexCase(CaseRecord) error
	DeleteCase(string) error
	IndexCases([]CaseRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to scanning the
// case store. Index updates are queued by case id and applied by a single worker that
// re-reads the stored case, so the index converges on the latest write.
type Service struct {
	index  documentIndex
	cases  CaseSource
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	closing sync.Once
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, cases CaseSource, logger *slog.Logger) *Service {
	if meili == nil {
		return newService(nil, cases, logger)
	}
	return newService(meili, cases, logger)
}

func newService(index documentIndex, cases CaseSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		index:   index,
		cases:   cases,
		logger:  logger,
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if index != nil && cases != nil {
		go s.run()
	} else {
		close(s.stopped)
	}
	return s
}

// Close stops the index worker. Queued updates not yet applied are dropped.
func (s *Service) Close() {
	s.closing.Do(func() { close(s.done) })
	<-s.stopped
}

// Search tries Meilisearch if healthy, otherwise scans the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to store scan", "error", err)
	}

	results, total, err := s.scan(ctx, q)
	if err != nil {
		s.logger.Error("case scan failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: "store"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "store"}
}

// IndexCase queues the case for reindexing from its latest stored state.
func (s *Service) IndexCase(id string) {
	if s.index == nil || s.cases == nil {
		return
	}
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// DeleteCase queues the removal of a deleted case from the index.
func (s *Service) DeleteCase(id string) {
	s.IndexCase(id)
}

func (s *Service) run() {
	defer close(s.stopped)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		batch := s.pending
		s.pending = make(map[string]struct{})
		s.mu.Unlock()
		for id := range batch {
			s.sync(ctx, id)
		}
	}
}

func (s *Service) sync(ctx context.Context, id string) {
	if !s.index.Healthy() {
		return
	}
	c, err := s.cases.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := s.index.DeleteCase(id); err != nil {
			s.logger.Warn("delete case from index failed", "case_id", id, "error", err)
		}
	case err != nil:
		s.logger.Warn("load case for indexing failed", "case_id", id, "error", err)
	default:
		if err := s.index.IndexCase(RecordFromCase(c)); err != nil {
			s.logger.Warn("index case failed", "case_id", id, "error", err)
		}
	}
}

// ReindexAll pushes every stored case to Meilisearch. Called at startup.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.cases == nil {
		return
	}
	cases, err := s.cases.List(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	records := make([]CaseRecord, 0, len(cases))
	for _, c := range cases {
		records = append(records, RecordFromCase(c))
	}
	if err := s.index.IndexCases(records); err != nil {
		s.logger.Warn("reindex cases failed", "error", err)
	}
}

func (s *Service) scan(ctx context.Context, q Query) ([]Result, int, error) {
	if s.cases == nil {
		return nil, 0, nil
	}
	cases, err := s.cases.List(ctx)
	if err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var results []Result
	total := 0
	for _, c := range cases {
		rec := RecordFromCase(c)
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		snippet, ok := matchRecord(rec, needle)
		if !ok {
			continue
		}
		total++
		if len(results) < q.Limit {
			results = append(results, Result{
				ID:        rec.ID,
				Name:      rec.Name,
				Status:    rec.Status,
				Directors: rec.DirectorNames,
				Snippet:   snippet,
			})
		}
	}
	return results, total, nil
}

// matchRecord reports whether needle occurs in any searchable field and returns the
// matching value as a snippet. An empty needle matches everything.
func matchRecord(rec CaseRecord, needle string) (string, bool) {
	if needle == "" {
		return "", true
	}
	fields := append([]string{rec.Name}, rec.DirectorNames...)
	fields = append(fields, rec.PANNumbers...)
	fields = append(fields, rec.Emails...)
	for _, value := range fields {
		if strings.Contains(strings.ToLower(value), needle) {
			return value, true
		}
	}
	return "", false
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
