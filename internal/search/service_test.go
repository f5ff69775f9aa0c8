package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycdesk/api/internal/store"
)

type fakeLister struct {
	listFn func(context.Context) ([]store.Case, error)
}

func (f *fakeLister) Get(ctx context.Context, id string) (store.Case, error) {
	cases, err := f.listFn(ctx)
	if err != nil {
		return store.Case{}, err
	}
	for _, c := range cases {
		if c.ID == id {
			return c, nil
		}
	}
	return store.Case{}, store.ErrNotFound
}

func (f *fakeLister) List(ctx context.Context) ([]store.Case, error) {
	return f.listFn(ctx)
}

type recordingIndex struct {
	mu      sync.Mutex
	indexed []CaseRecord
	deleted []string
}

func (r *recordingIndex) Healthy() bool { return true }

func (r *recordingIndex) Search(Query) ([]Result, int, error) {
	return nil, 0, errors.New("not indexed")
}

func (r *recordingIndex) IndexCase(rec CaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, rec)
	return nil
}

func (r *recordingIndex) DeleteCase(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *recordingIndex) IndexCases(records []CaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, records...)
	return nil
}

func (r *recordingIndex) last() (CaseRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.indexed) == 0 {
		return CaseRecord{}, false
	}
	return r.indexed[len(r.indexed)-1], true
}

func (r *recordingIndex) deletedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func seededCases() []store.Case {
	now := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	abc := store.NewCase("case_abc", "ABC Pvt Ltd", now)
	abc.Status = store.CaseStatusExtracting
	abc.Directors[0].PanData = &store.PanData{Name: "KISHORE SHEIK AHAMED M R", PANNumber: "BQJPK6347Q"}
	abc.Directors[1].AadhaarData = &store.AadhaarData{Name: "Asha Raman", AadhaarNumber: "8765 4321 0987"}

	xyz := store.NewCase("case_xyz", "XYZ Traders", now.Add(-time.Hour))
	xyz.Directors[0].Email = "ops@xyz.example"
	return []store.Case{abc, xyz}
}

func TestScanMatchesNameDirectorsAndPAN(t *testing.T) {
	svc := NewService(nil, &fakeLister{listFn: func(context.Context) ([]store.Case, error) {
		return seededCases(), nil
	}}, nil)
	ctx := context.Background()

	tests := []struct {
		query string
		want  []string
	}{
		{"abc", []string{"case_abc"}},
		{"bqjpk", []string{"case_abc"}},
		{"asha", []string{"case_abc"}},
		{"xyz.example", []string{"case_xyz"}},
		{"", []string{"case_abc", "case_xyz"}},
		{"nobody", nil},
	}
	for _, tt := range tests {
		resp := svc.Search(ctx, Query{Text: tt.query})
		var ids []string
		for _, r := range resp.Results {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, tt.want, ids, tt.query)
		assert.Equal(t, len(tt.want), resp.Total, tt.query)
		assert.Equal(t, "store", resp.Source)
		assert.NotNil(t, resp.Results)
	}
}

func TestScanHonorsStatusAndLimit(t *testing.T) {
	svc := NewService(nil, &fakeLister{listFn: func(context.Context) ([]store.Case, error) {
		return seededCases(), nil
	}}, nil)

	resp := svc.Search(context.Background(), Query{Status: string(store.CaseStatusDraft)})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "case_xyz", resp.Results[0].ID)

	resp = svc.Search(context.Background(), Query{Limit: 1})
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 2, resp.Total)
}

func TestScanListFailureReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeLister{listFn: func(context.Context) ([]store.Case, error) {
		return nil, errors.New("db down")
	}}, nil)
	resp := svc.Search(context.Background(), Query{Text: "abc"})
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestRecordFromCaseOmitsAadhaarNumber(t *testing.T) {
	rec := RecordFromCase(seededCases()[0])
	assert.Equal(t, []string{"KISHORE SHEIK AHAMED M R", "Asha Raman"}, rec.DirectorNames)
	assert.Equal(t, []string{"BQJPK6347Q"}, rec.PANNumbers)
	assert.NotContains(t, rec.DirectorNames, "8765 4321 0987")
}

func TestIndexingWithoutMeiliIsNoOp(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.IndexCase("case_abc")
	svc.DeleteCase("case_abc")
	svc.ReindexAll(context.Background())
	svc.Close()
}

func TestIndexCaseUsesLatestStoredState(t *testing.T) {
	cases := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, cases.Create(ctx, seededCases()[0]))

	index := &recordingIndex{}
	svc := newService(index, cases, nil)
	t.Cleanup(svc.Close)

	for _, status := range []store.CaseStatus{store.CaseStatusReviewing, store.CaseStatusComplete} {
		_, err := cases.Update(ctx, "case_abc", func(c *store.Case) error {
			c.Status = status
			return nil
		})
		require.NoError(t, err)
		svc.IndexCase("case_abc")
	}

	require.Eventually(t, func() bool {
		rec, ok := index.last()
		return ok && rec.Status == string(store.CaseStatusComplete)
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteCaseRemovesMissingCaseFromIndex(t *testing.T) {
	index := &recordingIndex{}
	svc := newService(index, store.NewMemoryStore(), nil)
	t.Cleanup(svc.Close)

	svc.DeleteCase("case_gone")
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"case_gone"}, index.deletedIDs())
	}, time.Second, 5*time.Millisecond)
	_, indexed := index.last()
	assert.False(t, indexed)
}
