package app

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycdesk/api/internal/checklist"
	"kycdesk/api/internal/export"
	"kycdesk/api/internal/inference"
	"kycdesk/api/internal/logger"
	"kycdesk/api/internal/store"
)

var pngContent = base64.StdEncoding.EncodeToString(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 24)...))

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeInference struct {
	extractFn func(context.Context, inference.Request) (inference.Result, error)
	healthFn  func(context.Context) error
}

func (f *fakeInference) Extract(ctx context.Context, req inference.Request) (inference.Result, error) {
	if f.extractFn != nil {
		return f.extractFn(ctx, req)
	}
	return stubResult(store.DocumentType(req.DocumentKind)), nil
}

func (f *fakeInference) Health(ctx context.Context) error {
	if f.healthFn != nil {
		return f.healthFn(ctx)
	}
	return nil
}

type fakeChecklist struct {
	generateFn func(context.Context, string, store.Case) (checklist.File, error)
}

func (f *fakeChecklist) Generate(ctx context.Context, caseName string, c store.Case) (checklist.File, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, caseName, c)
	}
	return checklist.File{Name: checklist.SafeFileName(caseName), ContentBase64: "UEsDBA==", Size: 4}, nil
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (f *fakeArchive) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeArchive) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeArchive) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for key := range f.objects {
		out = append(out, key)
	}
	return out
}

type fakeSummary struct {
	caseSummaryFn func(context.Context, store.Case) (*export.Result, error)
}

func (f *fakeSummary) CaseSummary(ctx context.Context, c store.Case) (*export.Result, error) {
	return f.caseSummaryFn(ctx, c)
}

func stubResult(kind store.DocumentType) inference.Result {
	switch kind {
	case store.DocumentPAN:
		return inference.Result{Kind: kind, Elapsed: 1.5, Pan: &store.PanData{
			Name:        "RAHUL SHARMA",
			FathersName: "VIJAY SHARMA",
			DateOfBirth: "12/04/1986",
			PANNumber:   "BQJPK6347Q",
		}}
	case store.DocumentAadhaar:
		return inference.Result{Kind: kind, Elapsed: 2.25, Aadhaar: &store.AadhaarData{
			Name:          "Rahul Sharma",
			AadhaarNumber: "8765 4321 0987",
			DateOfBirth:   "12/04/1986",
			Gender:        "MALE",
			Address:       "14 MG Road, Bengaluru",
		}}
	}
	return inference.Result{}
}

func newTestService(t *testing.T, inf *fakeInference, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	if inf == nil {
		inf = &fakeInference{}
	}
	cases := store.NewMemoryStore()
	base := []Option{
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return fixedNow }),
	}
	svc := New(cases, inf, &fakeChecklist{}, append(base, opts...)...)
	return svc, cases
}

func createCase(t *testing.T, svc *Service, name string) store.Case {
	t.Helper()
	c, err := svc.CreateCase(context.Background(), CreateCaseInput{Name: name})
	require.NoError(t, err)
	return c
}

func upload(t *testing.T, svc *Service, caseID string, directorIndex int, docType store.DocumentType) store.Case {
	t.Helper()
	c, err := svc.AttachDocument(context.Background(), caseID, directorIndex, AttachDocumentInput{
		Type:     docType,
		FileName: string(docType) + ".png",
		Content:  pngContent,
	})
	require.NoError(t, err)
	return c
}

func slotOf(t *testing.T, c store.Case, directorIndex int, docType store.DocumentType) store.DocumentSlot {
	t.Helper()
	idx := c.Directors[directorIndex].Slot(docType)
	require.GreaterOrEqual(t, idx, 0, "no %s slot on director %d", docType, directorIndex)
	return c.Directors[directorIndex].Documents[idx]
}

func requireCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, code, domainErr.Code)
	return domainErr
}
