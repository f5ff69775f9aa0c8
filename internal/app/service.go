package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kycdesk/api/internal/archive"
	"kycdesk/api/internal/checklist"
	"kycdesk/api/internal/export"
	"kycdesk/api/internal/inference"
	"kycdesk/api/internal/lease"
	"kycdesk/api/internal/metrics"
	"kycdesk/api/internal/search"
	"kycdesk/api/internal/store"
	"kycdesk/api/internal/util"
)

type caseStore interface {
	Create(context.Context, store.Case) error
	Get(context.Context, string) (store.Case, error)
	Update(context.Context, string, func(*store.Case) error) (store.Case, error)
	Delete(context.Context, string) error
	List(context.Context) ([]store.Case, error)
	Ping(context.Context) error
}

type extractor interface {
	Extract(context.Context, inference.Request) (inference.Result, error)
	Health(context.Context) error
}

type checklistGenerator interface {
	Generate(context.Context, string, store.Case) (checklist.File, error)
}

type documentArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Remove(ctx context.Context, key string) error
}

type caseIndex interface {
	IndexCase(caseID string)
	DeleteCase(caseID string)
	Search(context.Context, search.Query) search.Response
}

type summaryRenderer interface {
	CaseSummary(context.Context, store.Case) (*export.Result, error)
}

type CreateCaseInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CasePatch is a shallow top-level merge. Nil fields are left untouched.
type CasePatch struct {
	Name             *string                 `json:"name" validate:"omitempty,min=1,max=200"`
	Status           *store.CaseStatus       `json:"status" validate:"omitempty,oneof=draft extracting reviewing complete"`
	Directors        *[]store.Director       `json:"directors"`
	CompanyInfo      *store.CompanyInfo      `json:"companyInfo"`
	ProfessionalInfo *store.ProfessionalInfo `json:"professionalInfo"`
}

// DirectorPatch carries the manually entered director fields.
type DirectorPatch struct {
	PlaceOfBirth      *string `json:"placeOfBirth" validate:"omitempty,max=200"`
	Nationality       *string `json:"nationality" validate:"omitempty,max=100"`
	ResidentOfIndia   *string `json:"residentOfIndia" validate:"omitempty,oneof=Yes No"`
	Occupation        *string `json:"occupation" validate:"omitempty,max=200"`
	Education         *string `json:"education" validate:"omitempty,max=200"`
	SharesSubscribed  *string `json:"sharesSubscribed" validate:"omitempty,max=50"`
	DurationAtAddress *string `json:"durationAtAddress" validate:"omitempty,max=100"`
	Email             *string `json:"email" validate:"omitempty,email"`
	Mobile            *string `json:"mobile" validate:"omitempty,max=20"`
	DINNumber         *string `json:"dinNumber" validate:"omitempty,max=20"`
}

type AttachDocumentInput struct {
	Type     store.DocumentType `json:"type" validate:"required,oneof=pan aadhaar photo signature"`
	FileName string             `json:"fileName" validate:"max=255"`
	Content  string             `json:"content" validate:"required"`
}

type ExportResult struct {
	File checklist.File `json:"file"`
	Case store.Case     `json:"case"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return validationError(err.Error(), nil)
	}
	fields := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
	}
	return validationError(fmt.Sprintf("%s is invalid", fields[0]["field"]), map[string]any{"fields": fields})
}

type Service struct {
	store     caseStore
	inference extractor
	checklist checklistGenerator
	locker    lease.Locker
	leaseTTL  time.Duration
	fanOut    int
	archive   documentArchive
	search    caseIndex
	summary   summaryRenderer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func(prefix string) string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocker replaces the in-process extraction lease, e.g. with a Redis-backed one.
func WithLocker(locker lease.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = locker
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithExtractionConcurrency bounds the model calls a batch extraction runs at once.
func WithExtractionConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func WithArchive(a documentArchive) Option {
	return func(s *Service) { s.archive = a }
}

func WithSearch(index caseIndex) Option {
	return func(s *Service) { s.search = index }
}

func WithSummary(renderer summaryRenderer) Option {
	return func(s *Service) { s.summary = renderer }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cases caseStore, inf extractor, generator checklistGenerator, opts ...Option) *Service {
	s := &Service{
		store:     cases,
		inference: inf,
		checklist: generator,
		locker:    lease.NewMemoryLocker(),
		leaseTTL:  3 * time.Minute,
		fanOut:    store.DirectorCount * len(requiredSlotTypes),
		logger:    slog.Default(),
		now:       time.Now,
		newID:     util.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = search.NewService(nil, cases, s.logger)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) InferenceHealth(ctx context.Context) error {
	return s.inference.Health(ctx)
}

// LeaseHealth pings the lease backend when it is remote.
func (s *Service) LeaseHealth(ctx context.Context) error {
	if p, ok := s.locker.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// update runs mutate against the latest stored record, recomputes the case status from
// the result and reindexes the case.
func (s *Service) update(ctx context.Context, caseID string, mutate func(*store.Case) error) (store.Case, error) {
	updated, err := s.store.Update(ctx, caseID, func(c *store.Case) error {
		if err := mutate(c); err != nil {
			return err
		}
		c.Status = resolveStatus(*c)
		return nil
	})
	if err != nil {
		return store.Case{}, storeError(err, caseID)
	}
	s.search.IndexCase(updated.ID)
	return updated, nil
}

func (s *Service) ListCases(ctx context.Context) ([]store.Case, error) {
	return s.store.List(ctx)
}

func (s *Service) CreateCase(ctx context.Context, input CreateCaseInput) (store.Case, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return store.Case{}, err
	}
	c := store.NewCase(s.newID("case"), input.Name, s.now().UTC())
	if err := s.store.Create(ctx, c); err != nil {
		return store.Case{}, err
	}
	s.search.IndexCase(c.ID)
	s.logger.InfoContext(ctx, "case created", "case_id", c.ID, "name", c.Name)
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, caseID string) (store.Case, error) {
	c, err := s.store.Get(ctx, caseID)
	if err != nil {
		return store.Case{}, storeError(err, caseID)
	}
	return c, nil
}

// UpdateCase shallow-merges patch into the case. Patching directors without an explicit
// status recomputes the status from the new directors. A director whose extracted data
// changes loses its approval.
func (s *Service) UpdateCase(ctx context.Context, caseID string, patch CasePatch) (store.Case, error) {
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return store.Case{}, validationError("name must not be blank", map[string]any{"field": "name"})
		}
		patch.Name = &trimmed
	}
	if err := validateInput(patch); err != nil {
		return store.Case{}, err
	}
	var directors []store.Director
	if patch.Directors != nil {
		if len(*patch.Directors) != store.DirectorCount {
			return store.Case{}, validationError("directors must contain exactly two entries", map[string]any{"field": "directors"})
		}
		directors = make([]store.Director, len(*patch.Directors))
		for i, d := range *patch.Directors {
			if err := validateSlots(i, d.Documents); err != nil {
				return store.Case{}, err
			}
			directors[i] = canonicalDirector(d)
		}
	}

	updated, err := s.store.Update(ctx, caseID, func(c *store.Case) error {
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if directors != nil {
			for i := range directors {
				if i < len(c.Directors) && !sameExtraction(c.Directors[i], directors[i]) {
					directors[i].Validated = false
				}
			}
			c.Directors = directors
		}
		if patch.CompanyInfo != nil {
			c.CompanyInfo = *patch.CompanyInfo
		}
		if patch.ProfessionalInfo != nil {
			c.ProfessionalInfo = *patch.ProfessionalInfo
		}
		switch {
		case patch.Status != nil:
			c.Status = *patch.Status
		case directors != nil:
			c.Status = resolveStatus(*c)
		}
		return nil
	})
	if err != nil {
		return store.Case{}, storeError(err, caseID)
	}
	s.search.IndexCase(updated.ID)
	return updated, nil
}

func canonicalDirector(d store.Director) store.Director {
	out := d.Clone()
	if out.Documents == nil {
		out.Documents = []store.DocumentSlot{}
	}
	if out.PanData != nil {
		pan := inference.CanonicalPan(*out.PanData)
		out.PanData = &pan
	}
	if out.AadhaarData != nil {
		aadhaar := inference.CanonicalAadhaar(*out.AadhaarData)
		out.AadhaarData = &aadhaar
	}
	if out.Validated && (out.PanData == nil || out.AadhaarData == nil) {
		out.Validated = false
	}
	return out
}

// validateSlots enforces one slot per known type with a known status.
func validateSlots(directorIndex int, slots []store.DocumentSlot) error {
	seen := make(map[store.DocumentType]bool, len(slots))
	for i, slot := range slots {
		details := map[string]any{"directorIndex": directorIndex, "slot": i, "type": slot.Type}
		switch {
		case !slot.Type.Valid():
			return validationError(fmt.Sprintf("unknown document type %q", slot.Type), details)
		case seen[slot.Type]:
			return validationError(fmt.Sprintf("duplicate %s slot", slot.Type), details)
		case !slot.Status.Valid():
			details["status"] = slot.Status
			return validationError(fmt.Sprintf("unknown slot status %q", slot.Status), details)
		}
		seen[slot.Type] = true
	}
	return nil
}

func sameExtraction(a, b store.Director) bool {
	return equalData(a.PanData, b.PanData) && equalData(a.AadhaarData, b.AadhaarData)
}

func equalData[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Service) DeleteCase(ctx context.Context, caseID string) error {
	c, err := s.store.Get(ctx, caseID)
	if err != nil {
		return storeError(err, caseID)
	}
	if err := s.store.Delete(ctx, caseID); err != nil {
		return storeError(err, caseID)
	}
	for _, d := range c.Directors {
		for _, slot := range d.Documents {
			s.removeObject(ctx, slot.ObjectKey)
		}
	}
	s.search.DeleteCase(caseID)
	s.logger.InfoContext(ctx, "case deleted", "case_id", caseID)
	return nil
}

func (s *Service) SearchCases(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// UpdateDirector merges the manually entered director fields. Extracted data and
// approval are not touched.
func (s *Service) UpdateDirector(ctx context.Context, caseID string, directorIndex int, patch DirectorPatch) (store.Case, error) {
	if err := validateDirectorIndex(directorIndex); err != nil {
		return store.Case{}, err
	}
	patch = patch.trimmed()
	if err := validateInput(patch); err != nil {
		return store.Case{}, err
	}
	return s.update(ctx, caseID, func(c *store.Case) error {
		if directorIndex >= len(c.Directors) {
			return validationError("case has no director at this index", map[string]any{"directorIndex": directorIndex})
		}
		d := &c.Directors[directorIndex]
		setIfPresent(&d.PlaceOfBirth, patch.PlaceOfBirth)
		setIfPresent(&d.Nationality, patch.Nationality)
		setIfPresent(&d.ResidentOfIndia, patch.ResidentOfIndia)
		setIfPresent(&d.Occupation, patch.Occupation)
		setIfPresent(&d.Education, patch.Education)
		setIfPresent(&d.SharesSubscribed, patch.SharesSubscribed)
		setIfPresent(&d.DurationAtAddress, patch.DurationAtAddress)
		setIfPresent(&d.Email, patch.Email)
		setIfPresent(&d.Mobile, patch.Mobile)
		setIfPresent(&d.DINNumber, patch.DINNumber)
		return nil
	})
}

func (p DirectorPatch) trimmed() DirectorPatch {
	for _, field := range []**string{
		&p.PlaceOfBirth, &p.Nationality, &p.ResidentOfIndia, &p.Occupation, &p.Education,
		&p.SharesSubscribed, &p.DurationAtAddress, &p.Email, &p.Mobile, &p.DINNumber,
	} {
		if *field != nil {
			v := strings.TrimSpace(**field)
			*field = &v
		}
	}
	return p
}

func setIfPresent(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

// CorrectPanData replaces the director's PAN fields with a human-corrected copy.
// Any replacement revokes approval.
func (s *Service) CorrectPanData(ctx context.Context, caseID string, directorIndex int, data store.PanData) (store.Case, error) {
	if err := validateDirectorIndex(directorIndex); err != nil {
		return store.Case{}, err
	}
	canonical := inference.CanonicalPan(data)
	return s.update(ctx, caseID, func(c *store.Case) error {
		if directorIndex >= len(c.Directors) {
			return validationError("case has no director at this index", map[string]any{"directorIndex": directorIndex})
		}
		c.Directors[directorIndex].PanData = &canonical
		c.Directors[directorIndex].Validated = false
		return nil
	})
}

// CorrectAadhaarData replaces the director's Aadhaar fields with a human-corrected copy.
func (s *Service) CorrectAadhaarData(ctx context.Context, caseID string, directorIndex int, data store.AadhaarData) (store.Case, error) {
	if err := validateDirectorIndex(directorIndex); err != nil {
		return store.Case{}, err
	}
	canonical := inference.CanonicalAadhaar(data)
	return s.update(ctx, caseID, func(c *store.Case) error {
		if directorIndex >= len(c.Directors) {
			return validationError("case has no director at this index", map[string]any{"directorIndex": directorIndex})
		}
		c.Directors[directorIndex].AadhaarData = &canonical
		c.Directors[directorIndex].Validated = false
		return nil
	})
}

// ApproveDirector marks a director's extracted data as confirmed. Both PAN and Aadhaar
// data must be present; otherwise nothing is written.
func (s *Service) ApproveDirector(ctx context.Context, caseID string, directorIndex int) (store.Case, error) {
	if err := validateDirectorIndex(directorIndex); err != nil {
		return store.Case{}, err
	}
	updated, err := s.update(ctx, caseID, func(c *store.Case) error {
		if directorIndex >= len(c.Directors) {
			return validationError("case has no director at this index", map[string]any{"directorIndex": directorIndex})
		}
		d := &c.Directors[directorIndex]
		var missing []store.DocumentType
		if d.PanData == nil {
			missing = append(missing, store.DocumentPAN)
		}
		if d.AadhaarData == nil {
			missing = append(missing, store.DocumentAadhaar)
		}
		if len(missing) > 0 {
			return domainError(http.StatusConflict, CodeExtractionIncomplete, "Extraction incomplete", map[string]any{
				"directorIndex": directorIndex,
				"missing":       missing,
			})
		}
		d.Validated = true
		return nil
	})
	if err != nil {
		return store.Case{}, err
	}
	s.logger.InfoContext(ctx, "director approved", "case_id", caseID, "director_index", directorIndex, "case_status", updated.Status)
	return updated, nil
}

// AttachDocument stores an upload in the director's slot for its type.
func (s *Service) AttachDocument(ctx context.Context, caseID string, directorIndex int, input AttachDocumentInput) (store.Case, error) {
	input.FileName = strings.TrimSpace(input.FileName)
	if err := validateInput(input); err != nil {
		return store.Case{}, err
	}
	if err := validateDirectorIndex(directorIndex); err != nil {
		return store.Case{}, err
	}
	content, err := decodeContent(input.Content, input.FileName)
	if err != nil {
		return store.Case{}, err
	}
	if _, err := s.store.Get(ctx, caseID); err != nil {
		return store.Case{}, storeError(err, caseID)
	}

	slot := s.newSlot(input.Type, input.FileName, content)
	s.archiveSlot(ctx, caseID, directorIndex, &slot, content)

	var replaced *store.DocumentSlot
	updated, err := s.update(ctx, caseID, func(c *store.Case) error {
		directors, previous, err := attach(*c, directorIndex, slot)
		if err != nil {
			return err
		}
		c.Directors = directors
		replaced = previous
		return nil
	})
	if err != nil {
		s.removeObject(ctx, slot.ObjectKey)
		return store.Case{}, err
	}
	if replaced != nil {
		s.removeObject(ctx, replaced.ObjectKey)
	}
	s.logger.InfoContext(ctx, "document attached",
		"case_id", caseID,
		"director_index", directorIndex,
		"document_type", slot.Type,
		"slot_id", slot.ID,
		"mime_type", slot.MimeType,
		"bytes", len(content.Bytes),
	)
	return updated, nil
}

// DetachDocument removes the director's slot of docType.
func (s *Service) DetachDocument(ctx context.Context, caseID string, directorIndex int, docType store.DocumentType) (store.Case, error) {
	var removed *store.DocumentSlot
	updated, err := s.update(ctx, caseID, func(c *store.Case) error {
		directors, slot, err := detach(*c, directorIndex, docType)
		if err != nil {
			return err
		}
		c.Directors = directors
		removed = slot
		return nil
	})
	if err != nil {
		return store.Case{}, err
	}
	if removed != nil {
		s.removeObject(ctx, removed.ObjectKey)
	}
	return updated, nil
}

func (s *Service) newSlot(docType store.DocumentType, fileName string, content documentContent) store.DocumentSlot {
	if fileName == "" {
		fileName = string(docType) + "-upload" + content.Ext
	}
	return store.DocumentSlot{
		ID:         s.newID("doc"),
		Type:       docType,
		FileName:   fileName,
		Preview:    content.DataURI,
		Base64:     content.Payload,
		MimeType:   content.MimeType,
		Status:     store.SlotPending,
		UploadedAt: s.now().UTC(),
	}
}

// archiveSlot copies the original bytes to object storage when configured. Failures are
// logged and leave the slot without an object key.
func (s *Service) archiveSlot(ctx context.Context, caseID string, directorIndex int, slot *store.DocumentSlot, content documentContent) {
	if s.archive == nil {
		return
	}
	key := archive.ObjectKey(caseID, directorIndex, string(slot.Type), slot.ID, content.Ext)
	if err := s.archive.Put(ctx, key, content.Bytes, content.MimeType); err != nil {
		s.logger.WarnContext(ctx, "archive document failed", "case_id", caseID, "key", key, "error", err)
		return
	}
	slot.ObjectKey = key
}

func (s *Service) removeObject(ctx context.Context, key string) {
	if s.archive == nil || key == "" {
		return
	}
	if err := s.archive.Remove(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WarnContext(ctx, "remove archived document failed", "key", key, "error", err)
	}
}

// ExportChecklist asks the export service for the filled checklist. Success marks the
// case complete; failure leaves the status unchanged.
func (s *Service) ExportChecklist(ctx context.Context, caseID string) (ExportResult, error) {
	c, err := s.store.Get(ctx, caseID)
	if err != nil {
		return ExportResult{}, storeError(err, caseID)
	}

	file, err := s.checklist.Generate(ctx, c.Name, c)
	if err != nil {
		s.metrics.IncrementExport("failed")
		s.logger.WarnContext(ctx, "checklist export failed", "case_id", caseID, "error", err)
		return ExportResult{}, domainError(http.StatusBadGateway, CodeExportFailed, "Checklist export failed", map[string]any{
			"reason": err.Error(),
		})
	}

	exportedAt := s.now().UTC()
	updated, err := s.store.Update(ctx, caseID, func(c *store.Case) error {
		c.ExportedAt = &exportedAt
		c.Status = store.CaseStatusComplete
		return nil
	})
	if err != nil {
		return ExportResult{}, storeError(err, caseID)
	}
	s.search.IndexCase(updated.ID)
	s.metrics.IncrementExport("ok")
	s.logger.InfoContext(ctx, "checklist exported", "case_id", caseID, "file_name", file.Name, "bytes", file.Size)
	return ExportResult{File: file, Case: updated}, nil
}

// CaseSummaryPDF prints a read-only summary of the case.
func (s *Service) CaseSummaryPDF(ctx context.Context, caseID string) (*export.Result, error) {
	if s.summary == nil {
		return nil, domainError(http.StatusServiceUnavailable, CodePDFUnavailable, "PDF rendering is not configured", nil)
	}
	c, err := s.store.Get(ctx, caseID)
	if err != nil {
		return nil, storeError(err, caseID)
	}
	result, err := s.summary.CaseSummary(ctx, c)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, CodePDFUnavailable, "PDF rendering is unavailable on this server", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("case summary: %w", err)
	}
	return result, nil
}
