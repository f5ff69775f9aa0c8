package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kycdesk/api/internal/inference"
	"kycdesk/api/internal/lease"
	"kycdesk/api/internal/store"
)

type ExtractInput struct {
	FileName string `json:"fileName" validate:"max=255"`
	// Content optionally replaces the stored upload before extracting.
	Content string `json:"content"`
}

type ExtractAllInput struct {
	// Force re-extracts slots that already finished.
	Force bool `json:"force"`
}

// ExtractionOutcome reports the terminal state of one slot extraction.
type ExtractionOutcome struct {
	CaseID         string             `json:"caseId"`
	DirectorIndex  int                `json:"directorIndex"`
	DocumentType   store.DocumentType `json:"documentType"`
	SlotID         string             `json:"slotId,omitempty"`
	Status         store.SlotStatus   `json:"status,omitempty"`
	PanData        *store.PanData     `json:"panData,omitempty"`
	AadhaarData    *store.AadhaarData `json:"aadhaarData,omitempty"`
	ElapsedSeconds float64            `json:"elapsedSeconds,omitempty"`
	ErrorCode      string             `json:"errorCode,omitempty"`
	Error          string             `json:"error,omitempty"`
	CaseStatus     store.CaseStatus   `json:"caseStatus,omitempty"`
}

type ExtractionResult struct {
	Outcome ExtractionOutcome `json:"outcome"`
	Case    store.Case        `json:"case"`
}

type BatchExtractionResult struct {
	Outcomes []ExtractionOutcome `json:"outcomes"`
	Case     store.Case          `json:"case"`
}

func extractionLeaseKey(caseID string, directorIndex int, docType store.DocumentType) string {
	return fmt.Sprintf("extract:%s:%d:%s", caseID, directorIndex, docType)
}

// Extract runs the inference service over one director's PAN or Aadhaar slot and merges
// the result into the latest stored case. Only that slot and its extracted data change;
// writes to other slots made while the call was in flight are preserved.
//
// When input.Content is set it replaces the stored upload first. A slot replaced or
// removed while the call is in flight fails with SLOT_CONFLICT and the result is dropped.
func (s *Service) Extract(ctx context.Context, caseID string, directorIndex int, docType store.DocumentType, input ExtractInput) (ExtractionResult, error) {
	outcome := ExtractionOutcome{CaseID: caseID, DirectorIndex: directorIndex, DocumentType: docType}
	if err := validateDirectorIndex(directorIndex); err != nil {
		return ExtractionResult{Outcome: outcome}, err
	}
	if !docType.Extractable() {
		return ExtractionResult{Outcome: outcome}, validationError("documentType must be pan or aadhaar", map[string]any{"documentType": docType})
	}
	if err := validateInput(input); err != nil {
		return ExtractionResult{Outcome: outcome}, err
	}

	release, err := s.locker.Acquire(ctx, extractionLeaseKey(caseID, directorIndex, docType), s.leaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		s.metrics.IncrementExtraction(string(docType), "rejected")
		return ExtractionResult{Outcome: outcome}, domainError(http.StatusConflict, CodeExtractionInFlight, "An extraction for this document is already running", map[string]any{
			"directorIndex": directorIndex,
			"documentType":  docType,
		})
	}
	if err != nil {
		return ExtractionResult{Outcome: outcome}, fmt.Errorf("acquire extraction lease: %w", err)
	}
	defer release()

	if _, err := s.store.Get(ctx, caseID); err != nil {
		return ExtractionResult{Outcome: outcome}, storeError(err, caseID)
	}
	if strings.TrimSpace(input.Content) != "" {
		if _, err := s.AttachDocument(ctx, caseID, directorIndex, AttachDocumentInput{
			Type:     docType,
			FileName: input.FileName,
			Content:  input.Content,
		}); err != nil {
			return ExtractionResult{Outcome: outcome}, err
		}
	}

	target, err := s.markProcessing(ctx, caseID, directorIndex, docType)
	if err != nil {
		return ExtractionResult{Outcome: outcome}, err
	}
	outcome.SlotID = target.ID

	s.logger.InfoContext(ctx, "extraction started",
		"case_id", caseID,
		"director_index", directorIndex,
		"document_type", docType,
		"slot_id", target.ID,
	)

	started := time.Now()
	doneInFlight := s.metrics.TrackInFlight()
	result, callErr := s.inference.Extract(ctx, inference.Request{
		ContentPayload: target.Base64,
		DocumentKind:   string(docType),
		FileName:       target.FileName,
		MimeType:       target.MimeType,
	})
	doneInFlight()
	latency := time.Since(started)
	s.metrics.ObserveExtractionLatency(string(docType), latency)
	if callErr == nil {
		callErr = checkResultKind(result, docType)
	}

	// The terminal write lands even if the caller went away; otherwise the slot would be
	// stuck in processing.
	merged, err := s.update(context.WithoutCancel(ctx), caseID, func(c *store.Case) error {
		if directorIndex >= len(c.Directors) {
			return errSlotReplaced
		}
		d := &c.Directors[directorIndex]
		idx := d.Slot(docType)
		if idx < 0 || d.Documents[idx].ID != target.ID {
			return errSlotReplaced
		}
		slot := &d.Documents[idx]
		if callErr != nil {
			slot.Status = store.SlotError
			slot.ErrorMessage = extractionMessage(callErr)
			slot.ElapsedSeconds = latency.Seconds()
			return nil
		}
		slot.Status = store.SlotDone
		slot.ErrorMessage = ""
		slot.ElapsedSeconds = result.Elapsed
		if slot.ElapsedSeconds == 0 {
			slot.ElapsedSeconds = latency.Seconds()
		}
		switch docType {
		case store.DocumentPAN:
			d.PanData = result.Pan
		case store.DocumentAadhaar:
			d.AadhaarData = result.Aadhaar
		}
		d.Validated = false
		return nil
	})
	if errors.Is(err, errSlotReplaced) {
		s.metrics.IncrementExtraction(string(docType), "conflict")
		s.logger.WarnContext(ctx, "extraction result dropped, slot replaced",
			"case_id", caseID,
			"director_index", directorIndex,
			"document_type", docType,
			"slot_id", target.ID,
		)
		outcome.ErrorCode = CodeSlotConflict
		return ExtractionResult{Outcome: outcome}, slotConflict(directorIndex, docType, target.ID)
	}
	if err != nil {
		return ExtractionResult{Outcome: outcome}, err
	}

	outcome = outcomeFor(merged, directorIndex, docType)
	if callErr != nil {
		s.metrics.IncrementExtraction(string(docType), "failed")
		s.logger.WarnContext(ctx, "extraction failed",
			"case_id", caseID,
			"director_index", directorIndex,
			"document_type", docType,
			"slot_id", target.ID,
			"duration_ms", latency.Milliseconds(),
			"error", callErr,
		)
		outcome.ErrorCode = CodeExtractionFailed
		return ExtractionResult{Outcome: outcome, Case: merged}, domainError(http.StatusBadGateway, CodeExtractionFailed, "Extraction failed", outcome)
	}

	s.metrics.IncrementExtraction(string(docType), "ok")
	s.logger.InfoContext(ctx, "extraction finished",
		"case_id", caseID,
		"director_index", directorIndex,
		"document_type", docType,
		"slot_id", target.ID,
		"duration_ms", latency.Milliseconds(),
		"case_status", merged.Status,
	)
	return ExtractionResult{Outcome: outcome, Case: merged}, nil
}

// markProcessing flags the slot as processing on the latest record and returns the slot
// the extraction will read.
func (s *Service) markProcessing(ctx context.Context, caseID string, directorIndex int, docType store.DocumentType) (store.DocumentSlot, error) {
	var target store.DocumentSlot
	_, err := s.update(ctx, caseID, func(c *store.Case) error {
		if directorIndex >= len(c.Directors) {
			return missingDocument(directorIndex, docType)
		}
		d := &c.Directors[directorIndex]
		idx := d.Slot(docType)
		if idx < 0 || d.Documents[idx].Base64 == "" {
			return missingDocument(directorIndex, docType)
		}
		slot := &d.Documents[idx]
		slot.Status = store.SlotProcessing
		slot.ErrorMessage = ""
		slot.ElapsedSeconds = 0
		d.ClearExtraction(docType)
		target = *slot
		return nil
	})
	return target, err
}

func outcomeFor(c store.Case, directorIndex int, docType store.DocumentType) ExtractionOutcome {
	out := ExtractionOutcome{
		CaseID:        c.ID,
		DirectorIndex: directorIndex,
		DocumentType:  docType,
		CaseStatus:    c.Status,
	}
	if directorIndex >= len(c.Directors) {
		return out
	}
	d := c.Directors[directorIndex]
	if idx := d.Slot(docType); idx >= 0 {
		slot := d.Documents[idx]
		out.SlotID = slot.ID
		out.Status = slot.Status
		out.ElapsedSeconds = slot.ElapsedSeconds
		out.Error = slot.ErrorMessage
	}
	switch docType {
	case store.DocumentPAN:
		out.PanData = d.PanData
	case store.DocumentAadhaar:
		out.AadhaarData = d.AadhaarData
	}
	return out
}

func extractionMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Extraction timed out"
	case errors.Is(err, context.Canceled):
		return "Extraction was cancelled"
	case errors.Is(err, inference.ErrMalformedResponse):
		return "Inference service returned an unreadable response"
	}
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

// ExtractAll fans out one extraction per uploaded PAN and Aadhaar slot. Each slot merges
// independently, so completions may land in any order. Slots that already finished are
// skipped unless input.Force is set.
func (s *Service) ExtractAll(ctx context.Context, caseID string, input ExtractAllInput) (BatchExtractionResult, error) {
	c, err := s.store.Get(ctx, caseID)
	if err != nil {
		return BatchExtractionResult{}, storeError(err, caseID)
	}

	type job struct {
		directorIndex int
		docType       store.DocumentType
	}
	var jobs []job
	for i := 0; i < store.DirectorCount && i < len(c.Directors); i++ {
		for _, docType := range requiredSlotTypes {
			idx := c.Directors[i].Slot(docType)
			if idx < 0 {
				continue
			}
			slot := c.Directors[i].Documents[idx]
			if slot.Base64 == "" || slot.Status == store.SlotProcessing {
				continue
			}
			if slot.Status == store.SlotDone && !input.Force {
				continue
			}
			jobs = append(jobs, job{directorIndex: i, docType: docType})
		}
	}

	outcomes := make([]ExtractionOutcome, len(jobs))
	// Per-slot failures are reported in outcomes, so no job returns an error and a
	// failing slot never cancels its siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, j := range jobs {
		g.Go(func() error {
			res, err := s.Extract(gctx, caseID, j.directorIndex, j.docType, ExtractInput{})
			outcome := res.Outcome
			if err != nil {
				code, message := errorCode(err)
				if outcome.ErrorCode == "" {
					outcome.ErrorCode = code
				}
				if outcome.Error == "" {
					outcome.Error = message
				}
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchExtractionResult{}, err
	}

	latest, err := s.store.Get(ctx, caseID)
	if err != nil {
		return BatchExtractionResult{}, storeError(err, caseID)
	}
	return BatchExtractionResult{Outcomes: outcomes, Case: latest}, nil
}

// checkResultKind rejects a response that carries no fields for the requested kind.
func checkResultKind(result inference.Result, docType store.DocumentType) error {
	var ok bool
	switch docType {
	case store.DocumentPAN:
		ok = result.Pan != nil
	case store.DocumentAadhaar:
		ok = result.Aadhaar != nil
	}
	if !ok || (result.Kind != "" && result.Kind != docType) {
		return fmt.Errorf("%w: no %s fields in response", inference.ErrMalformedResponse, docType)
	}
	return nil
}

func errorCode(err error) (string, string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code, domainErr.Message
	}
	return "SERVER_ERROR", err.Error()
}
