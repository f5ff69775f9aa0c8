package app

import (
	"errors"
	"fmt"
	"net/http"

	"kycdesk/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeCaseNotFound         = "CASE_NOT_FOUND"
	CodeMissingDocument      = "MISSING_DOCUMENT"
	CodeSlotConflict         = "SLOT_CONFLICT"
	CodeExtractionInFlight   = "EXTRACTION_IN_FLIGHT"
	CodeExtractionIncomplete = "EXTRACTION_INCOMPLETE"
	CodeExtractionFailed     = "EXTRACTION_FAILED"
	CodeExportFailed         = "EXPORT_FAILED"
	CodePDFUnavailable       = "PDF_UNAVAILABLE"
)

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func caseNotFound(caseID string) *DomainError {
	return domainError(http.StatusNotFound, CodeCaseNotFound, "Case not found", map[string]any{"caseId": caseID})
}

func missingDocument(directorIndex int, docType store.DocumentType) *DomainError {
	return domainError(http.StatusNotFound, CodeMissingDocument, "No uploaded document for this slot", map[string]any{
		"directorIndex": directorIndex,
		"documentType":  docType,
	})
}

// errSlotReplaced is returned from store mutations when the slot an extraction captured
// has since been replaced or removed.
var errSlotReplaced = errors.New("slot no longer present for that type")

func slotConflict(directorIndex int, docType store.DocumentType, slotID string) *DomainError {
	return domainError(http.StatusConflict, CodeSlotConflict, "Document was replaced or removed while extraction was running", map[string]any{
		"directorIndex": directorIndex,
		"documentType":  docType,
		"slotId":        slotID,
	})
}

// storeError maps store sentinels onto domain errors and passes everything else through.
func storeError(err error, caseID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return caseNotFound(caseID)
	}
	return err
}
