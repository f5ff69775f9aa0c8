package app

import "kycdesk/api/internal/store"

// requiredSlotTypes are the per-director documents that gate review. Together with the
// two directors they form the four required core slots.
var requiredSlotTypes = []store.DocumentType{store.DocumentPAN, store.DocumentAadhaar}

// DeriveStatus computes the case status implied by document slots alone. It never
// returns complete: that is reached only through approval or export.
func DeriveStatus(directors []store.Director) store.CaseStatus {
	present, done := 0, 0
	for i := 0; i < store.DirectorCount; i++ {
		if i >= len(directors) {
			break
		}
		for _, docType := range requiredSlotTypes {
			idx := directors[i].Slot(docType)
			if idx < 0 {
				continue
			}
			present++
			if directors[i].Documents[idx].Status == store.SlotDone {
				done++
			}
		}
	}
	required := store.DirectorCount * len(requiredSlotTypes)
	switch {
	case done == required:
		return store.CaseStatusReviewing
	case present > 0:
		return store.CaseStatusExtracting
	default:
		return store.CaseStatusDraft
	}
}

// resolveStatus is applied on every persist. Both directors approved means complete. An
// exported case stays complete while the documents still support review.
func resolveStatus(c store.Case) store.CaseStatus {
	if allValidated(c.Directors) {
		return store.CaseStatusComplete
	}
	derived := DeriveStatus(c.Directors)
	if c.ExportedAt != nil && derived == store.CaseStatusReviewing {
		return store.CaseStatusComplete
	}
	return derived
}

func allValidated(directors []store.Director) bool {
	if len(directors) < store.DirectorCount {
		return false
	}
	for _, d := range directors[:store.DirectorCount] {
		if !d.Validated {
			return false
		}
	}
	return true
}
