package app

import "kycdesk/api/internal/store"

func validateDirectorIndex(directorIndex int) error {
	if directorIndex < 0 || directorIndex >= store.DirectorCount {
		return validationError("directorIndex must be 0 or 1", map[string]any{"directorIndex": directorIndex})
	}
	return nil
}

func validateDocumentType(docType store.DocumentType) error {
	if !docType.Valid() {
		return validationError("documentType must be one of pan, aadhaar, photo, signature", map[string]any{"documentType": docType})
	}
	return nil
}

func directorsOf(c store.Case, directorIndex int) ([]store.Director, error) {
	if err := validateDirectorIndex(directorIndex); err != nil {
		return nil, err
	}
	if directorIndex >= len(c.Directors) {
		return nil, validationError("case has no director at this index", map[string]any{"directorIndex": directorIndex})
	}
	directors := make([]store.Director, len(c.Directors))
	for i, d := range c.Directors {
		directors[i] = d.Clone()
	}
	return directors, nil
}

// attach puts slot on the director, replacing any slot of the same type in place or
// appending otherwise. The new slot starts pending. Replacing a PAN or Aadhaar slot drops
// the matching extracted data and revokes approval. The replaced slot, if any, is returned
// so its archived object can be cleaned up.
func attach(c store.Case, directorIndex int, slot store.DocumentSlot) ([]store.Director, *store.DocumentSlot, error) {
	if err := validateDocumentType(slot.Type); err != nil {
		return nil, nil, err
	}
	if slot.Base64 == "" {
		return nil, nil, validationError("content is empty", map[string]any{"field": "content"})
	}
	directors, err := directorsOf(c, directorIndex)
	if err != nil {
		return nil, nil, err
	}

	slot.Status = store.SlotPending
	slot.ErrorMessage = ""
	slot.ElapsedSeconds = 0

	director := &directors[directorIndex]
	var replaced *store.DocumentSlot
	if idx := director.Slot(slot.Type); idx >= 0 {
		previous := director.Documents[idx]
		replaced = &previous
		director.Documents[idx] = slot
	} else {
		director.Documents = append(director.Documents, slot)
	}
	director.ClearExtraction(slot.Type)
	return directors, replaced, nil
}

// detach removes the director's slot of docType with the same invalidation as attach.
func detach(c store.Case, directorIndex int, docType store.DocumentType) ([]store.Director, *store.DocumentSlot, error) {
	if err := validateDocumentType(docType); err != nil {
		return nil, nil, err
	}
	directors, err := directorsOf(c, directorIndex)
	if err != nil {
		return nil, nil, err
	}

	director := &directors[directorIndex]
	idx := director.Slot(docType)
	if idx < 0 {
		return nil, nil, missingDocument(directorIndex, docType)
	}
	removed := director.Documents[idx]
	director.Documents = append(director.Documents[:idx], director.Documents[idx+1:]...)
	director.ClearExtraction(docType)
	return directors, &removed, nil
}
