package store

import "time"

type CaseStatus string

const (
	CaseStatusDraft      CaseStatus = "draft"
	CaseStatusExtracting CaseStatus = "extracting"
	CaseStatusReviewing  CaseStatus = "reviewing"
	CaseStatusComplete   CaseStatus = "complete"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusDraft, CaseStatusExtracting, CaseStatusReviewing, CaseStatusComplete:
		return true
	}
	return false
}

type DocumentType string

const (
	DocumentPAN       DocumentType = "pan"
	DocumentAadhaar   DocumentType = "aadhaar"
	DocumentPhoto     DocumentType = "photo"
	DocumentSignature DocumentType = "signature"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentPAN, DocumentAadhaar, DocumentPhoto, DocumentSignature:
		return true
	}
	return false
}

// Extractable reports whether documents of this type are sent for field extraction.
func (t DocumentType) Extractable() bool {
	return t == DocumentPAN || t == DocumentAadhaar
}

type SlotStatus string

const (
	SlotPending    SlotStatus = "pending"
	SlotProcessing SlotStatus = "processing"
	SlotDone       SlotStatus = "done"
	SlotError      SlotStatus = "error"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotPending, SlotProcessing, SlotDone, SlotError:
		return true
	}
	return false
}

// DirectorCount is fixed: every case carries exactly two directors.
const DirectorCount = 2

type Case struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	CreatedAt        time.Time        `json:"createdAt"`
	Status           CaseStatus       `json:"status"`
	Directors        []Director       `json:"directors"`
	CompanyInfo      CompanyInfo      `json:"companyInfo"`
	ProfessionalInfo ProfessionalInfo `json:"professionalInfo"`
	// ExportedAt is set by the last successful checklist export.
	ExportedAt *time.Time `json:"exportedAt,omitempty"`
}

type Director struct {
	PanData           *PanData       `json:"panData"`
	AadhaarData       *AadhaarData   `json:"aadhaarData"`
	Documents         []DocumentSlot `json:"documents"`
	Validated         bool           `json:"validated"`
	PlaceOfBirth      string         `json:"placeOfBirth"`
	Nationality       string         `json:"nationality"`
	ResidentOfIndia   string         `json:"residentOfIndia"`
	Occupation        string         `json:"occupation"`
	Education         string         `json:"education"`
	SharesSubscribed  string         `json:"sharesSubscribed"`
	DurationAtAddress string         `json:"durationAtAddress"`
	Email             string         `json:"email"`
	Mobile            string         `json:"mobile"`
	DINNumber         string         `json:"dinNumber"`
}

type DocumentSlot struct {
	ID             string       `json:"id"`
	Type           DocumentType `json:"type"`
	FileName       string       `json:"fileName"`
	Preview        string       `json:"preview"`
	Base64         string       `json:"base64,omitempty"`
	MimeType       string       `json:"mimeType,omitempty"`
	Status         SlotStatus   `json:"status"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	ElapsedSeconds float64      `json:"elapsedSeconds,omitempty"`
	ObjectKey      string       `json:"objectKey,omitempty"`
	UploadedAt     time.Time    `json:"uploadedAt"`
}

type PanData struct {
	Name        string `json:"name"`
	FathersName string `json:"fathers_name"`
	DateOfBirth string `json:"date_of_birth"`
	PANNumber   string `json:"pan_number"`
}

type AadhaarData struct {
	Name          string `json:"name"`
	AadhaarNumber string `json:"aadhaar_number"`
	DateOfBirth   string `json:"date_of_birth"`
	Gender        string `json:"gender"`
	Address       string `json:"address"`
}

type CompanyInfo struct {
	ElectricityBillUploaded bool   `json:"electricityBillUploaded"`
	Latitude                string `json:"latitude"`
	Longitude               string `json:"longitude"`
	NOCUploaded             bool   `json:"nocUploaded"`
	OfficeEmail             string `json:"officeEmail"`
	OfficeMobile            string `json:"officeMobile"`
	AuthorizedShareCapital  string `json:"authorizedShareCapital"`
	PaidUpShareCapital      string `json:"paidUpShareCapital"`
	Objectives              string `json:"objectives"`
	OtherObjectives         string `json:"otherObjectives"`
}

type ProfessionalInfo struct {
	Name         string `json:"name"`
	MembershipNo string `json:"membershipNo"`
	Address      string `json:"address"`
}

// NewCase builds an empty draft case with the two default directors.
func NewCase(id, name string, now time.Time) Case {
	directors := make([]Director, DirectorCount)
	for i := range directors {
		directors[i] = NewDirector()
	}
	return Case{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		Status:    CaseStatusDraft,
		Directors: directors,
	}
}

func NewDirector() Director {
	return Director{
		Documents:       []DocumentSlot{},
		Nationality:     "Indian",
		ResidentOfIndia: "Yes",
	}
}

// Clone returns a deep copy so callers never share slices or pointers with the store.
func (c Case) Clone() Case {
	out := c
	if c.ExportedAt != nil {
		at := *c.ExportedAt
		out.ExportedAt = &at
	}
	out.Directors = make([]Director, len(c.Directors))
	for i, d := range c.Directors {
		out.Directors[i] = d.Clone()
	}
	return out
}

func (d Director) Clone() Director {
	out := d
	if d.PanData != nil {
		pan := *d.PanData
		out.PanData = &pan
	}
	if d.AadhaarData != nil {
		aadhaar := *d.AadhaarData
		out.AadhaarData = &aadhaar
	}
	out.Documents = append([]DocumentSlot{}, d.Documents...)
	return out
}

// Slot returns the index of the slot of the given type, or -1.
func (d Director) Slot(docType DocumentType) int {
	for i, slot := range d.Documents {
		if slot.Type == docType {
			return i
		}
	}
	return -1
}

// ClearExtraction drops extracted data for the given type and revokes approval.
func (d *Director) ClearExtraction(docType DocumentType) {
	switch docType {
	case DocumentPAN:
		d.PanData = nil
	case DocumentAadhaar:
		d.AadhaarData = nil
	default:
		return
	}
	d.Validated = false
}
