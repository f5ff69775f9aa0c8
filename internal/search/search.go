package search

import (
	"strings"

	"kycdesk/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Directors []string `json:"directors"`
	Snippet   string   `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Status string // empty = any status
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// CaseRecord is the data we index for a case. It deliberately omits document payloads
// and Aadhaar numbers.
type CaseRecord struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	DirectorNames []string `json:"directorNames"`
	PANNumbers    []string `json:"panNumbers"`
	Emails        []string `json:"emails"`
	CreatedAt     int64    `json:"createdAt"`
}

// RecordFromCase projects the searchable fields of a case.
func RecordFromCase(c store.Case) CaseRecord {
	rec := CaseRecord{
		ID:            c.ID,
		Name:          c.Name,
		Status:        string(c.Status),
		DirectorNames: []string{},
		PANNumbers:    []string{},
		Emails:        []string{},
		CreatedAt:     c.CreatedAt.Unix(),
	}
	for _, d := range c.Directors {
		if name := directorName(d); name != "" {
			rec.DirectorNames = append(rec.DirectorNames, name)
		}
		if d.PanData != nil && d.PanData.PANNumber != "" {
			rec.PANNumbers = append(rec.PANNumbers, d.PanData.PANNumber)
		}
		if email := strings.TrimSpace(d.Email); email != "" {
			rec.Emails = append(rec.Emails, email)
		}
	}
	return rec
}

func directorName(d store.Director) string {
	if d.PanData != nil && strings.TrimSpace(d.PanData.Name) != "" {
		return strings.TrimSpace(d.PanData.Name)
	}
	if d.AadhaarData != nil {
		return strings.TrimSpace(d.AadhaarData.Name)
	}
	return ""
}
