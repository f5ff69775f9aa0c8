// Package checklist requests the filled company-formation checklist spreadsheet from the
// export service.
package checklist

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"kycdesk/api/internal/store"
)

var (
	ErrUpstream          = errors.New("checklist upstream failure")
	ErrMalformedResponse = errors.New("checklist response malformed")
)

type Request struct {
	CaseName string     `json:"case_name"`
	CaseData store.Case `json:"case_data"`
}

type response struct {
	FileName          string `json:"file_name"`
	FileContentBase64 string `json:"file_content_base64"`
}

// File is a generated spreadsheet. ContentBase64 is passed through as received; Size is
// the decoded byte count.
type File struct {
	Name          string `json:"fileName"`
	ContentBase64 string `json:"fileContentBase64"`
	Size          int    `json:"size"`
}

type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: client}
}

// Generate posts the full case record and returns the spreadsheet the service produced.
func (c *Client) Generate(ctx context.Context, caseName string, data store.Case) (File, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(Request{CaseName: caseName, CaseData: data}).
		Post("/export")
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return File{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var body response
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(body.FileContentBase64) == "" {
		return File{}, fmt.Errorf("%w: empty file content", ErrMalformedResponse)
	}
	decoded, err := base64.StdEncoding.DecodeString(body.FileContentBase64)
	if err != nil {
		return File{}, fmt.Errorf("%w: file content is not base64: %v", ErrMalformedResponse, err)
	}

	name := strings.TrimSpace(body.FileName)
	if name == "" {
		name = SafeFileName(caseName)
	}
	return File{Name: name, ContentBase64: body.FileContentBase64, Size: len(decoded)}, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFileName mirrors the export service's naming for a case's checklist workbook.
func SafeFileName(caseName string) string {
	normalized := strings.Trim(unsafeFileChars.ReplaceAllString(caseName, "_"), "_")
	if normalized == "" {
		normalized = "case"
	}
	return normalized + "_Checklist_filled.xlsx"
}
