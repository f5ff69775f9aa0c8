// Package inference talks to the vision-language extraction service that reads PAN and
// Aadhaar card images.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"kycdesk/api/internal/store"
)

var (
	// ErrUpstream covers transport failures and non-2xx responses.
	ErrUpstream = errors.New("inference upstream failure")
	// ErrMalformedResponse means the service answered 2xx with a body we cannot map.
	ErrMalformedResponse = errors.New("inference response malformed")
	// ErrUnsupportedKind is returned for document kinds that carry no extractable fields.
	ErrUnsupportedKind = errors.New("unsupported document kind")
)

// Request is the wire body of POST /extract.
type Request struct {
	ContentPayload string `json:"content_payload"`
	DocumentKind   string `json:"document_kind"`
	FileName       string `json:"file_name"`
	MimeType       string `json:"mime_type"`
}

// Result is the typed outcome of one extraction. Exactly one of Pan and Aadhaar is set.
type Result struct {
	Kind    store.DocumentType
	Pan     *store.PanData
	Aadhaar *store.AadhaarData
	// Elapsed is the model time reported by the service, in seconds.
	Elapsed float64
}

var (
	panFields     = []string{"name", "fathers_name", "date_of_birth", "pan_number"}
	aadhaarFields = []string{"name", "aadhaar_number", "date_of_birth", "gender", "address"}
)

type Client struct {
	http *resty.Client
}

// New builds a client for the service rooted at baseURL. No request timeout is set: the
// caller's context is the only cancellation point for slow model runs.
func New(baseURL string) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: client}
}

// Extract submits one document and maps the returned field bag into typed data.
func (c *Client) Extract(ctx context.Context, req Request) (Result, error) {
	kind := store.DocumentType(req.DocumentKind)
	if !kind.Extractable() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, req.DocumentKind)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/extract")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode(), upstreamDetail(resp.Body()))
	}
	return mapResponse(kind, resp.Body())
}

// Health probes GET /health. A "degraded" status counts as unhealthy.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("%w: health body: %v", ErrMalformedResponse, err)
	}
	if body.Status != "" && body.Status != "ok" {
		return fmt.Errorf("%w: %s %s", ErrUpstream, body.Status, body.Error)
	}
	return nil
}

func mapResponse(kind store.DocumentType, body []byte) (Result, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	bag := envelope
	if raw, ok := envelope["extracted_data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return Result{}, fmt.Errorf("%w: extracted_data: %v", ErrMalformedResponse, err)
		}
		bag = nested
	}

	result := Result{Kind: kind}
	if raw, ok := envelope["elapsed"]; ok {
		_ = json.Unmarshal(raw, &result.Elapsed)
	}

	switch kind {
	case store.DocumentPAN:
		if !hasAny(bag, panFields) {
			return Result{}, fmt.Errorf("%w: no PAN fields in response", ErrMalformedResponse)
		}
		pan := CanonicalPan(store.PanData{
			Name:        field(bag, "name"),
			FathersName: field(bag, "fathers_name"),
			DateOfBirth: field(bag, "date_of_birth"),
			PANNumber:   field(bag, "pan_number"),
		})
		result.Pan = &pan
	case store.DocumentAadhaar:
		if !hasAny(bag, aadhaarFields) {
			return Result{}, fmt.Errorf("%w: no Aadhaar fields in response", ErrMalformedResponse)
		}
		aadhaar := CanonicalAadhaar(store.AadhaarData{
			Name:          field(bag, "name"),
			AadhaarNumber: field(bag, "aadhaar_number"),
			DateOfBirth:   field(bag, "date_of_birth"),
			Gender:        field(bag, "gender"),
			Address:       field(bag, "address"),
		})
		result.Aadhaar = &aadhaar
	}
	return result, nil
}

func hasAny(bag map[string]json.RawMessage, keys []string) bool {
	for _, key := range keys {
		if _, ok := bag[key]; ok {
			return true
		}
	}
	return false
}

// field reads a scalar from the bag as text. Models occasionally emit numbers for
// identifiers, so numeric values are formatted rather than rejected.
func field(bag map[string]json.RawMessage, key string) string {
	raw, ok := bag[key]
	if !ok {
		return ""
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func upstreamDetail(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		return fmt.Sprint(payload.Detail)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
