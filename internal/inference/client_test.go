package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestExtractPanFromNestedPayload(t *testing.T) {
	var received Request
	client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/extract", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"document_type": "pan",
			"elapsed":       6.25,
			"extracted_data": map[string]any{
				"name":          " KISHORE SHEIK AHAMED M R ",
				"fathers_name":  "MOHAMMED RAHAMATHULLA",
				"date_of_birth": "15/08/1990",
				"pan_number":    "bqj pk6347q",
			},
		})
	})

	result, err := client.Extract(context.Background(), Request{
		ContentPayload: "aGVsbG8=",
		DocumentKind:   "pan",
		FileName:       "pan.jpg",
		MimeType:       "image/jpeg",
	})
	require.NoError(t, err)

	assert.Equal(t, "aGVsbG8=", received.ContentPayload)
	assert.Equal(t, "pan", received.DocumentKind)
	assert.Equal(t, "pan.jpg", received.FileName)
	assert.Equal(t, "image/jpeg", received.MimeType)

	require.NotNil(t, result.Pan)
	assert.Nil(t, result.Aadhaar)
	assert.Equal(t, "KISHORE SHEIK AHAMED M R", result.Pan.Name)
	assert.Equal(t, "BQJPK6347Q", result.Pan.PANNumber)
	assert.InDelta(t, 6.25, result.Elapsed, 0.0001)
}

func TestExtractAadhaarFromTopLevelFields(t *testing.T) {
	client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Asha","aadhaar_number":876543210987,"date_of_birth":"01/01/1991","gender":"female","address":" 12 Main Road, Chennai 600001 ","elapsed":11}`))
	})

	result, err := client.Extract(context.Background(), Request{DocumentKind: "aadhaar", ContentPayload: "eA=="})
	require.NoError(t, err)
	require.NotNil(t, result.Aadhaar)
	assert.Equal(t, "8765 4321 0987", result.Aadhaar.AadhaarNumber)
	assert.Equal(t, "FEMALE", result.Aadhaar.Gender)
	assert.Equal(t, "12 Main Road, Chennai 600001", result.Aadhaar.Address)
	assert.InDelta(t, 11.0, result.Elapsed, 0.0001)
}

func TestExtractNonSuccessStatus(t *testing.T) {
	client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"Model is still loading"}`))
	})

	_, err := client.Extract(context.Background(), Request{DocumentKind: "pan", ContentPayload: "eA=="})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "Model is still loading")
}

func TestExtractMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"not json":          `<html>oops</html>`,
		"no expected keys":  `{"status":"ok"}`,
		"bad nested object": `{"extracted_data":"pan"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := client.Extract(context.Background(), Request{DocumentKind: "pan", ContentPayload: "eA=="})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestExtractRejectsPhotoWithoutCallingUpstream(t *testing.T) {
	called := false
	client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	_, err := client.Extract(context.Background(), Request{DocumentKind: "photo"})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	assert.False(t, called)
}

func TestHealth(t *testing.T) {
	status := "ok"
	client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "error": "model dir missing"})
	})

	require.NoError(t, client.Health(context.Background()))

	status = "degraded"
	err := client.Health(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "model dir missing")
}
