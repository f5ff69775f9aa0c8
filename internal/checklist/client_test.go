package checklist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycdesk/api/internal/store"
)

func TestGenerateSendsCaseAndDecodesFile(t *testing.T) {
	var received map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/export", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":             true,
			"file_name":           "ABC_Pvt_Ltd_Checklist_filled.xlsx",
			"file_content_base64": "UEsDBA==",
		})
	}))
	defer srv.Close()

	c := store.NewCase("case_1", "ABC Pvt Ltd", time.Now())
	file, err := New(srv.URL).Generate(context.Background(), c.Name, c)
	require.NoError(t, err)

	assert.Equal(t, "ABC_Pvt_Ltd_Checklist_filled.xlsx", file.Name)
	assert.Equal(t, "UEsDBA==", file.ContentBase64)
	assert.Equal(t, 4, file.Size)

	assert.JSONEq(t, `"ABC Pvt Ltd"`, string(received["case_name"]))
	var sent store.Case
	require.NoError(t, json.Unmarshal(received["case_data"], &sent))
	assert.Equal(t, "case_1", sent.ID)
	assert.Len(t, sent.Directors, store.DirectorCount)
}

func TestGenerateFallsBackToSafeFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"file_content_base64":"UEsDBA=="}`))
	}))
	defer srv.Close()

	file, err := New(srv.URL).Generate(context.Background(), "M/s. Ravi & Sons", store.Case{})
	require.NoError(t, err)
	assert.Equal(t, "M_s._Ravi_Sons_Checklist_filled.xlsx", file.Name)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"template missing", http.StatusBadRequest, `{"detail":"Checklist template not found"}`, ErrUpstream},
		{"empty content", http.StatusOK, `{"file_name":"x.xlsx"}`, ErrMalformedResponse},
		{"bad base64", http.StatusOK, `{"file_content_base64":"***"}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Generate(context.Background(), "ABC", store.Case{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "case_Checklist_filled.xlsx", SafeFileName("***"))
	assert.Equal(t, "ABC_Pvt_Ltd_Checklist_filled.xlsx", SafeFileName("ABC Pvt Ltd"))
}
