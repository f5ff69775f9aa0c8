package app

import (
	"encoding/base64"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMimeType = "image/jpeg"

// documentContent is an upload decoded at the API boundary.
type documentContent struct {
	// Payload is the canonical standard base64 of Bytes.
	Payload  string
	DataURI  string
	MimeType string
	Ext      string
	Bytes    []byte
}

// decodeContent accepts either a data URI or bare base64 and works out the content kind:
// the data URI header wins, then content sniffing, then the file extension.
func decodeContent(raw, fileName string) (documentContent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return documentContent{}, validationError("content is required", map[string]any{"field": "content"})
	}

	declared := ""
	payload := raw
	if strings.HasPrefix(raw, "data:") {
		header, body, ok := strings.Cut(raw, ",")
		if !ok {
			return documentContent{}, validationError("content data URI has no payload", map[string]any{"field": "content"})
		}
		declared, _, _ = strings.Cut(strings.TrimPrefix(header, "data:"), ";")
		payload = body
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return documentContent{}, validationError("content is not valid base64", map[string]any{"field": "content"})
	}
	if len(data) == 0 {
		return documentContent{}, validationError("content is empty", map[string]any{"field": "content"})
	}

	mimeType := strings.TrimSpace(strings.ToLower(declared))
	if mimeType == "" {
		mimeType = sniffMimeType(data, fileName)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return documentContent{
		Payload:  encoded,
		DataURI:  "data:" + mimeType + ";base64," + encoded,
		MimeType: mimeType,
		Ext:      extensionFor(mimeType, fileName),
		Bytes:    data,
	}, nil
}

func decodeBase64(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if data, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
}

func sniffMimeType(data []byte, fileName string) string {
	detected := mimetype.Detect(data)
	if detected != nil && !detected.Is("application/octet-stream") && !detected.Is("text/plain") {
		base, _, _ := strings.Cut(detected.String(), ";")
		return base
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
		base, _, _ := strings.Cut(byExt, ";")
		return base
	}
	return defaultMimeType
}

func extensionFor(mimeType, fileName string) string {
	if known := mimetype.Lookup(mimeType); known != nil && known.Extension() != "" {
		return known.Extension()
	}
	return strings.ToLower(filepath.Ext(fileName))
}
