// Package imagedata converts between encoded images and the data URIs passed
// around the capture pipeline.
package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const PNGMimeType = "image/png"

var ErrNotDataURI = errors.New("not a base64 data URI")

// EncodePNG wraps PNG bytes into a data:image/png;base64 URI.
func EncodePNG(data []byte) string {
	return "data:" + PNGMimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Payload strips the encoding prefix from a data URI and returns the base64
// part. Input without a comma is assumed to already be a bare payload.
func Payload(uri string) string {
	if i := strings.IndexByte(uri, ','); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// Decode parses a base64 data URI into its MIME type and raw bytes.
func Decode(uri string) (string, []byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, ErrNotDataURI
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, ErrNotDataURI
	}
	data, err := DecodePayload(payload)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSuffix(header, ";base64"), data, nil
}

// DecodePayload decodes a bare base64 payload, tolerating missing padding.
func DecodePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("invalid base64 image payload: %w", err)
}
