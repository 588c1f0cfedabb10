package profileauth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxRequestBodyBytes = 64 << 10

// decodeJSON decodes exactly one JSON object into dst, rejecting unknown
// fields, trailing data and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewAuthError(ErrCodeBadRequest, "Invalid request body", "")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return NewAuthError(ErrCodeBadRequest, "Request body must contain a single JSON object", "")
	}
	return nil
}

func missingField(field string) error {
	return NewAuthError(ErrCodeMissingField, field+" is required", field)
}
