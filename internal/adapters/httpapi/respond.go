package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"rua/pkg/domain"
)

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Details []string         `json:"details,omitempty"`
}

var statusByKind = map[domain.ErrorKind]int{
	domain.KindValidation:    http.StatusUnprocessableEntity,
	domain.KindAuthorization: http.StatusForbidden,
	domain.KindNotFound:      http.StatusNotFound,
	domain.KindConflict:      http.StatusConflict,
	domain.KindFatal:         http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error": {...}}. Fatal errors never leak their
// cause to the client.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Kind: domain.KindOf(err), Message: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		body.Message = de.Message
		body.Details = de.Details
	}
	if body.Kind == domain.KindFatal {
		body.Details = nil
		if de == nil {
			body.Message = "internal error"
		}
	}
	status, ok := statusByKind[body.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}
