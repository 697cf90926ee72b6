package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"meridian.club/internal/gate"
)

type errorBody struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	RequestID  string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="meridian"`)
	}
	writeJSON(w, code, errorBody{
		Error:      msg,
		StatusCode: code,
		RequestID:  RequestIDFromContext(r.Context()),
	})
}

// writeGateError renders gate refusals; anything else is a 500.
func writeGateError(w http.ResponseWriter, r *http.Request, err error) {
	if gerr, ok := gate.AsError(err); ok {
		writeError(w, r, gerr.StatusCode, gerr.Message)
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
