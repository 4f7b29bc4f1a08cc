package web

import (
	"context"
	"encoding/json"
	"net/http"
)

// Respond marshals data as JSON and writes it with statusCode. A nil data
// with http.StatusNoContent writes no body.
func Respond(ctx context.Context, w http.ResponseWriter, data any, statusCode int) error {
	if v, err := GetValues(ctx); err == nil {
		v.StatusCode = statusCode
	}

	if statusCode == http.StatusNoContent || data == nil {
		w.WriteHeader(statusCode)
		return nil
	}

	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	_, err = w.Write(buf)
	return err
}

// Decode reads the request body as JSON into v.
func Decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
