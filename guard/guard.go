// Package guard validates mutation request bodies before the engine runs:
// required fields must be present, forbidden fields must be absent.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

type ctxKey struct{}

// Fields returns the request body fields decoded by a guard middleware,
// or nil if no guard ran on this route.
func Fields(r *http.Request) map[string]any {
	fields, _ := r.Context().Value(ctxKey{}).(map[string]any)
	return fields
}

// RequireFields fails the request with 400 before the handler runs if any
// named field is absent from the JSON body. JSON null counts as absent.
func RequireFields(names ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fields, r, ok := decodeBody(w, r)
			if !ok {
				return
			}
			for _, name := range names {
				if v, present := fields[name]; !present || v == nil {
					writeError(w, fmt.Sprintf("missing required field: %s", name))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ForbidFields fails the request with 400 before the handler runs if any
// named field is present in the JSON body, JSON null included.
func ForbidFields(names ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fields, r, ok := decodeBody(w, r)
			if !ok {
				return
			}
			for _, name := range names {
				if _, present := fields[name]; present {
					writeError(w, fmt.Sprintf("forbidden field: %s", name))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decodeBody decodes the JSON body into a field map once per request and
// stashes it in the context for the handler and any later guard. An empty
// body decodes to an empty map. On malformed JSON it writes the 400 itself
// and reports false.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, *http.Request, bool) {
	if fields := Fields(r); fields != nil {
		return fields, r, true
	}

	fields := map[string]any{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "invalid JSON body")
			return nil, r, false
		}
	}

	r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, fields))
	return fields, r, true
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
