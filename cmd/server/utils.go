package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lychee-technology/fedsparql"
	"go.uber.org/zap"
)

const headerQueryID = "X-Query-Id"

// APIResponse is the standard response format
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// ExplainResponse carries a rendered plan
type ExplainResponse struct {
	Plan string `json:"plan"`
}

// SourceMapping lists the sources selected for a group of patterns
type SourceMapping struct {
	Patterns []string `json:"patterns"`
	Sources  []string `json:"sources"`
}

func toSourceMappings(mapped []fedsparql.MappedPattern) []SourceMapping {
	out := make([]SourceMapping, 0, len(mapped))
	for _, mp := range mapped {
		m := SourceMapping{
			Patterns: make([]string, 0, len(mp.Patterns)),
			Sources:  make([]string, 0, mp.Sources.Len()),
		}
		for _, p := range mp.Patterns {
			m.Patterns = append(m.Patterns, p.String())
		}
		for _, src := range mp.Sources {
			m.Sources = append(m.Sources, src.Endpoint)
		}
		out = append(out, m)
	}
	return out
}

// statusForError maps federation error types to HTTP status codes
func statusForError(err error) int {
	t, ok := fedsparql.ErrorTypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case fedsparql.ErrorTypeUnsupportedQueryShape:
		return http.StatusUnprocessableEntity
	case fedsparql.ErrorTypeSourceUnreachable, fedsparql.ErrorTypeMalformedSubquery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeFedError writes an error response carrying the federation error code
func writeFedError(w http.ResponseWriter, message string, err error) error {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		zap.S().Warnw(message, "error", err)
	}
	resp := APIResponse{Success: false, Error: message + ": " + err.Error()}
	var fe *fedsparql.FedError
	if errors.As(err, &fe) {
		resp.Code = fe.Code
	}
	return writeJSON(w, status, resp)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) error {
	return writeJSON(w, statusCode, APIResponse{Success: true, Data: data})
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// readQuery decodes a QueryRequest body into a query tree
func readQuery(r *http.Request) (*fedsparql.Query, error) {
	var req fedsparql.QueryRequest
	if err := readJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req.Query()
}
