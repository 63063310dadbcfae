// Package envelope shapes every API response into the common
// success/error wrapper consumed by clients and the audit trail.
package envelope

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/clock"
)

// Response is the wire shape for every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    Meta        `json:"meta"`
}

// ErrorBody carries a machine-readable code plus a human message.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"traceId,omitempty"`
}

// Meta is attached to every response.
type Meta struct {
	RequestID  string      `json:"requestId"`
	Timestamp  string      `json:"timestamp"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes a page of list results.
type Pagination struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset,omitempty"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Writer binds a request ID and environment flag so handlers only supply
// payloads.
type Writer struct {
	requestID  string
	production bool
}

// NewWriter builds a Writer for one request.
func NewWriter(requestID string, production bool) *Writer {
	return &Writer{requestID: requestID, production: production}
}

func (wr *Writer) meta() Meta {
	return Meta{
		RequestID: wr.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// OK writes a 200 success envelope.
func (wr *Writer) OK(w http.ResponseWriter, data interface{}) {
	wr.write(w, http.StatusOK, Response{Success: true, Data: data, Meta: wr.meta()})
}

// Created writes a 201 success envelope.
func (wr *Writer) Created(w http.ResponseWriter, data interface{}) {
	wr.write(w, http.StatusCreated, Response{Success: true, Data: data, Meta: wr.meta()})
}

// Page writes a 200 success envelope carrying pagination metadata.
func (wr *Writer) Page(w http.ResponseWriter, data interface{}, p Pagination) {
	meta := wr.meta()
	meta.Pagination = &p
	wr.write(w, http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

// Error maps an application error onto the envelope. In production the
// message is sanitized before it leaves the process.
func (wr *Writer) Error(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	body := &ErrorBody{
		Code:    string(kind),
		Message: apperrors.SanitizedMessage(err, wr.production),
	}
	if appErr, ok := err.(*apperrors.Error); ok {
		body.Details = appErr.Details
		body.TraceID = appErr.TraceID
	}
	if body.TraceID == "" {
		body.TraceID = wr.requestID
	}

	code := apperrors.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "request_id", wr.requestID, "kind", kind, "error", err)
	}
	wr.write(w, code, Response{Success: false, Error: body, Meta: wr.meta()})
}

func (wr *Writer) write(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode response", "request_id", wr.requestID, "error", err)
	}
}

// RequestID returns the request ID from the header, minting one if absent.
func RequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return clock.NewID()
}
