// Package transport contains the HTTP router, middleware chain, and the
// handlers serving grid listings and the detail forms below them.
package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes. Paths the
// item grammar cannot serve are reported as missing pages.
var statusForCode = map[string]int{
	model.ErrBadRequest:       http.StatusBadRequest,
	model.ErrUnauthorized:     http.StatusUnauthorized,
	model.ErrForbidden:        http.StatusForbidden,
	model.ErrNotFound:         http.StatusNotFound,
	model.ErrConflict:         http.StatusConflict,
	model.ErrValidationError:  http.StatusUnprocessableEntity,
	model.ErrInternalError:    http.StatusInternalServerError,
	model.ErrStoreUnavailable: http.StatusServiceUnavailable,
	model.ErrMalformedPath:    http.StatusNotFound,
	model.ErrNestingTooDeep:   http.StatusNotFound,
	model.ErrUnknownRelation:  http.StatusNotFound,
	model.ErrOutOfScope:       http.StatusNotFound,
}

// StatusFor returns the HTTP status of an error envelope code.
func StatusFor(code string) int {
	if status := statusForCode[code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// envelopeFor returns the envelope carried by err, or a generic internal
// error when err carries none.
func envelopeFor(err error) *model.ErrorEnvelope {
	if ee, ok := model.EnvelopeFrom(err); ok {
		return ee
	}
	return model.NewInternalError()
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Errors that carry no envelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeFor(err)

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// ErrorWriter reports failed requests: as the HTML error page to browsers,
// as a JSON envelope to clients that accept JSON only.
type ErrorWriter struct {
	renderer *render.Renderer
	logger   *zap.Logger
}

// NewErrorWriter creates an ErrorWriter. A nil renderer always writes JSON.
func NewErrorWriter(renderer *render.Renderer, logger *zap.Logger) *ErrorWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorWriter{renderer: renderer, logger: logger}
}

// Write logs err and writes the response for it. Messages of errors that
// carry no envelope never reach the client.
func (e *ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	ee := envelopeFor(err)
	status := StatusFor(ee.Code)
	if ee.TraceID == "" {
		copied := *ee
		copied.TraceID = observability.TraceIDFromContext(ctx)
		ee = &copied
	}

	logger := observability.LoggerFrom(ctx, e.logger)
	if status >= 500 {
		logger.Error("request failed", zap.Error(err), zap.String("code", ee.Code))
	} else {
		logger.Debug("request rejected", zap.String("code", ee.Code), zap.String("message", ee.Message))
	}

	if e.renderer == nil || wantsJSON(r) {
		WriteError(w, ee)
		return
	}

	var buf bytes.Buffer
	page := render.ErrorPage{
		Title:   http.StatusText(status),
		Status:  status,
		Code:    ee.Code,
		Message: ee.Message,
		TraceID: ee.TraceID,
	}
	if rerr := e.renderer.Error(&buf, page); rerr != nil {
		logger.Error("rendering error page", zap.Error(rerr))
		WriteError(w, ee)
		return
	}
	writeHTML(w, status, &buf)
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func writeHTML(w http.ResponseWriter, status int, body *bytes.Buffer) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = body.WriteTo(w)
}
