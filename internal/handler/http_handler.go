package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/pesio-ai/be-damage-issues/internal/auth"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/logger"
	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/service"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// DocumentAPI is the document side of the service layer.
type DocumentAPI interface {
	CreateDocument(ctx context.Context, actor workflow.Actor, req *service.CreateDocumentRequest) (*workflow.Document, error)
	GetDocument(ctx context.Context, id string) (*workflow.Document, error)
	ListDocuments(ctx context.Context, branch, status *string, page, pageSize int) ([]*workflow.Document, int64, error)
}

// WorkflowAPI is the approval side of the service layer.
type WorkflowAPI interface {
	GetAvailableAction(ctx context.Context, actor workflow.Actor, documentID string) (*service.ActionView, error)
	GetHistory(ctx context.Context, documentID string) ([]*repository.ApprovalAuditEntry, error)
	GetPending(ctx context.Context, actor workflow.Actor) ([]*workflow.Document, error)
	ApplyAction(ctx context.Context, actor workflow.Actor, documentID, action, comment string) (*workflow.Document, error)
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	documents DocumentAPI
	workflow  WorkflowAPI
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(documents DocumentAPI, workflow WorkflowAPI, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		documents: documents,
		workflow:  workflow,
		log:       log,
	}
}

// Routes registers every endpoint on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/api/v1/documents", h.Documents)
	mux.HandleFunc("/api/v1/documents/get", h.GetDocument)
	mux.HandleFunc("/api/v1/documents/action", h.GetAvailableAction)
	mux.HandleFunc("/api/v1/documents/act", h.ApplyAction)
	mux.HandleFunc("/api/v1/documents/history", h.GetHistory)
	mux.HandleFunc("/api/v1/documents/pending", h.GetPending)
}

// Health handles liveness checks
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Documents dispatches list and create on the collection path
func (h *HTTPHandler) Documents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListDocuments(w, r)
	case http.MethodPost:
		h.CreateDocument(w, r)
	default:
		methodNotAllowed(w)
	}
}

// CreateDocument handles create document HTTP requests
func (h *HTTPHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	doc, err := h.documents.CreateDocument(r.Context(), actor, req.toService())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// GetDocument handles get document HTTP requests
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// ListDocuments handles list documents HTTP requests
func (h *HTTPHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	var branchPtr, statusPtr *string
	if branch := q.Get("branch"); branch != "" {
		branchPtr = &branch
	}
	if status := q.Get("status"); status != "" {
		statusPtr = &status
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	docs, total, err := h.documents.ListDocuments(r.Context(), branchPtr, statusPtr, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": toDocumentResponses(docs),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetAvailableAction returns the caller's action buttons for a document
func (h *HTTPHandler) GetAvailableAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	view, err := h.workflow.GetAvailableAction(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toActionResponse(view))
}

// ApplyAction handles workflow action HTTP requests
func (h *HTTPHandler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.ID == "" {
		h.writeError(w, r, errors.InvalidInput("id", "is required"))
		return
	}

	doc, err := h.workflow.ApplyAction(r.Context(), actor, req.ID, req.Action, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// GetHistory returns the audit trail of a document
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	entries, err := h.workflow.GetHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": id,
		"entries":     toAuditResponses(entries),
	})
}

// GetPending returns the documents waiting on the caller
func (h *HTTPHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	docs, err := h.workflow.GetPending(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": toDocumentResponses(docs),
		"total":     len(docs),
	})
}

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok || actor.ID == "" {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "authentication required"))
		return workflow.Actor{}, false
	}
	return actor, true
}

func (h *HTTPHandler) requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, errors.InvalidInput("id", "is required"))
		return "", false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	httpStatus := httpStatusFor(code)

	resp := errorResponse{Code: code, Message: err.Error()}
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}
	if httpStatus == http.StatusInternalServerError {
		evt := h.log.Error().Err(err).Str("path", r.URL.Path)
		if id, ok := hlog.IDFromRequest(r); ok {
			evt = evt.Str("request_id", id.String())
		}
		evt.Msg("Request failed")
		resp.Message = "internal server error"
	}

	writeJSON(w, httpStatus, resp)
}

func httpStatusFor(code string) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodePermissionDenied:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeVersionConflict, errors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
