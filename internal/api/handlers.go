// Package api is the HTTP surface: lead intake, review actions, knowledge
// management and the audit listing, plus the MCP tool server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bizpilot/bizpilot/internal/corpus"
	"github.com/bizpilot/bizpilot/internal/orchestrator"
	"github.com/bizpilot/bizpilot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store             *storage.Store
	Corpus            *corpus.Manager
	Token             string
	MaxAttempts       int
	AutoSendThreshold float64
}

// NewHandler builds the full router. /health is open; everything under /api
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/leads", handleCreateLead(deps))
		r.Get("/leads", handleListLeads(deps))
		r.Get("/leads/{id}", handleGetLead(deps))
		r.Get("/messages", handleListMessages(deps))
		r.Post("/messages/{id}/review", handleReviewMessage(deps))
		r.Get("/model-calls", handleListModelCalls(deps))
		r.Post("/knowledge", handleAddKnowledge(deps))
		r.Get("/knowledge", handleListKnowledge(deps))
		r.Delete("/knowledge/{id}", handleDeleteKnowledge(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CreateLeadRequest is the intake payload.
type CreateLeadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

func handleCreateLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateLeadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" || req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and message are required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		lead := storage.Lead{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Email:     req.Email,
			Company:   req.Company,
			Message:   req.Message,
			Source:    req.Source,
			Status:    storage.LeadStatusNew,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveLead(lead); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save lead: %v", err)
			return
		}
		if err := deps.Store.EnqueueJob(orchestrator.NewTriageJob(lead.ID, deps.MaxAttempts)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "lead saved but failed to enqueue triage: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"id":     lead.ID,
			"status": "queued",
		})
	}
}

func handleListLeads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := storage.LeadFilter{
			Tier:   r.URL.Query().Get("tier"),
			Status: r.URL.Query().Get("status"),
			Limit:  parseIntParam(r, "limit", 20, 100),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		leads, err := deps.Store.ListLeads(filter)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list leads: %v", err)
			return
		}
		if leads == nil {
			leads = []storage.Lead{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(leadsJSON(leads))
	}
}

// leadDetail is a lead with its classification history attached.
type leadDetail struct {
	leadJSON
	Classifications []classificationJSON `json:"classifications"`
}

func handleGetLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		lead, err := deps.Store.GetLead(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "lead not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get lead: %v", err)
			return
		}

		history, err := deps.Store.ListClassifications(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list classifications: %v", err)
			return
		}

		detail := leadDetail{
			leadJSON:        toLeadJSON(lead),
			Classifications: make([]classificationJSON, 0, len(history)),
		}
		for _, c := range history {
			detail.Classifications = append(detail.Classifications, toClassificationJSON(c))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(detail)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := storage.MessageFilter{
			LeadID: r.URL.Query().Get("lead_id"),
			Status: r.URL.Query().Get("status"),
			Limit:  parseIntParam(r, "limit", 20, 100),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		messages, err := deps.Store.ListMessages(filter)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}

		out := make([]messageJSON, 0, len(messages))
		for _, m := range messages {
			out = append(out, toMessageJSON(m, deps.AutoSendThreshold))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// ReviewRequest is a review action on a generated message.
type ReviewRequest struct {
	Action  string `json:"action"` // "approve", "edit", "reject"
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func handleReviewMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req ReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var status string
		switch req.Action {
		case "approve":
			status = storage.MessageStatusApproved
		case "edit":
			if req.Subject == "" || req.Body == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "edit requires subject and body")
				return
			}
			status = storage.MessageStatusEdited
		case "reject":
			status = storage.MessageStatusRejected
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be approve, edit or reject")
			return
		}

		err := deps.Store.ReviewMessage(id, status, req.Subject, req.Body)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusConflict, "invalid_request_error", "message not found or already reviewed")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to review message: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": id, "status": status})
	}
}

func handleListModelCalls(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operation := r.URL.Query().Get("operation")
		limit := parseIntParam(r, "limit", 50, 500)

		calls, err := deps.Store.ListModelCalls(operation, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list model calls: %v", err)
			return
		}
		if calls == nil {
			calls = []storage.ModelCall{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(calls)
	}
}

// AddKnowledgeRequest adds a document from inline text, a URL, or a local PDF.
type AddKnowledgeRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	DocType string `json:"doc_type"`
	URL     string `json:"url"`
	PDFPath string `json:"pdf_path"`
}

func handleAddKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AddKnowledgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var doc storage.KnowledgeDoc
		var err error
		switch {
		case req.URL != "":
			doc, err = deps.Corpus.AddFromURL(r.Context(), req.URL, req.Title, req.DocType)
		case req.PDFPath != "":
			doc, err = deps.Corpus.AddFromPDF(r.Context(), req.PDFPath, req.Title, req.DocType)
		case req.Body != "":
			doc, err = deps.Corpus.Add(r.Context(), corpus.AddRequest{
				Title:   req.Title,
				Body:    req.Body,
				DocType: req.DocType,
			})
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of body, url or pdf_path is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to add document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": doc.ID, "status": "indexed"})
	}
}

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		docs, err := deps.Store.ListKnowledgeDocs(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.KnowledgeDoc{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Corpus.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
