// Package httpapi binds the service facade to an HTTP/JSON surface. Handlers
// translate between wire shapes and service inputs; all policy lives in the
// pipeline and the facade.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quincybrooks/siteslot/internal/pipeline"
	apperrors "github.com/quincybrooks/siteslot/internal/platform/errors"
	"github.com/quincybrooks/siteslot/internal/platform/requestctx"
	"github.com/quincybrooks/siteslot/internal/rules"
	"github.com/quincybrooks/siteslot/internal/service"
	"github.com/quincybrooks/siteslot/internal/snapshot"
	"github.com/quincybrooks/siteslot/internal/snippet"
	"github.com/quincybrooks/siteslot/internal/storage"
)

// Header names for the caller identity and write tokens.
const (
	headerActorID     = "X-Siteslot-Actor"
	headerActorName   = "X-Siteslot-Actor-Name"
	headerWriteToken  = "X-Siteslot-Write-Token"
	headerCorrelation = "X-Siteslot-Correlation"
)

// Server serves the operator API.
type Server struct {
	service *service.Service
	mux     *http.ServeMux
}

// NewServer builds the route table around a service facade.
func NewServer(svc *service.Service) *Server {
	s := &Server{service: svc, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /v1/locations/{location}/content", s.handleGetContent)
	s.mux.HandleFunc("PUT /v1/locations/{location}/content", s.handleSetContent)
	s.mux.HandleFunc("GET /v1/locations/{location}/items", s.handleGetItems)
	s.mux.HandleFunc("PUT /v1/locations/{location}/items", s.handleSetItems)
	s.mux.HandleFunc("GET /v1/history", s.handleHistory)
	s.mux.HandleFunc("POST /v1/snapshots/{id}/restore", s.handleRestore)
	s.mux.HandleFunc("GET /v1/files", s.handleListFiles)
	s.mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	s.mux.HandleFunc("PUT /v1/files/{id}", s.handleSetFile)
	s.mux.HandleFunc("DELETE /v1/files/{id}", s.handleDeleteFile)
	s.mux.HandleFunc("GET /v1/settings/retention", s.handleGetRetention)
	s.mux.HandleFunc("PUT /v1/settings/retention", s.handleSetRetention)
	s.mux.HandleFunc("POST /v1/render", s.handleRender)

	return s
}

// ServeHTTP implements http.Handler. The caller identity is lifted from
// headers into the request context before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := requestctx.Actor{
		ID:          strings.TrimSpace(r.Header.Get(headerActorID)),
		DisplayName: strings.TrimSpace(r.Header.Get(headerActorName)),
	}
	r = r.WithContext(requestctx.WithActor(r.Context(), actor))
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	response := errorResponse{Code: string(code), Message: err.Error()}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		response.Metadata = domainErr.Metadata
	}
	status := code.HTTPStatus()
	if response.Metadata["retry_after"] != "" {
		w.Header().Set("Retry-After", response.Metadata["retry_after"])
	}
	writeJSON(w, status, response)
}

func requestFrom(r *http.Request) pipeline.Request {
	return pipeline.Request{
		Actor:            requestctx.ActorFromContext(r.Context()),
		IntegrityToken:   r.Header.Get(headerWriteToken),
		CorrelationToken: r.Header.Get(headerCorrelation),
	}
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	location := snippet.Location(r.PathValue("location"))
	config, err := s.service.GetContent(r.Context(), location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

type setContentRequest struct {
	Content string            `json:"content"`
	Rules   *rules.RawRuleSet `json:"rules,omitempty"`
}

func (s *Server) handleSetContent(w http.ResponseWriter, r *http.Request) {
	var body setContentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.SetContent(r.Context(), pipeline.ContentInput{
		Request:  requestFrom(r),
		Location: snippet.Location(r.PathValue("location")),
		Content:  body.Content,
		Rules:    body.Rules,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.GetLinkedItems(r.Context(), snippet.Location(r.PathValue("location")))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []snippet.LinkedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type setItemsRequest struct {
	Items json.RawMessage `json:"items"`
}

func (s *Server) handleSetItems(w http.ResponseWriter, r *http.Request) {
	var body setItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.SetLinkedItems(r.Context(), pipeline.ItemsInput{
		Request:  requestFrom(r),
		Location: snippet.Location(r.PathValue("location")),
		RawItems: body.Items,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, _ := strconv.Atoi(params.Get("limit"))
	offset, _ := strconv.Atoi(params.Get("offset"))

	entries, err := s.service.History(r.Context(), storage.SnapshotFilter{
		Location:   params.Get("location"),
		SubjectKey: params.Get("subject"),
	}, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type restoreRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid snapshot id", http.StatusBadRequest)
		return
	}
	var body restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	request := requestFrom(r)
	entry, err := s.service.Restore(r.Context(), service.RestoreInput{
		Actor:          request.Actor,
		IntegrityToken: request.IntegrityToken,
		SnapshotID:     id,
		Kind:           snapshot.PayloadKind(body.Kind),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.ListManagedFiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []snippet.ManagedFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.service.GetManagedFile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

type setFileRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

func (s *Server) handleSetFile(w http.ResponseWriter, r *http.Request) {
	var body setFileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.SetManagedFile(r.Context(), pipeline.FileInput{
		Request:     requestFrom(r),
		FileID:      r.PathValue("id"),
		Name:        body.Name,
		ContentType: body.ContentType,
		Content:     body.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.DeleteManagedFile(r.Context(), requestFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"snapshot_id": id})
}

func (s *Server) handleGetRetention(w http.ResponseWriter, r *http.Request) {
	cap, err := s.service.Retention(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retention": cap})
}

type setRetentionRequest struct {
	Retention int `json:"retention"`
}

func (s *Server) handleSetRetention(w http.ResponseWriter, r *http.Request) {
	var body setRetentionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	request := requestFrom(r)
	if err := s.service.SetRetention(r.Context(), request.Actor, request.IntegrityToken, body.Retention); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retention": body.Retention})
}

type renderRequest struct {
	FrontPage     bool   `json:"front_page"`
	Singular      bool   `json:"singular"`
	ContentType   string `json:"content_type,omitempty"`
	ContentID     int    `json:"content_id,omitempty"`
	Path          string `json:"path,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var body renderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	injections, err := s.service.InjectableItems(r.Context(), rules.ViewContext{
		FrontPage:     body.FrontPage,
		Singular:      body.Singular,
		ContentType:   body.ContentType,
		ContentID:     body.ContentID,
		Path:          body.Path,
		Authenticated: body.Authenticated,
		Now:           time.Now(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, injections)
}
