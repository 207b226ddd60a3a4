package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"synthia/internal/domain"
)

const maxBodyBytes = 8 << 20

type Server struct {
	svc         domain.FragmentService
	defaultTopK int
}

type uploadRequest struct {
	Paragraph string `json:"paragraph"`
}

type queryRequest struct {
	Prompt    string `json:"prompt"`
	Paragraph string `json:"paragraph"`
	TopK      *int   `json:"top_k"`
}

type contributionRequest struct {
	Paper        string   `json:"paper"`
	FragmentList []string `json:"fragmentList"`
	FragmentIDs  []string `json:"fragment_list"`
}

type matchMetadata struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

type matchResponse struct {
	ID       string        `json:"id"`
	Score    float64       `json:"score"`
	Metadata matchMetadata `json:"metadata"`
}

func NewServer(svc domain.FragmentService, defaultTopK int) *Server {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &Server{svc: svc, defaultTopK: defaultTopK}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/UploadFragment", s.handleUpload)
	mux.HandleFunc("/upload_fragment", s.handleUpload)
	mux.HandleFunc("/QueryFragment", s.handleQuery)
	mux.HandleFunc("/query_fragment", s.handleQuery)
	mux.HandleFunc("/CalculateContribution", s.handleContribution)
	mux.HandleFunc("/calculate_contribution", s.handleContribution)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "namespace": s.svc.Namespace()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !decodePost(w, r, &req) {
		return
	}
	id, err := s.svc.Upload(r.Context(), req.Paragraph)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "success"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodePost(w, r, &req) {
		return
	}
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = req.Paragraph
	}
	topK := s.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	matches, err := s.svc.Query(r.Context(), prompt, topK)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse{ID: m.ID, Score: m.Score, Metadata: matchMetadata{Text: m.Text, Source: m.Source}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespace": s.svc.Namespace(), "matches": out})
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	var req contributionRequest
	if !decodePost(w, r, &req) {
		return
	}
	ids := req.FragmentList
	if ids == nil {
		ids = req.FragmentIDs
	}
	contributions, err := s.svc.Score(r.Context(), req.Paper, ids)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contributions": contributions})
}

// decodePost enforces POST and decodes the JSON body into v. It writes the
// error response itself and reports whether the handler should continue.
func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

// StatusFor maps a service error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDependencyTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= 500 {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeErr(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response (status %d): %v", code, err)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	switch status {
	case http.StatusBadRequest:
		if err != nil && strings.HasPrefix(err.Error(), "invalid json") {
			return apiError{Code: "SY-API-4000", Message: "Malformed JSON request body."}
		}
		return apiError{Code: "SY-API-4001", Message: errMessage(err, "Invalid request. Check inputs and retry.")}
	case http.StatusNotFound:
		return apiError{Code: "SY-API-4004", Message: errMessage(err, "Requested fragment was not found.")}
	case http.StatusMethodNotAllowed:
		return apiError{Code: "SY-API-4005", Message: "This endpoint does not support the requested method."}
	case http.StatusUnprocessableEntity:
		return apiError{Code: "SY-API-4022", Message: errMessage(err, "Vector dimensions do not match.")}
	case http.StatusBadGateway:
		return apiError{Code: "SY-EMB-5020", Message: "Embedding provider unavailable. Retry shortly."}
	case http.StatusGatewayTimeout:
		return apiError{Code: "SY-DEP-5040", Message: "A dependency timed out. Retry shortly."}
	default:
		return apiError{Code: "SY-API-5000", Message: "Internal server error. Please retry or check service logs."}
	}
}

func errMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
