package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/corpora-hq/corpora/internal/core/ingest"
	"github.com/corpora-hq/corpora/internal/services"
)

type DocumentHandler struct {
	docs       *services.DocumentService
	dispatcher *ingest.Dispatcher
	orch       *ingest.Orchestrator
}

func NewDocumentHandler(docs *services.DocumentService, dispatcher *ingest.Dispatcher, orch *ingest.Orchestrator) *DocumentHandler {
	return &DocumentHandler{docs: docs, dispatcher: dispatcher, orch: orch}
}

// UploadDocuments accepts one or more files under the "files" field plus a
// "folder_name" value, creates a processing row per file and returns without
// waiting for the pipeline. The response is a per-file array of document IDs
// to poll; a failed file never fails the batch.
func (h *DocumentHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	folderName := r.FormValue("folder_name")
	if folderName == "" {
		folderName = "default"
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}

	var reqs []ingest.Request
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("open %s: %v", header.Filename, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("read %s: %v", header.Filename, err), http.StatusBadRequest)
			return
		}

		reqs = append(reqs, ingest.Request{
			UserID:      userID,
			OrgID:       orgID,
			FolderName:  folderName,
			FileName:    filepath.Base(header.Filename),
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	results := h.dispatcher.Enqueue(r.Context(), reqs)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"files": results})
}

// IngestYouTube accepts a video URL and enqueues its download and ingestion.
// Like uploads, the response carries a document ID to poll.
func (h *DocumentHandler) IngestYouTube(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	var body struct {
		URL        string `json:"url"`
		FolderName string `json:"folder_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if body.FolderName == "" {
		body.FolderName = "default"
	}

	result, err := h.dispatcher.EnqueueYouTube(r.Context(), ingest.YouTubeRequest{
		UserID:     userID,
		OrgID:      orgID,
		FolderName: body.FolderName,
		URL:        body.URL,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// GetDocuments lists documents, optionally filtered by ?folder= and paged
// with ?limit= / ?offset=.
func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	documents, err := h.docs.List(r.Context(), orgID, r.URL.Query().Get("folder"), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"documents": documents})
}

// GetDocument is the status poll: id, status, stage, progress, error.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.Get(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.orch.DeleteDocument(r.Context(), orgID, chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}
