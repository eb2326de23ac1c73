package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corpora-hq/corpora/internal/core/ingest"
	"github.com/corpora-hq/corpora/internal/services"
)

type FolderHandler struct {
	docs *services.DocumentService
	orch *ingest.Orchestrator
}

func NewFolderHandler(docs *services.DocumentService, orch *ingest.Orchestrator) *FolderHandler {
	return &FolderHandler{docs: docs, orch: orch}
}

func (h *FolderHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	folders, err := h.docs.ListFolders(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if folders == nil {
		folders = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"folders": folders})
}

// DeleteFolder cascades over every document in the folder: storage objects,
// vectors and rows all go away.
func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	deleted, err := h.orch.DeleteFolder(r.Context(), orgID, chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"deleted_documents": deleted})
}

type renameFolderRequest struct {
	NewName string `json:"new_name"`
}

func (h *FolderHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value("org_id").(string)
	if !ok {
		http.Error(w, "org_id not found in context", http.StatusUnauthorized)
		return
	}

	var req renameFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewName == "" {
		http.Error(w, "new_name required", http.StatusBadRequest)
		return
	}

	renamed, err := h.orch.RenameFolder(r.Context(), orgID, chi.URLParam(r, "name"), req.NewName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"renamed_documents": renamed})
}
