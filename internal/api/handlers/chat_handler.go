package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

type ChatHandler struct {
	vectors core.VectorStore
	llm     core.LLMProvider
}

func NewChatHandler(vectors core.VectorStore, llm core.LLMProvider) *ChatHandler {
	return &ChatHandler{vectors: vectors, llm: llm}
}

type chatRequest struct {
	Query      string `json:"query"`
	FolderName string `json:"folder_name,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

type chatResponse struct {
	Answer  string               `json:"answer"`
	Sources []models.VectorMatch `json:"sources"`
}

// Query retrieves the closest chunks in the caller's org namespace and asks
// the LLM to answer from them. Folder or document filters narrow retrieval.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := ctx.Value("org_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}

	filter := models.Metadata{}
	if req.FolderName != "" {
		filter["folder_name"] = req.FolderName
	}
	if req.DocumentID != "" {
		filter["document_id"] = req.DocumentID
	}

	matches, err := h.vectors.Query(ctx, req.Query, filter, req.TopK, orgID)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(m.Text)
		sb.WriteString("\n---\n")
	}

	systemPrompt := "You are an assistant answering strictly from the provided context. If the answer is not in the context, say you cannot find it."
	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", sb.String(), req.Query)

	answer, err := h.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		http.Error(w, fmt.Sprintf("generation failed: %v", err), http.StatusInternalServerError)
		return
	}

	if matches == nil {
		matches = []models.VectorMatch{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{Answer: answer, Sources: matches})
}
