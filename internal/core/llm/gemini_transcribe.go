package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

var _ core.Transcriber = (*GeminiTranscriber)(nil)

const transcribePrompt = `Transcribe the speech in this recording.
Return a JSON array of segments, each {"start": seconds, "end": seconds, "text": "..."}.
Timestamps are seconds from the start of the recording, as numbers.
Return only the JSON array. Return [] if there is no speech.`

// GeminiTranscriber produces timestamped transcript segments from audio or
// video payloads. Timestamps are relative to the payload it is handed; when
// the extractor windows an oversize recording the offsets are corrected there.
type GeminiTranscriber struct {
	client    *genai.Client
	modelName string
}

func NewGeminiTranscriber(ctx context.Context, apiKey, modelName string) (*GeminiTranscriber, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiTranscriber{client: cl, modelName: modelName}, nil
}

func (g *GeminiTranscriber) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiTranscriber) Transcribe(ctx context.Context, data []byte, mimeType string) ([]models.TranscriptSegment, error) {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	m := g.client.GenerativeModel(g.modelName)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini transcribe: %w", err)
	}

	raw := strings.TrimSpace(flattenResponse(resp))
	if raw == "" {
		return nil, nil
	}

	var segments []models.TranscriptSegment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return segments, nil
}
