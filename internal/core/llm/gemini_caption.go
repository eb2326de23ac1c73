package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/corpora-hq/corpora/internal/core"
)

var _ core.Captioner = (*GeminiCaptioner)(nil)

const captionPrompt = `Extract the content of this image for a search index.
If the image contains text, tables or diagrams, transcribe them verbatim.
Otherwise describe everything visible in exhaustive detail.
Return only the extracted content, no preamble.`

// GeminiCaptioner turns images into indexable text with a vision model.
type GeminiCaptioner struct {
	client    *genai.Client
	modelName string
}

func NewGeminiCaptioner(ctx context.Context, apiKey, modelName string) (*GeminiCaptioner, error) {
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
	return &GeminiCaptioner{client: cl, modelName: modelName}, nil
}

func (g *GeminiCaptioner) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiCaptioner) CaptionImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	m := g.client.GenerativeModel(g.modelName)

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(captionPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("gemini caption: %w", err)
	}
	return flattenResponse(resp), nil
}
