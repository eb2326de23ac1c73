// Package chunker splits extracted text into bounded, semantically coherent
// passages. Splitting is two-stage: a hard pre-split on a token ceiling keeps
// any single downstream call within provider context budgets, then a semantic
// split inside each pre-chunk groups sentences toward a target token count
// without ever breaking mid-sentence.
package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/corpora-hq/corpora/internal/models"
)

const (
	// PreChunkTokenCeiling is the hard pre-split bound. It is a safety
	// valve, not a content-aware boundary.
	PreChunkTokenCeiling = 200_000

	// DefaultTargetTokens is the per-chunk sweet spot balancing retrieval
	// granularity against context dilution.
	DefaultTargetTokens = 400

	// DefaultMaxTokens is the soft ceiling a chunk may grow to before the
	// accumulated sentences are flushed.
	DefaultMaxTokens = 600

	encodingName = "cl100k_base"
)

// Chunk is one retrievable passage with its propagated metadata. The ID is
// deterministic for (documentID, PreChunkIndex, ChunkIndex), so re-running
// ingestion upserts over the same vectors instead of duplicating them.
type Chunk struct {
	ID            string
	Text          string
	PreChunkIndex int
	ChunkIndex    int
	TokenCount    int
	Metadata      models.Metadata
}

// Config tunes the chunker.
//
// TargetTokens:    approximate tokens per semantic chunk.
// MaxTokens:       flush bound; a buffered chunk never grows past this unless
//                  a single sentence alone exceeds it.
// PreChunkCeiling: hard token ceiling of a pre-chunk.
type Config struct {
	TargetTokens    int
	MaxTokens       int
	PreChunkCeiling int
}

// Chunker implements the two-stage split with a real BPE tokenizer;
// character-count heuristics undercount CJK and code-heavy documents.
type Chunker struct {
	enc *tiktoken.Tiktoken
	cfg Config
}

// New constructs a Chunker, loading the cl100k_base encoding once.
func New(cfg Config) (*Chunker, error) {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = DefaultTargetTokens
	}
	if cfg.MaxTokens < cfg.TargetTokens {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.PreChunkCeiling <= 0 {
		cfg.PreChunkCeiling = PreChunkTokenCeiling
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("chunker: load encoding %s: %w", encodingName, err)
	}
	return &Chunker{enc: enc, cfg: cfg}, nil
}

// CountTokens returns the BPE token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Chunk splits text into ordered chunks. Every chunk inherits base unchanged
// plus its own pre_chunk_index and chunk_index; nil metadata values are
// dropped rather than propagated.
func (c *Chunker) Chunk(documentID, text string, base models.Metadata) ([]Chunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("chunker: empty document id")
	}

	var out []Chunk
	for p, pre := range c.PreSplit(text) {
		meta := base.Merged(models.Metadata{"pre_chunk_index": p})
		for i, passage := range c.semanticSplit(pre) {
			out = append(out, Chunk{
				ID:            ChunkID(documentID, p, i),
				Text:          passage,
				PreChunkIndex: p,
				ChunkIndex:    i,
				TokenCount:    c.CountTokens(passage),
				Metadata:      meta.Merged(models.Metadata{"chunk_index": i}),
			})
		}
	}
	return out, nil
}

// ChunkID derives the globally unique, deterministic vector ID for a chunk.
func ChunkID(documentID string, preChunkIndex, chunkIndex int) string {
	return fmt.Sprintf("%s_pre%d_chunk%d", documentID, preChunkIndex, chunkIndex)
}

// PreSplit cuts text into pieces each at most PreChunkCeiling tokens,
// preferring paragraph boundaries and falling back to sentence boundaries for
// a paragraph that alone exceeds the ceiling. Identical input yields identical
// boundaries.
func (c *Chunker) PreSplit(text string) []string {
	total := c.CountTokens(text)
	if total <= c.cfg.PreChunkCeiling {
		return []string{text}
	}

	var (
		pres   []string
		buf    []string
		bufTok int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		pres = append(pres, joinParagraphs(buf))
		buf = buf[:0]
		bufTok = 0
	}

	for _, para := range splitParagraphs(text) {
		t := c.CountTokens(para)
		if t > c.cfg.PreChunkCeiling {
			// A single monster paragraph: cut it on sentence boundaries.
			flush()
			for _, piece := range c.splitOversized(para, c.cfg.PreChunkCeiling) {
				pres = append(pres, piece)
			}
			continue
		}
		if bufTok+t > c.cfg.PreChunkCeiling {
			flush()
		}
		buf = append(buf, para)
		bufTok += t
	}
	flush()
	return pres
}

// semanticSplit groups the pre-chunk's sentences into passages around the
// target token count. A sentence is never split; one sentence larger than the
// max stands as its own chunk.
func (c *Chunker) semanticSplit(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		out    []string
		buf    []string
		bufTok int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, joinSentences(buf))
		buf = buf[:0]
		bufTok = 0
	}

	for _, s := range sentences {
		t := c.CountTokens(s.text)
		if bufTok > 0 && bufTok+t > c.cfg.MaxTokens {
			flush()
		}
		buf = append(buf, s.text)
		bufTok += t
		// Flush at the target only on a paragraph edge, so topically
		// related sentences stay together.
		if bufTok >= c.cfg.TargetTokens && s.endsParagraph {
			flush()
		}
	}
	flush()
	return out
}

// splitOversized slices a single overlong paragraph on sentence boundaries
// into pieces each within ceiling tokens.
func (c *Chunker) splitOversized(para string, ceiling int) []string {
	var (
		out    []string
		buf    []string
		bufTok int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, joinSentences(buf))
		buf = buf[:0]
		bufTok = 0
	}
	for _, s := range splitSentences(para) {
		t := c.CountTokens(s.text)
		if bufTok > 0 && bufTok+t > ceiling {
			flush()
		}
		buf = append(buf, s.text)
		bufTok += t
	}
	flush()
	return out
}
