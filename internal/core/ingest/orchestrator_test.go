package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/chunker"
	"github.com/corpora-hq/corpora/internal/core/governor"
	"github.com/corpora-hq/corpora/internal/models"
)

// fakeStore is an in-memory DocumentStore.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]*models.Document{}}
}

func (s *fakeStore) CreateUser(context.Context, *models.User) error { return nil }
func (s *fakeStore) GetUserByEmail(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (s *fakeStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *fakeStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) ListDocuments(_ context.Context, orgID, folderName string, limit, offset int) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, doc := range s.docs {
		if doc.OrgID == orgID && (folderName == "" || doc.FolderName == folderName) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *fakeStore) ListFolders(_ context.Context, orgID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, doc := range s.docs {
		if doc.OrgID == orgID && !seen[doc.FolderName] {
			seen[doc.FolderName] = true
			out = append(out, doc.FolderName)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	delete(s.docs, id)
	return nil
}

func (s *fakeStore) RenameFolder(_ context.Context, orgID, oldName, newName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, doc := range s.docs {
		if doc.OrgID == orgID && doc.FolderName == oldName {
			doc.FolderName = newName
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpdateDocumentStage(_ context.Context, id string, patch core.StagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	if patch.Status != nil {
		doc.Status = *patch.Status
	}
	if patch.Stage != nil {
		doc.Stage = *patch.Stage
	}
	if patch.StageDescription != nil {
		doc.StageDescription = *patch.StageDescription
	}
	if patch.ProgressCurrent != nil {
		doc.ProgressCurrent = *patch.ProgressCurrent
	}
	if patch.ProgressTotal != nil {
		doc.ProgressTotal = *patch.ProgressTotal
	}
	if patch.Error != nil {
		doc.Error = *patch.Error
	}
	if patch.CompletedAt != nil {
		doc.CompletedAt = patch.CompletedAt
	}
	if patch.FailedAt != nil {
		doc.FailedAt = patch.FailedAt
	}
	return nil
}

func (s *fakeStore) SetDocumentContent(_ context.Context, id, rawContent, stage, stageDescription string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.RawContent = rawContent
	doc.Stage = stage
	doc.StageDescription = stageDescription
	return nil
}

func (s *fakeStore) SetDocumentSource(_ context.Context, id, fileName string, fileSizeMB float64, metadata models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.FileName = fileName
	doc.FileSizeMB = fileSizeMB
	doc.Metadata = metadata
	return nil
}

// fakeObjects is an in-memory ObjectStore.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (o *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return nil
}

func (o *fakeObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

func (o *fakeObjects) PresignURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (o *fakeObjects) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// fakeVectors records upserts and supports filtered deletes on document_id
// and folder_name, mirroring what the orchestrator relies on.
type fakeVectors struct {
	mu    sync.Mutex
	ids   []string
	texts map[string]string
	metas map[string]models.Metadata
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{texts: map[string]string{}, metas: map[string]models.Metadata{}}
}

func (v *fakeVectors) Upsert(_ context.Context, ids []string, texts []string, metadatas []models.Metadata, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, id := range ids {
		if _, seen := v.texts[id]; !seen {
			v.ids = append(v.ids, id)
		}
		v.texts[id] = texts[i]
		v.metas[id] = metadatas[i]
	}
	return nil
}

func (v *fakeVectors) Query(context.Context, string, models.Metadata, int, string) ([]models.VectorMatch, error) {
	return nil, nil
}

func (v *fakeVectors) DeleteByFilter(_ context.Context, filter models.Metadata, _ string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	var kept []string
	for _, id := range v.ids {
		if metadataMatches(v.metas[id], filter) {
			delete(v.texts, id)
			delete(v.metas, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	v.ids = kept
	return n, nil
}

func (v *fakeVectors) UpdateMetadataByFilter(_ context.Context, filter models.Metadata, patch models.Metadata, _ string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, id := range v.ids {
		if metadataMatches(v.metas[id], filter) {
			v.metas[id] = v.metas[id].Merged(patch)
			n++
		}
	}
	return n, nil
}

func (v *fakeVectors) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ids)
}

func metadataMatches(meta, filter models.Metadata) bool {
	for k, want := range filter {
		if meta[k] != want {
			return false
		}
	}
	return true
}

// fakeExtractor returns canned content, fails file names containing "bad",
// and tracks its own peak concurrency.
type fakeExtractor struct {
	text       string
	video      *models.VideoBundle
	delay      time.Duration
	inFlight   atomic.Int64
	maxSeen    atomic.Int64
}

func (e *fakeExtractor) Extract(_ context.Context, _ []byte, fileName, _ string) (*models.ExtractedContent, error) {
	cur := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		max := e.maxSeen.Load()
		if cur <= max || e.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if strings.Contains(fileName, "bad") {
		return nil, fmt.Errorf("malformed file %s", fileName)
	}
	if e.video != nil {
		return &models.ExtractedContent{Text: e.video.Transcript, Video: e.video}, nil
	}
	return &models.ExtractedContent{Text: e.text}, nil
}

func newTestOrchestrator(t *testing.T, capacity int, ex core.ContentExtractor) (*Orchestrator, *fakeStore, *fakeObjects, *fakeVectors) {
	t.Helper()
	store := newFakeStore()
	objects := newFakeObjects()
	vectors := newFakeVectors()
	ch, err := chunker.New(chunker.Config{})
	require.NoError(t, err)
	gov, err := governor.New(capacity)
	require.NoError(t, err)
	return NewOrchestrator(store, objects, vectors, ex, nil, ch, gov, nil), store, objects, vectors
}

// waitForStatus polls the store until the document reaches the wanted status.
func waitForStatus(t *testing.T, store *fakeStore, id, status string) *models.Document {
	t.Helper()
	var doc *models.Document
	require.Eventually(t, func() bool {
		doc, _ = store.GetDocumentByID(context.Background(), id)
		return doc != nil && doc.Status == status
	}, 3*time.Second, 10*time.Millisecond)
	return doc
}

func req(name string) Request {
	return Request{
		UserID:     "user-1",
		OrgID:      "org-1",
		FolderName: "research",
		FileName:   name,
		Data:       []byte("payload"),
	}
}

func TestProcessHappyPath(t *testing.T) {
	ex := &fakeExtractor{text: "The governor admits documents. The chunker splits them."}
	orch, store, objects, vectors := newTestOrchestrator(t, 2, ex)

	doc, err := orch.Process(context.Background(), req("notes.txt"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, models.StageCompleted, doc.Stage)
	require.NotNil(t, doc.CompletedAt)
	assert.Equal(t, "org-1/research/"+doc.ID+".txt", doc.FileKey)

	stored, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.NotEmpty(t, stored.RawContent)

	assert.Equal(t, 1, objects.count())
	require.GreaterOrEqual(t, vectors.size(), 1)

	// Chunk IDs are deterministic and metadata carries the tenant fields.
	firstID := vectors.ids[0]
	assert.Equal(t, doc.ID+"_pre0_chunk0", firstID)
	meta := vectors.metas[firstID]
	assert.Equal(t, doc.ID, meta["document_id"])
	assert.Equal(t, "research", meta["folder_name"])
	for k, val := range meta {
		assert.NotNil(t, val, "metadata key %s is nil", k)
	}
}

func TestProcessRowExistsBeforeAdmission(t *testing.T) {
	ex := &fakeExtractor{text: "irrelevant"}
	orch, store, _, _ := newTestOrchestrator(t, 1, ex)

	// Hold the only slot so Process blocks at admission, then expire its
	// context. The row must still have been created first.
	require.NoError(t, orch.gov.Acquire(context.Background()))
	defer orch.gov.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	doc, err := orch.Process(ctx, req("waiting.txt"))
	require.Error(t, err)

	var ingErr *IngestError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, FailUpload, ingErr.Stage)

	stored, _ := store.GetDocumentByID(context.Background(), doc.ID)
	require.NotNil(t, stored, "document row must exist before admission")
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.NotNil(t, stored.FailedAt)
}

func TestProcessExtractionFailureRecordedVerbatim(t *testing.T) {
	ex := &fakeExtractor{}
	orch, store, _, vectors := newTestOrchestrator(t, 2, ex)

	doc, err := orch.Process(context.Background(), req("bad-scan.txt"))
	require.Error(t, err)

	var ingErr *IngestError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, FailExtraction, ingErr.Stage)

	stored, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, models.StageFailed, stored.Stage)
	assert.Contains(t, stored.Error, "malformed file bad-scan.txt")
	require.NotNil(t, stored.FailedAt)
	assert.Equal(t, 0, vectors.size())
}

func TestEnqueueReturnsBeforeProcessing(t *testing.T) {
	ex := &fakeExtractor{text: "slow but steady content", delay: 200 * time.Millisecond}
	orch, store, _, _ := newTestOrchestrator(t, 2, ex)

	d, err := NewDispatcher(orch, 2, nil)
	require.NoError(t, err)
	defer d.Release()

	start := time.Now()
	results := d.Enqueue(context.Background(), []Request{req("slow.txt")})
	elapsed := time.Since(start)

	require.Len(t, results, 1)
	assert.Less(t, elapsed, 150*time.Millisecond, "enqueue must not wait for the pipeline")
	assert.Equal(t, models.StatusProcessing, results[0].Status)
	assert.NotEmpty(t, results[0].DocumentID)

	// The row is pollable while extraction is still running.
	stored, _ := store.GetDocumentByID(context.Background(), results[0].DocumentID)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusProcessing, stored.Status)

	waitForStatus(t, store, results[0].DocumentID, models.StatusCompleted)
}

func TestEnqueueSurvivesClientDisconnect(t *testing.T) {
	ex := &fakeExtractor{text: "content outliving its request", delay: 100 * time.Millisecond}
	orch, store, _, _ := newTestOrchestrator(t, 2, ex)

	d, err := NewDispatcher(orch, 2, nil)
	require.NoError(t, err)
	defer d.Release()

	ctx, cancel := context.WithCancel(context.Background())
	results := d.Enqueue(ctx, []Request{req("orphan.txt")})
	cancel()

	require.Len(t, results, 1)
	doc := waitForStatus(t, store, results[0].DocumentID, models.StatusCompleted)
	assert.Equal(t, models.StageCompleted, doc.Stage)
}

func TestBatchFailureIsolation(t *testing.T) {
	ex := &fakeExtractor{text: "Some perfectly fine content for chunking."}
	orch, store, _, _ := newTestOrchestrator(t, 2, ex)

	d, err := NewDispatcher(orch, 4, nil)
	require.NoError(t, err)
	defer d.Release()

	results := d.Enqueue(context.Background(), []Request{
		req("first.txt"), req("bad-middle.txt"), req("third.txt"),
	})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, models.StatusProcessing, r.Status)
	}

	first := waitForStatus(t, store, results[0].DocumentID, models.StatusCompleted)
	middle := waitForStatus(t, store, results[1].DocumentID, models.StatusFailed)
	third := waitForStatus(t, store, results[2].DocumentID, models.StatusCompleted)

	assert.Equal(t, models.StageCompleted, first.Stage)
	assert.Contains(t, middle.Error, "malformed file")
	assert.Equal(t, models.StageCompleted, third.Stage)

	// All three rows exist regardless of outcome.
	docs, _ := store.ListDocuments(context.Background(), "org-1", "research", 100, 0)
	assert.Len(t, docs, 3)
}

func TestGovernorBoundsPipelineConcurrency(t *testing.T) {
	ex := &fakeExtractor{text: "content under concurrency", delay: 20 * time.Millisecond}
	orch, store, _, _ := newTestOrchestrator(t, 2, ex)

	d, err := NewDispatcher(orch, 8, nil)
	require.NoError(t, err)
	defer d.Release()

	var reqs []Request
	for i := 0; i < 8; i++ {
		reqs = append(reqs, req(fmt.Sprintf("doc-%d.txt", i)))
	}
	results := d.Enqueue(context.Background(), reqs)

	for _, r := range results {
		waitForStatus(t, store, r.DocumentID, models.StatusCompleted)
	}
	assert.LessOrEqual(t, ex.maxSeen.Load(), int64(2), "extraction ran outside the governor bound")
}

func TestEmptyExtractionIsAnExtractionFailure(t *testing.T) {
	ex := &fakeExtractor{text: "  \n\t "}
	orch, store, _, vectors := newTestOrchestrator(t, 2, ex)

	doc, err := orch.Process(context.Background(), req("blank.pdf"))
	require.Error(t, err)

	var ingErr *IngestError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, FailExtraction, ingErr.Stage)

	stored, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "failed during extraction", stored.StageDescription)
	assert.Contains(t, stored.Error, "no content extracted")
	assert.Equal(t, 0, vectors.size())
}

func TestProcessVideoBundle(t *testing.T) {
	bundle := &models.VideoBundle{
		Transcript: "[00:00] intro\n[00:30] demo",
		Chunks: []models.SceneChunk{
			{SceneID: 0, Text: "intro", ClipStart: 0, ClipEnd: 30, Duration: 30, KeyFrameTimestamp: 15},
			{SceneID: 1, Text: "demo", ClipStart: 30, ClipEnd: 90, Duration: 60, KeyFrameTimestamp: 60},
		},
	}
	ex := &fakeExtractor{video: bundle}
	orch, store, _, vectors := newTestOrchestrator(t, 2, ex)

	doc, err := orch.Process(context.Background(), req("lecture.mjpeg"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)

	stored, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, bundle.Transcript, stored.RawContent)
	assert.Equal(t, 2, stored.ProgressTotal)
	assert.Equal(t, 2, stored.ProgressCurrent)

	require.Equal(t, 2, vectors.size())
	assert.Equal(t, doc.ID+"_0", vectors.ids[0])
	assert.Equal(t, doc.ID+"_1", vectors.ids[1])

	meta := vectors.metas[doc.ID+"_1"]
	assert.Equal(t, 1, meta["scene_id"])
	assert.Equal(t, 30.0, meta["clip_start"])
	assert.Equal(t, 60.0, meta["key_frame_timestamp"])
}

func TestDeleteFolderCascade(t *testing.T) {
	ex := &fakeExtractor{text: "Deletable content, long enough to chunk."}
	orch, store, objects, vectors := newTestOrchestrator(t, 4, ex)

	for i := 0; i < 5; i++ {
		_, err := orch.Process(context.Background(), req(fmt.Sprintf("doc-%d.txt", i)))
		require.NoError(t, err)
	}
	require.Equal(t, 5, objects.count())
	require.GreaterOrEqual(t, vectors.size(), 5)

	deleted, err := orch.DeleteFolder(context.Background(), "org-1", "research")
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	docs, _ := store.ListDocuments(context.Background(), "org-1", "research", 100, 0)
	assert.Empty(t, docs)
	assert.Equal(t, 0, objects.count())
	assert.Equal(t, 0, vectors.size())
}

func TestRenameFolderPatchesVectors(t *testing.T) {
	ex := &fakeExtractor{text: "Folder contents worth renaming."}
	orch, store, _, vectors := newTestOrchestrator(t, 2, ex)

	_, err := orch.Process(context.Background(), req("paper.txt"))
	require.NoError(t, err)

	rows, err := orch.RenameFolder(context.Background(), "org-1", "research", "archive")
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	folders, _ := store.ListFolders(context.Background(), "org-1")
	assert.Equal(t, []string{"archive"}, folders)
	for _, id := range vectors.ids {
		assert.Equal(t, "archive", vectors.metas[id]["folder_name"])
	}
}
