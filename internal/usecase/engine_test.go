package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pdfrag/config"
	"pdfrag/internal/adapter/embedding"
	"pdfrag/internal/adapter/llm"
	"pdfrag/internal/adapter/store"
	"pdfrag/internal/domain"
)

// fakeExtractor treats the uploaded bytes as plain text with form feeds
// between pages, sidestepping the pdftotext binary.
type fakeExtractor struct {
	err error
}

func (f fakeExtractor) Extract(_ context.Context, data []byte) ([]domain.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	var pages []domain.Page
	for i, text := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Chunking.Words = 10
	cfg.Chunking.Overlap = 2
	return cfg
}

func openTestEngine(t *testing.T, cfg *config.Config, answer string) *Engine {
	t.Helper()
	e, err := Open(cfg, embedding.NewMockEmbedder(64), llm.NewMockLLM(answer), fakeExtractor{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestUploadThenAsk(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg, "The solar array generates four hundred watts of power.")

	res, err := e.Upload(context.Background(), "solar.pdf",
		[]byte("the solar array generates four hundred watts of power under full sun"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.DocID == "" || res.Chunks == 0 || res.Pages != 1 {
		t.Errorf("result incomplete: %+v", res)
	}

	ans, err := e.Ask("how much power does the solar array generate", 0)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.NumChunksUsed == 0 {
		t.Error("expected retrieved chunks")
	}
	if len(ans.Sources) == 0 {
		t.Fatal("expected at least one supporting source")
	}
	if ans.Sources[0].Filename != "solar.pdf" || ans.Sources[0].Page != 1 {
		t.Errorf("unexpected source: %+v", ans.Sources[0])
	}
}

func TestAskEmptyKnowledgeBase(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "ignored")

	ans, err := e.Ask("anything", 0)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(ans.Text, "No documents have been uploaded") {
		t.Errorf("expected empty-index notice, got %q", ans.Text)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("expected no sources, got %+v", ans.Sources)
	}
}

func TestDuplicateUploadStallsWithToken(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")
	data := []byte("identical content about migratory birds")

	first, err := e.Upload(context.Background(), "birds.pdf", data)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	dup, err := e.Upload(context.Background(), "birds-copy.pdf", data)
	if err != nil {
		t.Fatalf("duplicate upload: %v", err)
	}
	if dup.Status != domain.StatusDuplicate {
		t.Fatalf("expected duplicate status, got %+v", dup)
	}
	if dup.Token == "" || dup.ExistingFilename != "birds.pdf" {
		t.Errorf("duplicate report incomplete: %+v", dup)
	}

	// Nothing was ingested for the stalled upload.
	if got := len(e.Documents()); got != 1 {
		t.Errorf("expected 1 document, got %d", got)
	}

	res, err := e.Resolve(context.Background(), dup.Token, data, domain.ActionUseExisting)
	if err != nil {
		t.Fatalf("resolve use_existing: %v", err)
	}
	if res.DocID != first.DocID {
		t.Errorf("use_existing should point at the original doc, got %+v", res)
	}
	if got := len(e.Documents()); got != 1 {
		t.Errorf("use_existing must not add a document, got %d", got)
	}
}

func TestResolveReplaceKeepsDocID(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")
	data := []byte("quarterly figures for the northern region")

	first, err := e.Upload(context.Background(), "q1.pdf", data)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	dup, err := e.Upload(context.Background(), "q1-final.pdf", data)
	if err != nil {
		t.Fatalf("duplicate upload: %v", err)
	}

	res, err := e.Resolve(context.Background(), dup.Token, data, domain.ActionReplace)
	if err != nil {
		t.Fatalf("resolve replace: %v", err)
	}
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.DocID != first.DocID {
		t.Errorf("replace must keep the document id: %s vs %s", res.DocID, first.DocID)
	}

	docs := e.Documents()
	if len(docs) != 1 || docs[0].Filename != "q1-final.pdf" {
		t.Errorf("registry should show the replacing filename: %+v", docs)
	}

	st := e.Stats()
	if st.TotalChunks != first.Chunks {
		t.Errorf("chunk count changed across replace: %d vs %d", st.TotalChunks, first.Chunks)
	}
	if st.IndexSize != st.TotalChunks {
		t.Errorf("index and chunk store disagree: %+v", st)
	}

	// The token is spent.
	if _, err := e.Resolve(context.Background(), dup.Token, data, domain.ActionCancel); !errors.Is(err, domain.ErrStaleDuplicate) {
		t.Errorf("expected ErrStaleDuplicate for spent token, got %v", err)
	}
}

func TestResolveCancel(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")
	data := []byte("meeting notes")

	if _, err := e.Upload(context.Background(), "notes.pdf", data); err != nil {
		t.Fatalf("upload: %v", err)
	}
	dup, err := e.Upload(context.Background(), "notes2.pdf", data)
	if err != nil {
		t.Fatalf("duplicate upload: %v", err)
	}

	res, err := e.Resolve(context.Background(), dup.Token, data, domain.ActionCancel)
	if err != nil {
		t.Fatalf("resolve cancel: %v", err)
	}
	if res.Status != domain.StatusCancelled {
		t.Errorf("expected cancelled, got %+v", res)
	}
	if got := len(e.Documents()); got != 1 {
		t.Errorf("cancel must leave the registry untouched, got %d docs", got)
	}
}

func TestResolveRejectsStaleToken(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")
	data := []byte("original bytes")

	if _, err := e.Upload(context.Background(), "a.pdf", data); err != nil {
		t.Fatalf("upload: %v", err)
	}
	dup, err := e.Upload(context.Background(), "b.pdf", data)
	if err != nil {
		t.Fatalf("duplicate upload: %v", err)
	}

	if _, err := e.Resolve(context.Background(), "no-such-token", data, domain.ActionReplace); !errors.Is(err, domain.ErrStaleDuplicate) {
		t.Errorf("unknown token: expected ErrStaleDuplicate, got %v", err)
	}
	if _, err := e.Resolve(context.Background(), dup.Token, []byte("different bytes"), domain.ActionReplace); !errors.Is(err, domain.ErrStaleDuplicate) {
		t.Errorf("mismatched bytes: expected ErrStaleDuplicate, got %v", err)
	}
}

func TestDeleteRemovesDocumentCompletely(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")

	res, err := e.Upload(context.Background(), "gone.pdf", []byte("soon to be deleted content"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := e.Delete(res.DocID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := len(e.Documents()); got != 0 {
		t.Errorf("expected empty registry, got %d docs", got)
	}
	st := e.Stats()
	if st.TotalChunks != 0 || st.IndexSize != 0 {
		t.Errorf("chunks should be gone: %+v", st)
	}

	ans, err := e.Ask("deleted content", 0)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(ans.Text, "No documents have been uploaded") {
		t.Errorf("deleted content still answerable: %q", ans.Text)
	}

	// The hash is free again.
	again, err := e.Upload(context.Background(), "gone.pdf", []byte("soon to be deleted content"))
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if again.Status != domain.StatusSuccess {
		t.Errorf("re-upload after delete should succeed, got %+v", again)
	}
	if again.DocID == res.DocID {
		t.Error("re-upload must mint a fresh document id")
	}
}

func TestDeleteUnknownDocument(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")
	if err := e.Delete("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)

	e := openTestEngine(t, cfg, "Tidal forces heat the moon's interior.")
	res, err := e.Upload(context.Background(), "moon.pdf",
		[]byte("tidal forces heat the moon interior and drive its geysers"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2 := openTestEngine(t, cfg, "Tidal forces heat the moon's interior.")
	docs := e2.Documents()
	if len(docs) != 1 || docs[0].ID != res.DocID {
		t.Fatalf("document did not survive reopen: %+v", docs)
	}

	ans, err := e2.Ask("what heats the moon interior", 0)
	if err != nil {
		t.Fatalf("ask after reopen: %v", err)
	}
	if len(ans.Sources) == 0 || ans.Sources[0].Filename != "moon.pdf" {
		t.Errorf("expected moon.pdf source after reopen, got %+v", ans.Sources)
	}

	// A duplicate of the persisted content is still detected.
	dup, err := e2.Upload(context.Background(), "moon-copy.pdf",
		[]byte("tidal forces heat the moon interior and drive its geysers"))
	if err != nil {
		t.Fatalf("duplicate upload after reopen: %v", err)
	}
	if dup.Status != domain.StatusDuplicate {
		t.Errorf("expected duplicate after reopen, got %+v", dup)
	}
}

func TestEmptyExtractionRegistersDocument(t *testing.T) {
	e := openTestEngine(t, testConfig(t), "x")

	res, err := e.Upload(context.Background(), "scanned.pdf", []byte("\f\f"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Status != domain.StatusEmpty {
		t.Fatalf("expected empty status, got %+v", res)
	}

	// Re-uploading the same bytes dedups instead of re-extracting.
	dup, err := e.Upload(context.Background(), "scanned-copy.pdf", []byte("\f\f"))
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if dup.Status != domain.StatusDuplicate {
		t.Errorf("expected duplicate, got %+v", dup)
	}
}

func TestExtractionFailure(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg, embedding.NewMockEmbedder(64), llm.NewMockLLM("x"),
		fakeExtractor{err: errors.New("not a pdf")})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	defer e.Close()

	res, err := e.Upload(context.Background(), "broken.pdf", []byte("garbage"))
	if !errors.Is(err, domain.ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
	if res.Status != domain.StatusError {
		t.Errorf("expected error status, got %+v", res)
	}
	if got := len(e.Documents()); got != 0 {
		t.Errorf("failed upload must not register a document, got %d", got)
	}
}

func TestAnswerGenerationFailure(t *testing.T) {
	cfg := testConfig(t)
	mock := llm.NewMockLLM("")
	mock.Err = errors.New("model unavailable")
	e, err := Open(cfg, embedding.NewMockEmbedder(64), mock, fakeExtractor{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	defer e.Close()

	if _, err := e.Upload(context.Background(), "a.pdf", []byte("some indexed words")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := e.Ask("question", 0); !errors.Is(err, domain.ErrAnswerGenerationFailed) {
		t.Errorf("expected ErrAnswerGenerationFailed, got %v", err)
	}
}

func TestCorruptStateBlocksMutationsUntilRepair(t *testing.T) {
	cfg := testConfig(t)

	// Seed a chunk with no vector to break the alignment invariant.
	p, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatalf("open persister: %v", err)
	}
	next := uint64(1)
	err = p.Apply(store.Mutation{
		PutDocs: []domain.Document{{
			ID: "d1", Filename: "bad.pdf", ContentHash: "h1", UploadedAt: time.Now().UTC(),
		}},
		PutChunks:   []domain.Chunk{{ID: 0, Text: "orphan", DocID: "d1", Page: 1}},
		NextChunkID: &next,
		DocOrder:    []string{"d1"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	p.Close()

	e := openTestEngine(t, cfg, "x")
	if !e.Corrupt() {
		t.Fatal("engine should come up corrupt")
	}

	// Reads still work.
	if got := len(e.Documents()); got != 1 {
		t.Errorf("expected the corrupt doc to be listed, got %d", got)
	}

	res, err := e.Upload(context.Background(), "new.pdf", []byte("fresh content"))
	if !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
	if res.Status != domain.StatusError {
		t.Errorf("expected error status, got %+v", res)
	}

	report, err := e.Repair()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.RemovedDocuments) != 1 || report.RemovedDocuments[0].ID != "d1" {
		t.Errorf("repair should remove the broken document: %+v", report)
	}
	if e.Corrupt() {
		t.Error("engine should be writable after repair")
	}

	if _, err := e.Upload(context.Background(), "new.pdf", []byte("fresh content")); err != nil {
		t.Errorf("upload after repair: %v", err)
	}
}

// skewedEmbedder emits vectors of a different dimension than it declares,
// the shape of a misconfigured embedding.dimension against a real model.
type skewedEmbedder struct {
	declared int
	emit     int
}

func (e *skewedEmbedder) Embed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.emit)
	}
	return out, nil
}

func (e *skewedEmbedder) Dimension() int { return e.declared }

func (e *skewedEmbedder) ModelName() string { return "skewed" }

func TestUploadRejectsMismatchedEmbedderOutput(t *testing.T) {
	cfg := testConfig(t)

	e, err := Open(cfg, &skewedEmbedder{declared: 8, emit: 9}, llm.NewMockLLM("x"), fakeExtractor{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}

	res, err := e.Upload(context.Background(), "bad.pdf", []byte("some words to embed"))
	if !errors.Is(err, domain.ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch in the chain, got %v", err)
	}
	if res.Status != domain.StatusError {
		t.Errorf("expected error status, got %+v", res)
	}
	if got := len(e.Documents()); got != 0 {
		t.Errorf("failed upload must not register a document, got %d", got)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Nothing was persisted: a clean reopen sees an empty, writable store.
	e2 := openTestEngine(t, cfg, "x")
	if e2.Corrupt() {
		t.Fatal("store should be consistent after the rejected upload")
	}
	if got := len(e2.Documents()); got != 0 {
		t.Errorf("rejected upload left a ghost document, got %d docs", got)
	}
	if got := e2.Stats().TotalChunks; got != 0 {
		t.Errorf("rejected upload left %d chunks behind", got)
	}
}

func TestOpenDegradesOnStoredDimensionMismatch(t *testing.T) {
	cfg := testConfig(t)

	// Seed a persisted vector whose dimension disagrees with the embedder's.
	p, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatalf("open persister: %v", err)
	}
	next := uint64(1)
	err = p.Apply(store.Mutation{
		PutDocs: []domain.Document{{
			ID: "d1", Filename: "bad.pdf", ContentHash: "h1", UploadedAt: time.Now().UTC(),
			NumPages: 1, NumChunks: 1,
		}},
		PutChunks:   []domain.Chunk{{ID: 0, Text: "words", DocID: "d1", Page: 1}},
		PutVectors:  map[uint64][]float32{0: make([]float32, 9)},
		NextChunkID: &next,
		DocOrder:    []string{"d1"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	p.Close()

	// The engine still opens, read-only, instead of refusing to start.
	e := openTestEngine(t, cfg, "x")
	if !e.Corrupt() {
		t.Fatal("engine should come up corrupt on a dimension mismatch")
	}
	if got := len(e.Documents()); got != 1 {
		t.Errorf("documents should stay listable, got %d", got)
	}

	report, err := e.Repair()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.RemovedDocuments) != 1 || report.RemovedDocuments[0].ID != "d1" {
		t.Errorf("repair should remove the unusable document: %+v", report)
	}
	if e.Corrupt() {
		t.Error("engine should be writable after repair")
	}
	if _, err := e.Upload(context.Background(), "fresh.pdf", []byte("fresh content")); err != nil {
		t.Errorf("upload after repair: %v", err)
	}
}

func TestPendingUploadExpires(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.PendingTTLMinutes = 0

	e := openTestEngine(t, cfg, "x")
	data := []byte("content stalled on a duplicate")

	if _, err := e.Upload(context.Background(), "a.pdf", data); err != nil {
		t.Fatalf("upload: %v", err)
	}
	dup, err := e.Upload(context.Background(), "b.pdf", data)
	if err != nil {
		t.Fatalf("duplicate upload: %v", err)
	}
	if dup.Token == "" {
		t.Fatalf("expected a resolution token, got %+v", dup)
	}

	time.Sleep(time.Millisecond)

	if _, err := e.Resolve(context.Background(), dup.Token, data, domain.ActionReplace); !errors.Is(err, domain.ErrStaleDuplicate) {
		t.Errorf("expired pending upload: expected ErrStaleDuplicate, got %v", err)
	}
}

func TestAskKeepsDimensionMismatchSentinel(t *testing.T) {
	cfg := testConfig(t)
	embedder := &flakyDimEmbedder{dim: 8}

	e, err := Open(cfg, embedder, llm.NewMockLLM("x"), fakeExtractor{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	defer e.Close()

	if _, err := e.Upload(context.Background(), "a.pdf", []byte("indexed words")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	embedder.skew = true
	_, err = e.Ask("question", 0)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if errors.Is(err, domain.ErrAnswerGenerationFailed) {
		t.Error("a dimension fault must not be classified as a generation failure")
	}
}

// flakyDimEmbedder emits the declared dimension until skew is set.
type flakyDimEmbedder struct {
	dim  int
	skew bool
}

func (e *flakyDimEmbedder) Embed(texts []string) ([][]float32, error) {
	n := e.dim
	if e.skew {
		n = e.dim + 1
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, n)
	}
	return out, nil
}

func (e *flakyDimEmbedder) Dimension() int { return e.dim }

func (e *flakyDimEmbedder) ModelName() string { return "flaky" }

func TestCompactPurgesTombstones(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.CompactThreshold = 1.1 // keep automatic compaction out of the way

	e := openTestEngine(t, cfg, "x")
	keep, err := e.Upload(context.Background(), "keep.pdf", []byte("words that stay around"))
	if err != nil {
		t.Fatalf("upload keep: %v", err)
	}
	gone, err := e.Upload(context.Background(), "gone.pdf", []byte("words that get removed"))
	if err != nil {
		t.Fatalf("upload gone: %v", err)
	}

	if err := e.Delete(gone.DocID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	st := e.Stats()
	if st.TotalChunks != keep.Chunks || st.IndexSize != keep.Chunks {
		t.Errorf("compaction lost or kept the wrong chunks: %+v", st)
	}

	// Survivors keep their ids and stay retrievable after a reload.
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	e2 := openTestEngine(t, cfg, "x")
	if e2.Corrupt() {
		t.Fatal("store should be consistent after compaction")
	}
	if got := e2.Stats().TotalChunks; got != keep.Chunks {
		t.Errorf("expected %d chunks after reload, got %d", keep.Chunks, got)
	}
}
