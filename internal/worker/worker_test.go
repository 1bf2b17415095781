package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

func workerConfig() config.Config {
	return config.Config{
		ASRLanguage:           "es",
		MaxUploadMB:           10,
		HistoryLimit:          10,
		RAGMatchThreshold:     0.5,
		RAGMatchCount:         5,
		RetryMaxAttempts:      4,
		RetryBase:             time.Millisecond,
		RetryCap:              2 * time.Millisecond,
		EmbedRetryMaxAttempts: 5,
		EmbedRetryBase:        time.Millisecond,
		EmbedRetryCap:         2 * time.Millisecond,
	}
}

type fakeBlob struct {
	objects    map[string][]byte
	fetchErr   error
	fetchCalls int
	fetched    []string
}

func (f *fakeBlob) Put(_ domain.Context, key string, data []byte, _ string) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}
func (f *fakeBlob) Get(_ domain.Context, key string) ([]byte, error) { return f.objects[key], nil }
func (f *fakeBlob) FetchToFile(_ domain.Context, key string) (string, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	tmp, err := os.CreateTemp("", "fetch-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(f.objects[key]); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	f.fetched = append(f.fetched, tmp.Name())
	return tmp.Name(), nil
}
func (f *fakeBlob) Size(_ domain.Context, key string) (int64, error) {
	return int64(len(f.objects[key])), nil
}
func (f *fakeBlob) Delete(_ domain.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakePublisher struct {
	streams []string
	fields  []map[string]string
	err     error
}

func (f *fakePublisher) Publish(_ domain.Context, stream string, fields map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.streams = append(f.streams, stream)
	f.fields = append(f.fields, fields)
	return "1-0", nil
}

type fakeASR struct {
	text    string
	err     error
	calls   int
	gotPath string
	gotLang string
}

func (f *fakeASR) Transcribe(_ domain.Context, wavPath, language string) (string, error) {
	f.calls++
	f.gotPath = wavPath
	f.gotLang = language
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeConverter struct {
	err     error
	created []string
}

func (f *fakeConverter) ToWAV(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	tmp, err := os.CreateTemp("", "conv-*.wav")
	if err != nil {
		return "", err
	}
	_ = tmp.Close()
	f.created = append(f.created, tmp.Name())
	return tmp.Name(), nil
}

type fakeDocs struct {
	statuses  map[string][]domain.DocumentStatus
	completed bool
	claimErr  error
	err       error
}

func (f *fakeDocs) Create(_ domain.Context, _ domain.Document) (string, error) { return "d1", nil }
func (f *fakeDocs) ListForUser(_ domain.Context, _ string) ([]domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) ClaimProcessing(ctx domain.Context, id string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.completed {
		return false, nil
	}
	if err := f.UpdateStatus(ctx, id, domain.DocumentProcessing); err != nil {
		return false, err
	}
	return true, nil
}
func (f *fakeDocs) UpdateStatus(_ domain.Context, id string, status domain.DocumentStatus) error {
	if f.err != nil {
		return f.err
	}
	if f.statuses == nil {
		f.statuses = map[string][]domain.DocumentStatus{}
	}
	f.statuses[id] = append(f.statuses[id], status)
	return nil
}
func (f *fakeDocs) Delete(_ domain.Context, _ string) error { return nil }

type fakeChunkRepo struct {
	inserted []domain.DocumentChunk
	cleared  []string
	err      error
}

func (f *fakeChunkRepo) InsertBatch(_ domain.Context, chunks []domain.DocumentChunk) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}
func (f *fakeChunkRepo) DeleteForDocument(_ domain.Context, documentID string) error {
	f.cleared = append(f.cleared, documentID)
	f.inserted = nil
	return nil
}
func (f *fakeChunkRepo) Search(_ domain.Context, _ string, _ []float32, _ float64, _ int) ([]domain.ScoredChunk, error) {
	return nil, nil
}

type fakeEmbedModel struct {
	dim       int
	err       error
	failUntil int
	calls     int
	gotTexts  []string
}

func (f *fakeEmbedModel) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errors.New("rate limited")
	}
	if f.err != nil {
		return nil, f.err
	}
	f.gotTexts = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractPath(_ domain.Context, _, _ string) (string, error) {
	return f.text, f.err
}
