package usecase

import (
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

type fakeAgents struct {
	agent domain.Agent
	err   error
}

func (f *fakeAgents) FirstForUser(_ domain.Context, _ string) (domain.Agent, error) {
	return f.agent, f.err
}
func (f *fakeAgents) ListForUser(_ domain.Context, _ string) ([]domain.Agent, error) {
	return []domain.Agent{f.agent}, f.err
}
func (f *fakeAgents) ListAll(_ domain.Context) ([]domain.Agent, error) {
	return []domain.Agent{f.agent}, f.err
}
func (f *fakeAgents) Upsert(_ domain.Context, a domain.Agent) (domain.Agent, error) {
	return a, f.err
}
func (f *fakeAgents) UpdateStatus(_ domain.Context, _ string, _ domain.AgentStatus) error {
	return f.err
}

type fakeConvos struct {
	history []domain.HistoryEntry
	logged  []domain.ConversationTurn
	logErr  error
}

func (f *fakeConvos) Log(_ domain.Context, t domain.ConversationTurn) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logged = append(f.logged, t)
	return nil
}
func (f *fakeConvos) History(_ domain.Context, _, _ string, _ int) ([]domain.HistoryEntry, error) {
	return f.history, nil
}

type fakeChunks struct {
	hits     []domain.ScoredChunk
	inserted []domain.DocumentChunk
	err      error
}

func (f *fakeChunks) InsertBatch(_ domain.Context, chunks []domain.DocumentChunk) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}
func (f *fakeChunks) DeleteForDocument(_ domain.Context, _ string) error { return nil }
func (f *fakeChunks) Search(_ domain.Context, _ string, _ []float32, _ float64, _ int) ([]domain.ScoredChunk, error) {
	return f.hits, f.err
}

type fakeModel struct {
	reply string
	err   error
	calls int
	// prompts captures what the router actually sent.
	prompts []string
}

func (f *fakeModel) respond(prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeModel) Respond(_ domain.Context, prompt string, _ []domain.HistoryEntry) (string, error) {
	return f.respond(prompt)
}
func (f *fakeModel) Analyze(_ domain.Context, prompt string, _ []domain.HistoryEntry) (string, error) {
	return f.respond(prompt)
}
func (f *fakeModel) Extract(_ domain.Context, prompt string, _ []domain.HistoryEntry) (string, error) {
	return f.respond(prompt)
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeDocs struct {
	created  []domain.Document
	deleted  []string
	createID string
	err      error
}

func (f *fakeDocs) Create(_ domain.Context, d domain.Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, d)
	return f.createID, nil
}
func (f *fakeDocs) ListForUser(_ domain.Context, _ string) ([]domain.Document, error) {
	return f.created, nil
}
func (f *fakeDocs) ClaimProcessing(_ domain.Context, _ string) (bool, error) { return true, nil }
func (f *fakeDocs) UpdateStatus(_ domain.Context, _ string, _ domain.DocumentStatus) error {
	return nil
}
func (f *fakeDocs) Delete(_ domain.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeBlob struct {
	objects map[string][]byte
	putErr  error
	deleted []string
}

func (f *fakeBlob) Put(_ domain.Context, key string, data []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}
func (f *fakeBlob) Get(_ domain.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}
func (f *fakeBlob) FetchToFile(_ domain.Context, _ string) (string, error) { return "", nil }
func (f *fakeBlob) Size(_ domain.Context, key string) (int64, error) {
	return int64(len(f.objects[key])), nil
}
func (f *fakeBlob) Delete(_ domain.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

type fakePublisher struct {
	published []map[string]string
	streams   []string
	err       error
}

func (f *fakePublisher) Publish(_ domain.Context, stream string, fields map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.streams = append(f.streams, stream)
	f.published = append(f.published, fields)
	return "1-0", nil
}
