package httpserver

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

type fakeAgents struct {
	agents []domain.Agent
	err    error
}

func (f *fakeAgents) FirstForUser(_ domain.Context, userID string) (domain.Agent, error) {
	if f.err != nil {
		return domain.Agent{}, f.err
	}
	for _, a := range f.agents {
		if a.UserID == userID {
			return a, nil
		}
	}
	return domain.Agent{}, domain.ErrNotFound
}

func (f *fakeAgents) ListForUser(_ domain.Context, userID string) ([]domain.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Agent
	for _, a := range f.agents {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgents) ListAll(domain.Context) ([]domain.Agent, error) {
	return f.agents, f.err
}

func (f *fakeAgents) Upsert(_ domain.Context, a domain.Agent) (domain.Agent, error) {
	if f.err != nil {
		return domain.Agent{}, f.err
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("agent-%d", len(f.agents)+1)
	}
	f.agents = append(f.agents, a)
	return a, nil
}

func (f *fakeAgents) UpdateStatus(_ domain.Context, agentID string, status domain.AgentStatus) error {
	if f.err != nil {
		return f.err
	}
	for i := range f.agents {
		if f.agents[i].ID == agentID {
			f.agents[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeDocs struct {
	docs      []domain.Document
	createErr error
}

func (f *fakeDocs) Create(_ domain.Context, d domain.Document) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if d.ID == "" {
		d.ID = fmt.Sprintf("doc-%d", len(f.docs)+1)
	}
	f.docs = append(f.docs, d)
	return d.ID, nil
}

func (f *fakeDocs) ListForUser(_ domain.Context, userID string) ([]domain.Document, error) {
	var out []domain.Document
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocs) ClaimProcessing(_ domain.Context, id string) (bool, error) {
	for i := range f.docs {
		if f.docs[i].ID == id {
			if f.docs[i].Status == domain.DocumentCompleted {
				return false, nil
			}
			f.docs[i].Status = domain.DocumentProcessing
			return true, nil
		}
	}
	return false, domain.ErrNotFound
}

func (f *fakeDocs) UpdateStatus(_ domain.Context, id string, status domain.DocumentStatus) error {
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeDocs) Delete(_ domain.Context, id string) error {
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeCredits struct {
	balance map[string]int64
	plan    string
	err     error
}

func (f *fakeCredits) Consume(_ domain.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	if f.balance[userID] <= 0 {
		return fmt.Errorf("%w: no credits for %s", domain.ErrQuotaExceeded, userID)
	}
	f.balance[userID]--
	return nil
}

func (f *fakeCredits) Remaining(_ domain.Context, userID string) (int64, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	n, ok := f.balance[userID]
	if !ok {
		return 0, "", domain.ErrNotFound
	}
	return n, f.plan, nil
}

type published struct {
	stream string
	fields map[string]string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (f *fakePublisher) Publish(_ domain.Context, stream string, fields map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{stream: stream, fields: fields})
	return fmt.Sprintf("1-%d", len(f.events)), nil
}

type fakeBlob struct {
	objects map[string][]byte
	putErr  error
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: map[string][]byte{}} }

func (f *fakeBlob) Put(_ domain.Context, key string, data []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlob) Get(_ domain.Context, key string) ([]byte, error) {
	b, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBlob) FetchToFile(domain.Context, string) (string, error) {
	return "", domain.ErrNotFound
}

func (f *fakeBlob) Size(_ domain.Context, key string) (int64, error) {
	b, ok := f.objects[key]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return int64(len(b)), nil
}

func (f *fakeBlob) Delete(_ domain.Context, key string) error {
	delete(f.objects, key)
	return nil
}
