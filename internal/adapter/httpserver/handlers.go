package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/usecase"
)

// Prober is a dependency the deep health check can ping.
type Prober func(ctx domain.Context) error

// Server bundles the handler dependencies.
type Server struct {
	cfg       config.Config
	knowledge *usecase.Knowledge
	agents    domain.AgentRepository
	docs      domain.DocumentRepository
	credits   domain.CreditsRepository
	publisher domain.Publisher
	validate  *validator.Validate

	dbProbe    Prober
	redisProbe Prober
	blobProbe  Prober
}

// NewServer constructs the handler set.
func NewServer(
	cfg config.Config,
	knowledge *usecase.Knowledge,
	agents domain.AgentRepository,
	docs domain.DocumentRepository,
	credits domain.CreditsRepository,
	publisher domain.Publisher,
	dbProbe, redisProbe, blobProbe Prober,
) *Server {
	return &Server{
		cfg:        cfg,
		knowledge:  knowledge,
		agents:     agents,
		docs:       docs,
		credits:    credits,
		publisher:  publisher,
		validate:   validator.New(),
		dbProbe:    dbProbe,
		redisProbe: redisProbe,
		blobProbe:  blobProbe,
	}
}

// messageEnvelope is the ingress body. Absent media is the empty string.
type messageEnvelope struct {
	UserID    string `json:"userId" validate:"required"`
	ChatID    string `json:"chatId"`
	Timestamp string `json:"timestamp"`
	Body      string `json:"body"`
	MediaKey  string `json:"mediaKey"`
}

// WhatsappIngress accepts a gateway message, charges one credit, and
// enqueues it for transcription. The credit is spent before the publish and
// is not restored on publish failure.
func (s *Server) WhatsappIngress(w http.ResponseWriter, r *http.Request) {
	var env messageEnvelope
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&env); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if err := s.validate.Struct(env); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}

	if err := s.credits.Consume(r.Context(), env.UserID); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			writeError(w, r, err, nil)
			return
		}
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}

	id, err := s.publisher.Publish(r.Context(), redisstream.StreamNewMessage, map[string]string{
		domain.FieldUserID:    env.UserID,
		domain.FieldChatID:    env.ChatID,
		domain.FieldTimestamp: env.Timestamp,
		domain.FieldBody:      env.Body,
		domain.FieldMediaKey:  env.MediaKey,
	})
	if err != nil {
		LoggerFrom(r).Error("ingress publish failed", slog.Any("error", err))
		writeError(w, r, fmt.Errorf("%w: publish failed", domain.ErrInternal), nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "message_id": id})
}

// KnowledgeUpload receives one multipart document for the caller's agent.
func (s *Server) KnowledgeUpload(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file part missing", domain.ErrInvalidArgument), nil)
		return
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, (s.cfg.MaxUploadMB<<20)+1))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}

	contentType := sniffUploadType(hdr.Filename, data)
	docID, err := s.knowledge.Upload(r.Context(), userID, filepath.Base(hdr.Filename), contentType, data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": docID, "status": string(domain.DocumentPending)})
}

// sniffUploadType detects the content type from the bytes, not the header
// the client declared. Markdown sniffs as plain text, so the extension
// decides between the two.
func sniffUploadType(fileName string, data []byte) string {
	mt := mimetype.Detect(data)
	base := strings.Split(mt.String(), ";")[0]
	if base == "text/plain" && strings.EqualFold(filepath.Ext(fileName), ".md") {
		return "text/markdown"
	}
	return base
}

// ListDocuments returns the caller's documents with their processing state.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.ListForUser(r.Context(), UserID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	out := make([]map[string]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]string{
			"id":         d.ID,
			"file_name":  d.FileName,
			"status":     string(d.Status),
			"created_at": d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

type agentRequest struct {
	Name       string         `json:"name" validate:"required"`
	BasePrompt string         `json:"base_prompt" validate:"required"`
	Guardrails string         `json:"guardrails"`
	Status     string         `json:"status"`
	Config     map[string]any `json:"config"`
}

// UpsertMyAgent creates or updates the caller's agent.
func (s *Server) UpsertMyAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	status := domain.AgentStatus(req.Status)
	if status != domain.AgentPaused {
		status = domain.AgentActive
	}
	agent, err := s.agents.Upsert(r.Context(), domain.Agent{
		UserID:     UserID(r),
		Name:       req.Name,
		BasePrompt: req.BasePrompt,
		Guardrails: req.Guardrails,
		Status:     status,
		Config:     req.Config,
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, agentResponse(agent))
}

// GetMyAgents lists the caller's agents.
func (s *Server) GetMyAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.ListForUser(r.Context(), UserID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agentResponses(agents)})
}

// ListAgents lists every agent; admin only.
func (s *Server) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agentResponses(agents)})
}

// ActivateAgent sets the caller's agent back to active.
func (s *Server) ActivateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id" validate:"required"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if err := s.agents.UpdateStatus(r.Context(), req.AgentID, domain.AgentActive); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": req.AgentID, "status": string(domain.AgentActive)})
}

// BillingInfo reports plan and remaining credits. Users without a credit
// row are on the trial plan with nothing left.
func (s *Server) BillingInfo(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	credits, plan, err := s.credits.Remaining(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			writeError(w, r, err, nil)
			return
		}
		credits, plan = 0, "trial"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           userID,
		"plan":              plan,
		"credits_remaining": credits,
		"renewal_date":      nil,
	})
}

// Health is the shallow liveness endpoint.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthDeep probes the database, Redis, and the blob store.
func (s *Server) HealthDeep(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true
	probe := func(name string, p Prober) {
		if p == nil {
			return
		}
		if err := p(r.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	probe("database", s.dbProbe)
	probe("redis", s.redisProbe)
	probe("blob", s.blobProbe)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

func agentResponse(a domain.Agent) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"name":        a.Name,
		"base_prompt": a.BasePrompt,
		"guardrails":  a.Guardrails,
		"status":      string(a.Status),
		"config":      a.Config,
		"created_at":  a.CreatedAt,
	}
}

func agentResponses(agents []domain.Agent) []map[string]any {
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	return out
}
