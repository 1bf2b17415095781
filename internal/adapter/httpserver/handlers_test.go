package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/usecase"
)

type serverFixture struct {
	srv       *Server
	agents    *fakeAgents
	docs      *fakeDocs
	credits   *fakeCredits
	publisher *fakePublisher
	blob      *fakeBlob
}

func newServerFixture() *serverFixture {
	cfg := config.Config{MaxUploadMB: 10}
	agents := &fakeAgents{}
	docs := &fakeDocs{}
	credits := &fakeCredits{balance: map[string]int64{}, plan: "pro"}
	publisher := &fakePublisher{}
	blob := newFakeBlob()
	knowledge := usecase.NewKnowledge(agents, docs, blob, publisher, redisstream.StreamNewDocument, cfg.MaxUploadMB<<20)
	return &serverFixture{
		srv:       NewServer(cfg, knowledge, agents, docs, credits, publisher, nil, nil, nil),
		agents:    agents,
		docs:      docs,
		credits:   credits,
		publisher: publisher,
		blob:      blob,
	}
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWhatsappIngressQueuesMessage(t *testing.T) {
	f := newServerFixture()
	f.credits.balance["u1"] = 2

	body := `{"userId":"u1","chatId":"c9","timestamp":"1700000000","body":"hola","mediaKey":""}`
	rec := httptest.NewRecorder()
	f.srv.WhatsappIngress(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages/whatsapp", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "queued", out["status"])
	assert.NotEmpty(t, out["message_id"])

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, redisstream.StreamNewMessage, ev.stream)
	assert.Equal(t, "u1", ev.fields[domain.FieldUserID])
	assert.Equal(t, "c9", ev.fields[domain.FieldChatID])
	assert.Equal(t, "hola", ev.fields[domain.FieldBody])
	assert.Equal(t, "", ev.fields[domain.FieldMediaKey])
	assert.Equal(t, int64(1), f.credits.balance["u1"])
}

func TestWhatsappIngressRejectsBadEnvelope(t *testing.T) {
	f := newServerFixture()

	rec := httptest.NewRecorder()
	f.srv.WhatsappIngress(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.srv.WhatsappIngress(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":"hi"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.publisher.events)
}

func TestWhatsappIngressExhaustedCredits(t *testing.T) {
	f := newServerFixture()
	f.credits.balance["u1"] = 0

	rec := httptest.NewRecorder()
	f.srv.WhatsappIngress(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userId":"u1","body":"hi"}`)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", decodeBody(t, rec)["error"].(map[string]any)["code"])
	assert.Empty(t, f.publisher.events)
}

func TestWhatsappIngressPublishFailureSpendsCredit(t *testing.T) {
	f := newServerFixture()
	f.credits.balance["u1"] = 1
	f.publisher.err = errors.New("redis down")

	rec := httptest.NewRecorder()
	f.srv.WhatsappIngress(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userId":"u1","body":"hi"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// The decrement happened before the publish; it is not compensated.
	assert.Equal(t, int64(0), f.credits.balance["u1"])
}

func multipartUpload(t *testing.T, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestKnowledgeUploadAcceptsPDF(t *testing.T) {
	f := newServerFixture()
	f.agents.agents = []domain.Agent{{ID: "a1", UserID: "u1", Status: domain.AgentActive}}

	body, ctype := multipartUpload(t, "faq.pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF"))
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/upload", body), "u1")
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	f.srv.KnowledgeUpload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.NotEmpty(t, out["document_id"])
	assert.Equal(t, "pending", out["status"])

	require.Len(t, f.docs.docs, 1)
	assert.Equal(t, domain.DocumentPending, f.docs.docs[0].Status)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, redisstream.StreamNewDocument, f.publisher.events[0].stream)
	assert.Len(t, f.blob.objects, 1)
}

func TestKnowledgeUploadMarkdownByExtension(t *testing.T) {
	f := newServerFixture()
	f.agents.agents = []domain.Agent{{ID: "a1", UserID: "u1", Status: domain.AgentActive}}

	body, ctype := multipartUpload(t, "notes.md", []byte("# Refund policy\n\nFourteen days."))
	req := asUser(httptest.NewRequest(http.MethodPost, "/", body), "u1")
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	f.srv.KnowledgeUpload(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestKnowledgeUploadRejectsBinary(t *testing.T) {
	f := newServerFixture()
	f.agents.agents = []domain.Agent{{ID: "a1", UserID: "u1", Status: domain.AgentActive}}

	// PNG magic bytes; the declared .txt name must not override the sniff.
	body, ctype := multipartUpload(t, "image.txt", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	req := asUser(httptest.NewRequest(http.MethodPost, "/", body), "u1")
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	f.srv.KnowledgeUpload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.docs.docs)
	assert.Empty(t, f.blob.objects)
}

func TestKnowledgeUploadWithoutAgent(t *testing.T) {
	f := newServerFixture()

	body, ctype := multipartUpload(t, "faq.txt", []byte("plain text"))
	req := asUser(httptest.NewRequest(http.MethodPost, "/", body), "u1")
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	f.srv.KnowledgeUpload(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocuments(t *testing.T) {
	f := newServerFixture()
	f.docs.docs = []domain.Document{
		{ID: "d1", UserID: "u1", FileName: "faq.pdf", Status: domain.DocumentCompleted},
		{ID: "d2", UserID: "u2", FileName: "other.pdf", Status: domain.DocumentPending},
	}

	rec := httptest.NewRecorder()
	f.srv.ListDocuments(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	docs := out["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "faq.pdf", docs[0].(map[string]any)["file_name"])
}

func TestUpsertMyAgent(t *testing.T) {
	f := newServerFixture()

	body := `{"name":"support","base_prompt":"You are a support agent.","guardrails":"Never promise refunds."}`
	rec := httptest.NewRecorder()
	f.srv.UpsertMyAgent(rec, asUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "u1"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "support", out["name"])
	assert.Equal(t, "active", out["status"])
	require.Len(t, f.agents.agents, 1)
	assert.Equal(t, "u1", f.agents.agents[0].UserID)
}

func TestUpsertMyAgentValidation(t *testing.T) {
	f := newServerFixture()

	rec := httptest.NewRecorder()
	f.srv.UpsertMyAgent(rec, asUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"support"}`)), "u1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.agents.agents)
}

func TestActivateAgent(t *testing.T) {
	f := newServerFixture()
	f.agents.agents = []domain.Agent{{ID: "a1", UserID: "u1", Status: domain.AgentPaused}}

	rec := httptest.NewRecorder()
	f.srv.ActivateAgent(rec, asUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agent_id":"a1"}`)), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.AgentActive, f.agents.agents[0].Status)

	rec = httptest.NewRecorder()
	f.srv.ActivateAgent(rec, asUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agent_id":"ghost"}`)), "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBillingInfo(t *testing.T) {
	f := newServerFixture()
	f.credits.balance["u1"] = 42

	rec := httptest.NewRecorder()
	f.srv.BillingInfo(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1"))
	out := decodeBody(t, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), out["credits_remaining"])
	assert.Equal(t, "pro", out["plan"])

	// Unknown users fall back to the trial plan instead of erroring.
	rec = httptest.NewRecorder()
	f.srv.BillingInfo(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), "stranger"))
	out = decodeBody(t, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), out["credits_remaining"])
	assert.Equal(t, "trial", out["plan"])
}

func TestHealthEndpoints(t *testing.T) {
	f := newServerFixture()

	rec := httptest.NewRecorder()
	f.srv.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestHealthDeepReportsFailures(t *testing.T) {
	f := newServerFixture()
	f.srv.dbProbe = func(domain.Context) error { return nil }
	f.srv.redisProbe = func(domain.Context) error { return fmt.Errorf("connection refused") }
	f.srv.blobProbe = func(domain.Context) error { return nil }

	rec := httptest.NewRecorder()
	f.srv.HealthDeep(rec, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, false, out["healthy"])
	checks := out["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestSniffUploadType(t *testing.T) {
	assert.Equal(t, "application/pdf", sniffUploadType("a.pdf", []byte("%PDF-1.4")))
	assert.Equal(t, "text/plain", sniffUploadType("a.txt", []byte("hello world")))
	assert.Equal(t, "text/markdown", sniffUploadType("a.md", []byte("# hello")))
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{domain.ErrUnsupportedMedia, http.StatusBadRequest, "UNSUPPORTED_MEDIA"},
		{domain.ErrQuotaExceeded, http.StatusTooManyRequests, "QUOTA_EXCEEDED"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
		{domain.ErrUpstreamRateLimit, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMIT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("wrapped: %w", tc.err), nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeBody(t, rec)["error"].(map[string]any)["code"])
		})
	}
}
