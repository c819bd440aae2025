package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"stupify/internal/metrics"
	"stupify/internal/usertoken"
	"stupify/pkg/ai"
	"stupify/pkg/billing"
	"stupify/pkg/queue"
	"stupify/pkg/store"
	"stupify/pkg/usage"
	"stupify/services/api/internal/app"
)

type stubChat struct{ answer string }

func (s stubChat) Name() string { return "stub" }

func (s stubChat) Stream(_ context.Context, _ ai.StreamRequest, onDelta ai.DeltaFunc) (ai.Reply, error) {
	for _, part := range strings.SplitAfter(s.answer, " ") {
		if err := onDelta(part); err != nil {
			return ai.Reply{}, err
		}
	}
	return ai.Reply{Text: s.answer, Provider: "stub"}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	raw, err := io.ReadAll(audio)
	return "heard " + string(raw), err
}

type stubAuth map[string]usertoken.Identity

func (s stubAuth) Authenticate(_ context.Context, token string) (usertoken.Identity, error) {
	id, ok := s[token]
	if !ok {
		return usertoken.Identity{}, usertoken.ErrInvalidToken
	}
	return id, nil
}

type testServer struct {
	url   string
	store *store.MemoryStore
}

func newTestServer(t *testing.T, tweak func(*Config)) testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	messages, err := queue.NewRedisMessageQueue(client, queue.MessageQueueConfig{})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	sessions, err := queue.NewRedisSessionStore(client, "", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	payments, err := billing.New(billing.Config{SecretKey: "sk_test_123", WebhookSecret: "whsec_server_test"})
	if err != nil {
		t.Fatalf("new billing: %v", err)
	}
	mem := store.NewMemoryStore()
	collector := metrics.New("stupify_test")
	core, err := app.New(app.Config{
		Store:       mem,
		Chat:        stubChat{answer: "Plants eat sunlight."},
		Transcriber: stubTranscriber{},
		Queue:       messages,
		Sessions:    sessions,
		Revoker:     store.NewMemoryTokenRevoker(),
		Billing:     payments,
		Metrics:     collector,
		Limits:      usage.DefaultLimits(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	issued := time.Now().Add(-time.Minute)
	cfg := Config{
		App: core,
		Authenticator: stubAuth{
			"token-a": {UserID: "user-a", Email: "a@example.com", IssuedAt: issued},
			"token-b": {UserID: "user-b", Email: "b@example.com", IssuedAt: issued},
		},
		Redis:   client,
		Metrics: collector,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testServer{url: ts.URL, store: mem}
}

func (ts testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestServerRequiresRedisRateLimiter(t *testing.T) {
	core, err := app.New(app.Config{
		Store:    store.NewMemoryStore(),
		Chat:     stubChat{},
		Queue:    &queue.RedisMessageQueue{},
		Sessions: &queue.RedisSessionStore{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := New(Config{App: core, Authenticator: stubAuth{}}); err == nil {
		t.Fatalf("expected limiter initialization to fail without redis")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	if resp := ts.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	ts.do(t, http.MethodGet, "/api/me", "token-a", nil)
	resp := ts.do(t, http.MethodGet, "/metrics", "", nil)
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `route="/api/me"`) {
		t.Fatalf("metrics should record the route pattern, status=%d", resp.StatusCode)
	}
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, nil)
	if resp := ts.do(t, http.MethodGet, "/api/me", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, "/api/me", "forged", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d", resp.StatusCode)
	}
	resp := ts.do(t, http.MethodGet, "/api/me", "token-a", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token status = %d", resp.StatusCode)
	}
	var view app.ProfileView
	decode(t, resp, &view)
	if view.Profile.ID != "user-a" || view.Usage.Limit != 10 {
		t.Fatalf("unexpected profile: %+v", view)
	}
}

func TestChatStreamsServerSentEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodPost, "/api/chat", "token-a", map[string]any{"question": "How do plants grow?", "level": "5yo"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)
	for _, want := range []string{"event: start\n", "event: delta\ndata: {\"content\":\"Plants \"}", "event: done\n", `"remaining":9`} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}
	if strings.Index(body, "event: start") > strings.Index(body, "event: done") {
		t.Fatalf("start must precede done:\n%s", body)
	}
}

func TestChatValidatesBody(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodPost, "/api/chat", "token-a", map[string]any{"question": "  ", "level": "genius"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	decode(t, resp, &payload)
	if len(payload.Fields) != 2 {
		t.Fatalf("expected question and level errors, got %+v", payload.Fields)
	}
}

func TestChatRateLimitSetsRetryAfter(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.ChatRateLimitPerMinute = 1 })
	body := map[string]any{"question": "Why is the sea salty?"}
	if resp := ts.do(t, http.MethodPost, "/api/chat", "token-a", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first chat status = %d", resp.StatusCode)
	}
	resp := ts.do(t, http.MethodPost, "/api/chat", "token-a", body)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
	if resp := ts.do(t, http.MethodPost, "/api/chat", "token-b", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("limits are per user, got %d", resp.StatusCode)
	}
}

func TestChatQuotaExhaustedIsPaymentRequired(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < 10; i++ {
		if _, err := ts.store.IncrementUsage(context.Background(), "user-a", time.Now()); err != nil {
			t.Fatalf("increment usage: %v", err)
		}
	}
	resp := ts.do(t, http.MethodPost, "/api/chat", "token-a", map[string]any{"question": "What is a comet?"})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCheckInReportsDuplicateAsOK(t *testing.T) {
	ts := newTestServer(t, nil)
	var first, second app.CheckInResult
	resp := ts.do(t, http.MethodPost, "/api/gamification/checkin", "token-a", nil)
	decode(t, resp, &first)
	resp2 := ts.do(t, http.MethodPost, "/api/gamification/checkin", "token-a", nil)
	decode(t, resp2, &second)
	if resp.StatusCode != http.StatusOK || resp2.StatusCode != http.StatusOK {
		t.Fatalf("statuses = %d, %d", resp.StatusCode, resp2.StatusCode)
	}
	if first.AlreadyCheckedIn || !second.AlreadyCheckedIn || second.Stats.Stats.XP != 5 {
		t.Fatalf("unexpected check-ins: first=%+v second=%+v", first, second)
	}
}

func TestCompanionRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	if resp := ts.do(t, http.MethodGet, "/api/companion", "token-a", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing companion status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPost, "/api/companion", "token-a", map[string]any{"archetype": "friend", "name": "Pip"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPost, "/api/companion", "token-a", map[string]any{"archetype": "mentor"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPost, "/api/companion/interact", "token-a", map[string]any{"action": "dance"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d", resp.StatusCode)
	}

	resp := ts.do(t, http.MethodPost, "/api/companion/triggers", "token-a", map[string]any{"event": "session_start", "sessionId": "s1"})
	var fired app.TriggerResult
	decode(t, resp, &fired)
	if resp.StatusCode != http.StatusOK || !fired.Decision.Fire || fired.Message == nil {
		t.Fatalf("trigger: status=%d result=%+v", resp.StatusCode, fired)
	}

	var next struct {
		Message *queue.QueuedMessage `json:"message"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/companion/messages/next", "token-a", nil), &next)
	if next.Message == nil || next.Message.ID != fired.Message.ID {
		t.Fatalf("unexpected next message: %+v", next.Message)
	}
	if resp := ts.do(t, http.MethodPost, "/api/companion/messages/"+next.Message.ID+"/dismiss", "token-b", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("another user must not dismiss the message, got %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPost, "/api/companion/messages/"+next.Message.ID+"/dismiss", "token-a", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("dismiss status = %d", resp.StatusCode)
	}
}

func TestShareIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodPost, "/api/share", "token-a", map[string]any{"question": "What is rain?", "answer": "Water falling from clouds.", "level": "5yo"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create share status = %d", resp.StatusCode)
	}
	var created app.ShareResult
	decode(t, resp, &created)

	view := ts.do(t, http.MethodGet, "/api/share/"+created.Share.ID, "", nil)
	if view.StatusCode != http.StatusOK {
		t.Fatalf("view share status = %d", view.StatusCode)
	}
	var payload map[string]any
	decode(t, view, &payload)
	if payload["views"] != float64(1) {
		t.Fatalf("unexpected share: %+v", payload)
	}
	if _, leaked := payload["userId"]; leaked {
		t.Fatalf("public share must not expose the owner")
	}
	if resp := ts.do(t, http.MethodGet, "/api/share/nope", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing share status = %d", resp.StatusCode)
	}
}

func TestDeleteAccountRevokesExistingTokens(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/api/me", "token-a", nil)
	if resp := ts.do(t, http.MethodDelete, "/api/account", "token-a", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, "/api/me", "token-a", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token status = %d", resp.StatusCode)
	}
	if _, err := ts.store.GetProfile(context.Background(), "user-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("profile should be deleted, got %v", err)
	}
}

func TestTranscribeUpload(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.MaxAudioBytes = 16 })

	upload := func(filename, content string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("audio", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte(content))
		_ = mw.Close()
		req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/transcribe", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer token-a")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := upload("memo.webm", "hello")
	var out map[string]string
	decode(t, resp, &out)
	if resp.StatusCode != http.StatusOK || out["text"] != "heard hello" {
		t.Fatalf("transcribe: status=%d body=%v", resp.StatusCode, out)
	}
	if resp := upload("memo.webm", strings.Repeat("x", 64)); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status = %d", resp.StatusCode)
	}
	if resp := upload("memo.exe", "hello"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad extension status = %d", resp.StatusCode)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/webhooks/stripe", strings.NewReader(`{"id":"evt_1","type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, nil)
	if resp := ts.do(t, http.MethodGet, "/api/nope", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPut, "/healthz", "", nil); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method status = %d", resp.StatusCode)
	}
}
