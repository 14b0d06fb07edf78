package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"draftclinic/internal/config"
	"draftclinic/internal/credential"
	"draftclinic/internal/db"
	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
	"draftclinic/internal/migrate"
	"draftclinic/internal/session"
	"draftclinic/internal/storage"
)

const (
	testPassword = "Secret123"
	testSecret   = "test-signing-secret"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Super  domain.Actor
	Admin  domain.Actor
	Redis  *miniredis.Miniredis
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	credential.Cost = bcrypt.MinCost
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, storage.NewLocalStoreFs(afero.NewMemMapFs()), logger)
	ctx := context.Background()
	super, err := e.BootstrapSuperAdmin(ctx, "boss@example.com", testPassword, engine.Profile{FirstName: "Ada", LastName: "Boss"})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, err := e.CreateAdmin(ctx, super.ID, "editor@example.com", testPassword, engine.Profile{FirstName: "Eve", LastName: "Editor"})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	mr := miniredis.RunT(t)
	sessions := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	handler, err := New(Config{
		Engine:   e,
		Sessions: sessions,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret},
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Super:  super,
		Admin:  admin,
		Redis:  mr,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			sessions.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) login(t *testing.T, email string) TokenResponse {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/auth/login", LoginRequest{Email: email, Password: testPassword}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s status %d: %s", email, res.StatusCode, string(data))
	}
	return decode[TokenResponse](t, data)
}

func (s *testServer) register(t *testing.T, email string) TokenResponse {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/auth/register", RegisterRequest{
		Email:         email,
		Password:      testPassword,
		ProfileFields: ProfileFields{FirstName: "Sam", LastName: "Student"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	return decode[TokenResponse](t, data)
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error %s: %v", string(data), err)
	}
	return env.Error.Code
}

func TestHealthAndLabelsArePublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	health := decode[HealthResponse](t, data)
	if health.Status != "ok" || health.Sessions != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/labels", nil, map[string]string{"Accept-Language": "en-GB,en;q=0.9"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("labels status %d: %s", res.StatusCode, string(data))
	}
	table := decode[LabelsResponse](t, data)
	if table.Locale != "en" || table.Labels["request_status"]["submitted"] != "Submitted" {
		t.Fatalf("unexpected labels %+v", table)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/labels", nil, nil)
	table = decode[LabelsResponse](t, data)
	if table.Locale != "fr" || table.Labels["request_status"]["submitted"] != "Soumise" {
		t.Fatalf("french should be the default locale: %+v", table.Locale)
	}
}

func TestOpenAPIDocumentsSecurity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !bytes.Contains(data, []byte("bearerAuth")) || !bytes.Contains(data, []byte("/v1/requests/{id}/quote")) {
		t.Fatalf("openapi document missing security or routes")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs status %d", res.StatusCode)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/requests", nil, bearer("not-a-jwt"))
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d: %s", res.StatusCode, string(data))
	}
	expired, _, err := IssueAccessToken(AuthConfig{JWTSecret: testSecret, Now: func() time.Time { return time.Now().Add(-time.Hour) }}, srv.Admin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, bearer(expired))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token accepted: %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", LoginRequest{Email: "editor@example.com", Password: "Wrong1234"}, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("bad password should be 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRefreshRotationAndLogout(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	tokens := srv.register(t, "student@example.com")
	if tokens.RefreshToken == "" || tokens.Actor.Role != domain.RoleClient {
		t.Fatalf("register should return a client session: %+v", tokens)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, bearer(tokens.AccessToken))
	if res.StatusCode != http.StatusOK || decode[domain.Actor](t, data).Email != "student@example.com" {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", RefreshRequest{RefreshToken: tokens.RefreshToken}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh status %d: %s", res.StatusCode, string(data))
	}
	rotated := decode[TokenResponse](t, data)
	if rotated.RefreshToken == "" || rotated.RefreshToken == tokens.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", RefreshRequest{RefreshToken: tokens.RefreshToken}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh token should be rejected, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/logout", RefreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", RefreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token should be rejected, got %d", res.StatusCode)
	}
	if keys := srv.Redis.Keys(); len(keys) != 0 {
		t.Fatalf("all sessions should be gone, left %v", keys)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	student := bearer(srv.register(t, "student@example.com").AccessToken)
	staff := bearer(srv.login(t, "editor@example.com").AccessToken)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", SubmitRequest{
		ServiceType: "thesis",
		Title:       "Chapter 3 review",
		Description: "Methodology chapter",
		Deadline:    "2030-02-01",
		Attachments: []FilePayload{{Name: "chapter3.docx", Content: []byte("draft")}},
	}, student)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	submitted := decode[SubmitResponse](t, data)
	rqID := submitted.Request.ID
	if submitted.Request.Status != domain.StatusSubmitted || len(submitted.Documents) != 1 {
		t.Fatalf("unexpected submission %+v", submitted)
	}
	if submitted.Request.StatusLabel != "Soumise" {
		t.Fatalf("expected french status label, got %q", submitted.Request.StatusLabel)
	}

	deposit := 40.0
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+rqID+"/quote", QuoteRequest{QuoteAmount: 100, DepositRequired: &deposit}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("quote status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+rqID+"/accept-quote", nil, student)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+rqID+"/payments", PaymentRequest{
		Amount:        40,
		PaymentMethod: "bank_transfer",
		Proof:         &FilePayload{Name: "receipt.pdf", Content: []byte("%PDF-1.4")},
	}, student)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("payment status %d: %s", res.StatusCode, string(data))
	}
	payment := decode[PaymentView](t, data)
	if payment.Type != domain.PaymentDeposit || payment.ProofDocumentID == nil {
		t.Fatalf("unexpected payment %+v", payment)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/payments/"+payment.ID+"/verify", DecisionRequest{Action: "approve"}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	verified := decode[VerifyPaymentResponse](t, data)
	if verified.Request.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress after deposit, got %s", verified.Request.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+rqID+"/deliverables", DeliverableRequest{
		File:    FilePayload{Name: "final.docx", Content: []byte("finished work")},
		Comment: "first pass",
	}, staff)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("deliverable status %d: %s", res.StatusCode, string(data))
	}
	deliverable := decode[DocumentView](t, data)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/documents/"+deliverable.ID+"/content", nil)
	req.Header.Set("Authorization", student["Authorization"])
	dl, err := client.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	content, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK || string(content) != "finished work" {
		t.Fatalf("download status %d: %q", dl.StatusCode, content)
	}
	if !strings.Contains(dl.Header.Get("Content-Disposition"), "final.docx") {
		t.Fatalf("missing filename in %q", dl.Header.Get("Content-Disposition"))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/requests/"+rqID+"/status", UpdateStatusRequest{Status: "delivered"}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deliver status %d: %s", res.StatusCode, string(data))
	}
	if decode[RequestView](t, data).ProgressPercentage != 100 {
		t.Fatalf("delivered request should be at 100%%")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+rqID, nil, student)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail status %d: %s", res.StatusCode, string(data))
	}
	detail := decode[RequestDetailResponse](t, data)
	if len(detail.Payments) != 1 || len(detail.Documents) != 3 {
		t.Fatalf("unexpected detail: %d payments %d documents", len(detail.Payments), len(detail.Documents))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+rqID+"/activity?order=asc", nil, map[string]string{
		"Authorization":   student["Authorization"],
		"Accept-Language": "en",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity status %d: %s", res.StatusCode, string(data))
	}
	timeline := decode[[]ActivityView](t, data)
	if len(timeline) == 0 || timeline[len(timeline)-1].Action != domain.ActionProgressUpdate && timeline[len(timeline)-1].Action != domain.ActionStatusChange {
		t.Fatalf("unexpected timeline tail %+v", timeline)
	}
	for _, entry := range timeline {
		if !entry.VisibleToClient || entry.ActionLabel == "" {
			t.Fatalf("client timeline leaked entry %+v", entry)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	dash := decode[DashboardResponse](t, data)
	if dash.Admin == nil || dash.Admin.TotalRequests != 1 || dash.Client != nil {
		t.Fatalf("unexpected staff dashboard %+v", dash)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	owner := bearer(srv.register(t, "owner@example.com").AccessToken)
	other := bearer(srv.register(t, "other@example.com").AccessToken)
	staff := bearer(srv.login(t, "editor@example.com").AccessToken)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", SubmitRequest{ServiceType: "poetry", Title: "x"}, owner)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected 400 validation_failed, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{"title": "missing service type"}, owner)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("schema violations should be 400, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", SubmitRequest{ServiceType: "thesis", Title: "Mine"}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	rq := decode[SubmitResponse](t, data).Request

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+rq.ID, nil, other)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("foreign request should be 404, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+rq.ID+"/quote", QuoteRequest{QuoteAmount: 10}, owner)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("client quoting should be 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+rq.ID+"/accept-quote", nil, owner)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_state" {
		t.Fatalf("accepting without a quote should be 409 invalid_state, got %d: %s", res.StatusCode, string(data))
	}
	stale := rq.Version + 5
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/requests/"+rq.ID+"/status", UpdateStatusRequest{Status: "under_review", ExpectedVersion: &stale}, staff)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "conflict" {
		t.Fatalf("stale version should be 409 conflict, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests?cursor=@@@", nil, staff)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed cursor should be 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStaffManagementAndAPIKeys(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	super := bearer(srv.login(t, "boss@example.com").AccessToken)
	staff := bearer(srv.login(t, "editor@example.com").AccessToken)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/admins", CreateAdminRequest{
		Email:         "second@example.com",
		Password:      testPassword,
		ProfileFields: ProfileFields{FirstName: "Sol", LastName: "Second"},
	}, staff)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("plain admin cannot create admins, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/admins", CreateAdminRequest{
		Email:         "second@example.com",
		Password:      testPassword,
		ProfileFields: ProfileFields{FirstName: "Sol", LastName: "Second"},
	}, super)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create admin status %d: %s", res.StatusCode, string(data))
	}
	second := decode[domain.Actor](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/admins/"+second.ID+"/toggle-status", nil, super)
	if res.StatusCode != http.StatusOK || decode[domain.Actor](t, data).Active {
		t.Fatalf("toggle status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", LoginRequest{Email: "second@example.com", Password: testPassword}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("inactive admin should not log in, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/me/api-keys", CreateAPIKeyRequest{Name: "ci"}, staff)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	key := decode[APIKeyResponse](t, data)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK || decode[DashboardResponse](t, data).Role != domain.RoleAdmin {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/me/api-keys/"+key.APIKey.ID, nil, super)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleting someone else's key should be 404, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/me/api-keys/"+key.APIKey.ID, nil, staff)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deleted key should be rejected, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/admins/"+srv.Admin.ID+"/transfer-super-admin", nil, super)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transfer status %d: %s", res.StatusCode, string(data))
	}
	transfer := decode[TransferResponse](t, data)
	if transfer.Current.Role != domain.RoleSuperAdmin || transfer.Previous.Role != domain.RoleAdmin {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler, err := New(Config{Engine: engine.Engine{}, CORSOrigins: []string{"https://app.example.com"}, Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/v1/requests", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/requests", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebhookDispatcherSignsNewEntries(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var mu sync.Mutex
	var received []webhookEvent
	var signatures []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(body, &evt)
		mu.Lock()
		received = append(received, evt)
		signatures = append(signatures, r.Header.Get("X-Draftclinic-Signature"))
		mu.Unlock()
		assert.Equal(t, Sign("hook-secret", body), r.Header.Get("X-Draftclinic-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	client, err := srv.Engine.RegisterClient(ctx, "student@example.com", testPassword, engine.Profile{FirstName: "S", LastName: "T"})
	require.NoError(t, err)
	rq, _, err := srv.Engine.Submit(ctx, engine.SubmitOptions{ActorID: client.ID, ServiceType: "thesis", Title: "Before the hook"})
	require.NoError(t, err)

	d := NewWebhookDispatcher(srv.Engine, config.Webhooks{
		Enabled: true,
		URLs:    []string{hook.URL},
		Secret:  "hook-secret",
		Actions: []string{string(domain.ActionQuoteSent)},
	}, nil)
	d.DispatchAll(ctx)
	require.Empty(t, received, "history must not be replayed")

	_, err = srv.Engine.SendQuote(ctx, engine.SendQuoteOptions{ActorID: srv.Admin.ID, RequestID: rq.ID, Amount: 120})
	require.NoError(t, err)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, string(domain.ActionQuoteSent), received[0].Action)
	assert.Equal(t, rq.ID, received[0].RequestID)
	assert.True(t, strings.HasPrefix(signatures[0], "sha256="))
}
