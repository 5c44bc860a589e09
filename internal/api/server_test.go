package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/thermolink-core/internal/access"
	"github.com/nerrad567/thermolink-core/internal/account"
	"github.com/nerrad567/thermolink-core/internal/audit"
	"github.com/nerrad567/thermolink-core/internal/auth"
	"github.com/nerrad567/thermolink-core/internal/configpush"
	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/config"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/logging"
	"github.com/nerrad567/thermolink-core/internal/management"
	"github.com/nerrad567/thermolink-core/internal/secret"
	"github.com/nerrad567/thermolink-core/migrations"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

type fakeTransport struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (f *fakeTransport) Publish(_ context.Context, topic string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}

type healthStub struct{ err error }

func (h healthStub) HealthCheck(context.Context) error { return h.err }

type testEnv struct {
	srv       *Server
	handler   http.Handler
	registry  *device.Registry
	links     *access.Store
	transport *fakeTransport
	deviceID  string
}

// newTestEnv builds a server over a real SQLite stack with one device
// linked to acc-a. acc-b and acc-c exist but are not linked.
func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.NewMigrator(migrations.FS, ".").Up(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	accounts := account.NewSQLiteRepository(db.DB)
	for _, a := range []account.Account{
		{ID: "acc-a", Email: "a@x.com"},
		{ID: "acc-b", Email: "b@x.com"},
		{ID: "acc-c", Email: "c@x.com"},
	} {
		if err := accounts.Create(ctx, &a); err != nil {
			t.Fatalf("creating account: %v", err)
		}
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), device.NewSQLiteReadingRepository(db.DB), accounts)
	links := access.NewStore(db.DB, accounts)
	transport := &fakeTransport{}
	publisher := configpush.NewPublisher(transport, configpush.DefaultBreakerSettings())
	svc := management.NewService(registry, links, secret.NewManager(db.DB), publisher)
	svc.SetHistory(audit.NewSQLiteRepository(db.DB))

	hash, err := secret.Hash("s3cr3t")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	dev, err := registry.RegisterDevice(ctx, "AA:BB:CC", hash)
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if _, err := links.EnsureLink(ctx, dev.ID, "acc-a"); err != nil {
		t.Fatalf("EnsureLink() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	wsCfg := config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		WS:       wsCfg,
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testJWTSecret}},
		Logger:   log,
		Manager:  svc,
		Hub:      NewHub(wsCfg, log, links),
		Database: db,
		Version:  "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{
		srv:       srv,
		handler:   srv.Handler(),
		registry:  registry,
		links:     links,
		transport: transport,
		deviceID:  dev.ID,
	}
}

func token(t *testing.T, accountID string) string {
	t.Helper()
	tok, err := auth.IssueToken(accountID, testJWTSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, accountID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if accountID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, accountID))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without manager should fail")
	}
}

func TestAuth_RequiresValidToken(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestHandleListDevices(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.registry.RecordReading(context.Background(), env.deviceID, 215, time.Time{}); err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "acc-a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"value":21.5`) {
		t.Errorf("body missing latest reading: %s", rec.Body)
	}
	got := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if got.Count != 1 {
		t.Errorf("count = %d, want 1", got.Count)
	}

	other := decode[struct {
		Count int `json:"count"`
	}](t, env.do(t, http.MethodGet, "/api/v1/devices", "acc-b", ""))
	if other.Count != 0 {
		t.Errorf("unlinked account sees %d devices", other.Count)
	}
}

func TestStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	dev := "/api/v1/devices/" + env.deviceID

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    string
		want    int
	}{
		{"unlinked get", http.MethodGet, dev, "acc-b", "", http.StatusForbidden},
		{"unknown device", http.MethodGet, "/api/v1/devices/nope", "acc-a", "", http.StatusForbidden},
		{"unlinked update", http.MethodPatch, dev + "/config", "acc-b", `{"interval":2000}`, http.StatusForbidden},
		{"empty update", http.MethodPatch, dev + "/config", "acc-a", `{}`, http.StatusBadRequest},
		{"invalid interval", http.MethodPatch, dev + "/config", "acc-a", `{"interval":10}`, http.StatusBadRequest},
		{"unknown field", http.MethodPatch, dev + "/config", "acc-a", `{"colour":"red"}`, http.StatusBadRequest},
		{"bad threshold", http.MethodPatch, dev + "/config", "acc-a", `{"temp_threshold_high":"warm"}`, http.StatusBadRequest},
		{"bad range", http.MethodGet, dev + "/readings?from=yesterday", "acc-a", "", http.StatusBadRequest},
		{"inverted range", http.MethodGet, dev + "/readings?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", "acc-a", "", http.StatusBadRequest},
		{"add unknown email", http.MethodPost, dev + "/accounts", "acc-a", `{"email":"nobody@x.com"}`, http.StatusNotFound},
		{"add existing", http.MethodPost, dev + "/accounts", "acc-a", `{"email":"a@x.com"}`, http.StatusConflict},
		{"add missing email", http.MethodPost, dev + "/accounts", "acc-a", `{}`, http.StatusBadRequest},
		{"remove last link", http.MethodDelete, dev + "/accounts/acc-a", "acc-a", "", http.StatusUnprocessableEntity},
		{"remove unknown link", http.MethodDelete, dev + "/accounts/acc-c", "acc-a", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.account, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	if len(env.transport.topics) != 0 {
		t.Errorf("rejected requests published %v", env.transport.topics)
	}
}

func TestHandleUpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/devices/" + env.deviceID + "/config"

	rec := env.do(t, http.MethodPatch, path, "acc-a", `{"temp_threshold_high":"25.0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	res := decode[configpush.Result](t, rec)
	if !res.Delivered || res.Device.TempThresholdHigh != 250 {
		t.Errorf("Result = %+v", res)
	}
	if !strings.Contains(rec.Body.String(), `"temp_threshold_high":25.0`) {
		t.Errorf("body = %s", rec.Body)
	}
	if len(env.transport.topics) != 1 || env.transport.topics[0] != "users/a@x.com/devices/AA:BB:CC/config" {
		t.Errorf("published = %v", env.transport.topics)
	}
}

func TestHandleUpdateConfig_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.transport.err = errors.New("broker down")

	rec := env.do(t, http.MethodPatch, "/api/v1/devices/"+env.deviceID+"/config", "acc-a", `{"contrast":"low"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a stored but undelivered change", rec.Code)
	}
	res := decode[configpush.Result](t, rec)
	if res.Delivered || res.DeliveryError == "" {
		t.Errorf("Result = %+v, want delivered false with error", res)
	}
	if res.Device.Contrast != device.ContrastLow {
		t.Errorf("Contrast = %q, want low", res.Device.Contrast)
	}
}

func TestLinkLifecycle(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/v1/devices/" + env.deviceID + "/accounts"

	rec := env.do(t, http.MethodPost, base, "acc-a", `{"email":"b@x.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body)
	}

	list := decode[struct {
		Accounts []access.Link `json:"accounts"`
	}](t, env.do(t, http.MethodGet, base, "acc-b", ""))
	if len(list.Accounts) != 2 || !list.Accounts[0].IsOwner || list.Accounts[0].AccountID != "acc-a" {
		t.Errorf("accounts = %+v", list.Accounts)
	}

	if rec := env.do(t, http.MethodDelete, base+"/acc-a", "acc-b", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, body %s", rec.Code, rec.Body)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/devices/"+env.deviceID, "acc-a", ""); rec.Code != http.StatusForbidden {
		t.Errorf("removed account status = %d, want 403", rec.Code)
	}
}

func TestReadingsAndClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		if _, err := env.registry.RecordReading(ctx, env.deviceID, device.Temperature(190+i), base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("RecordReading() error = %v", err)
		}
	}
	path := "/api/v1/devices/" + env.deviceID + "/readings"

	got := decode[struct {
		Readings []device.Reading `json:"readings"`
	}](t, env.do(t, http.MethodGet, path+"?from=2026-01-10T09:00:00Z&to=2026-01-10T10:00:00Z", "acc-a", ""))
	if len(got.Readings) != 2 || got.Readings[0].Value != 192 {
		t.Errorf("readings = %+v", got.Readings)
	}

	rec := env.do(t, http.MethodDelete, path, "acc-a", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed":3`) {
		t.Errorf("clear = %d %s", rec.Code, rec.Body)
	}
}

func TestHandleRotateSecret(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/devices/"+env.deviceID+"/secret", "acc-a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("secret response must not be cached")
	}
	body := decode[map[string]string](t, rec)
	if len(body["secret_code"]) != 32 {
		t.Errorf("secret_code = %q", body["secret_code"])
	}
}

func TestHandleListHistory(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/v1/devices/" + env.deviceID

	if rec := env.do(t, http.MethodPost, base+"/secret", "acc-a", ""); rec.Code != http.StatusOK {
		t.Fatalf("rotate status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, base+"/config", "acc-a", `{"interval":2000}`); rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}

	page := decode[audit.ListResult](t, env.do(t, http.MethodGet, base+"/audit", "acc-a", ""))
	if page.Total != 2 || page.Entries[0].Action != audit.ActionConfigUpdate || page.Entries[1].Action != audit.ActionSecretRotate {
		t.Errorf("audit page = %+v", page)
	}

	page = decode[audit.ListResult](t, env.do(t, http.MethodGet, base+"/audit?action=secret_rotate&limit=5", "acc-a", ""))
	if page.Total != 1 || page.Limit != 5 || page.Entries[0].AccountID != "acc-a" {
		t.Errorf("filtered audit page = %+v", page)
	}

	tests := []struct {
		name    string
		path    string
		account string
		want    int
	}{
		{"bad limit", base + "/audit?limit=ten", "acc-a", http.StatusBadRequest},
		{"negative offset", base + "/audit?offset=-1", "acc-a", http.StatusBadRequest},
		{"unlinked account", base + "/audit", "acc-b", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodGet, tt.path, tt.account, ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	for i := range 2 {
		if rec := env.do(t, http.MethodGet, "/api/v1/devices", "acc-a", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/devices", "acc-a", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/devices", "acc-b", ""); rec.Code != http.StatusOK {
		t.Errorf("other account status = %d, want 200", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		database   HealthChecker
		broker     HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"all up", healthStub{}, healthStub{}, http.StatusOK, "ok"},
		{"broker down", healthStub{}, healthStub{err: errors.New("not connected")}, http.StatusOK, "degraded"},
		{"database down", healthStub{err: errors.New("closed")}, healthStub{}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *Deps) {
				d.Database = tt.database
				d.Broker = tt.broker
			})
			rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode[map[string]any](t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status field = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "thermolink_up 1\n") //nolint:errcheck // test handler
		})
	})
	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "thermolink_up") {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
