package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/area"
	"github.com/babcialabs/babcia/internal/audit"
	"github.com/babcialabs/babcia/internal/auth"
	"github.com/babcialabs/babcia/internal/authorization"
	"github.com/babcialabs/babcia/internal/bowl"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/cache"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/cloudmetrics"
	"github.com/babcialabs/babcia/internal/config"
	"github.com/babcialabs/babcia/internal/dashboard"
	"github.com/babcialabs/babcia/internal/eligibility"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/ledger"
	"github.com/babcialabs/babcia/internal/migration"
	"github.com/babcialabs/babcia/internal/observability"
	"github.com/babcialabs/babcia/internal/persona"
	"github.com/babcialabs/babcia/internal/providers"
	"github.com/babcialabs/babcia/internal/ratelimit"
	"github.com/babcialabs/babcia/internal/scheduler"
	"github.com/babcialabs/babcia/internal/seed"
	"github.com/babcialabs/babcia/internal/server"
	"github.com/babcialabs/babcia/internal/shop"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
	"github.com/babcialabs/babcia/internal/streak"
	"github.com/babcialabs/babcia/internal/vision"
	"github.com/babcialabs/babcia/pkg/db"
)

type testEnv struct {
	app       *fx.App
	server    *server.Server
	db        *gorm.DB
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_BootstrapReferenceData(t *testing.T) {
	resetDatabase(t, env.db)

	if n := countRows(t, env.db, "personas", "1 = 1"); n != 5 {
		t.Fatalf("expected 5 seeded personas, got %d", n)
	}
	if n := countRows(t, env.db, "shop_filters", "1 = 1"); n != 5 {
		t.Fatalf("expected 5 seeded filters, got %d", n)
	}

	user := struct {
		ID   int64
		Role string
	}{}
	if err := env.db.Raw(
		`SELECT id, role FROM users WHERE email = ?`,
		"dev@babcia.local",
	).Scan(&user).Error; err != nil {
		t.Fatalf("query dev user: %v", err)
	}
	if user.ID == 0 || user.Role != "admin" {
		t.Fatalf("dev admin not seeded: %+v", user)
	}
}

func TestE2E_CleaningFlow(t *testing.T) {
	resetDatabase(t, env.db)

	client := signUp(t, "flow")
	areaID := createArea(t, client, "Kitchen", "halina")

	detail := createBowl(t, client, areaID)
	if detail.Bowl.State != bowldomain.StateOpen {
		t.Fatalf("expected fresh bowl open, got %s", detail.Bowl.State)
	}
	if len(detail.Tasks) == 0 {
		t.Fatalf("expected generated tasks")
	}
	basePoints := detail.Bowl.BasePoints

	bowlID := detail.Bowl.ID.String()
	for i, task := range detail.Tasks {
		resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/bowls/"+bowlID+"/tasks/"+task.ID.String()+"/tick", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("tick task failed: %d: %s", resp.StatusCode, string(body))
		}
		var ticked bowldomain.BowlDetail
		if err := json.Unmarshal(body, &ticked); err != nil {
			t.Fatalf("decode tick response: %v", err)
		}
		if i == len(detail.Tasks)-1 {
			if ticked.Bowl.State != bowldomain.StateAllTasksComplete {
				t.Fatalf("expected all_tasks_complete after last tick, got %s", ticked.Bowl.State)
			}
		} else if ticked.Bowl.State != bowldomain.StateOpen {
			t.Fatalf("expected open mid-batch, got %s", ticked.Bowl.State)
		}
	}

	if balance := getBalance(t, client); balance != basePoints {
		t.Fatalf("expected balance %d after ticks, got %d", basePoints, balance)
	}

	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/bowls/"+bowlID+"/finish", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish bowl failed: %d: %s", resp.StatusCode, string(body))
	}
	var finished bowldomain.BowlDetail
	if err := json.Unmarshal(body, &finished); err != nil {
		t.Fatalf("decode finish response: %v", err)
	}
	if finished.Bowl.State != bowldomain.StateFinalized {
		t.Fatalf("expected finalized, got %s", finished.Bowl.State)
	}
	if finished.Bowl.FinalPoints == nil || *finished.Bowl.FinalPoints != basePoints {
		t.Fatalf("expected final points %d, got %v", basePoints, finished.Bowl.FinalPoints)
	}

	// Finishing unverified settles at the base total; the ticks already
	// paid it out, so the balance must not move again.
	if balance := getBalance(t, client); balance != basePoints {
		t.Fatalf("expected balance unchanged at %d, got %d", basePoints, balance)
	}

	// The cheapest filter costs more than one small bowl pays.
	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/api/shop/filters/sepia-memories/purchase", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for broke purchase, got %d: %s", resp.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "insufficient_points") {
		t.Fatalf("expected insufficient_points, got %s", string(body))
	}

	resp, body = doJSON(t, client, http.MethodGet, env.baseURL+"/api/dashboard/summary", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard summary failed: %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, client, http.MethodGet, env.baseURL+"/api/streak", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("streak failed: %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_RollupConsumesOutbox(t *testing.T) {
	resetDatabase(t, env.db)

	client := signUp(t, "rollup")
	areaID := createArea(t, client, "Bedroom", "grazyna")
	detail := createBowl(t, client, areaID)

	bowlID := detail.Bowl.ID.String()
	for _, task := range detail.Tasks {
		resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/bowls/"+bowlID+"/tasks/"+task.ID.String()+"/tick", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("tick task failed: %d: %s", resp.StatusCode, string(body))
		}
	}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/bowls/"+bowlID+"/finish", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish bowl failed: %d: %s", resp.StatusCode, string(body))
	}

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}

	stats := struct {
		TasksTicked    int64
		PointsEarned   int64
		BowlsFinalized int64
	}{}
	if err := env.db.Raw(
		`SELECT tasks_ticked, points_earned, bowls_finalized FROM user_day_stats WHERE user_id = ?`,
		detail.Bowl.UserID,
	).Scan(&stats).Error; err != nil {
		t.Fatalf("query day stats: %v", err)
	}
	if stats.TasksTicked != int64(len(detail.Tasks)) {
		t.Fatalf("expected %d tasks ticked in rollup, got %d", len(detail.Tasks), stats.TasksTicked)
	}
	if stats.PointsEarned != detail.Bowl.BasePoints {
		t.Fatalf("expected %d points in rollup, got %d", detail.Bowl.BasePoints, stats.PointsEarned)
	}
	if stats.BowlsFinalized != 1 {
		t.Fatalf("expected 1 finalized bowl in rollup, got %d", stats.BowlsFinalized)
	}

	if n := countRows(t, env.db, "outbox_events", "published = ?", false); n != 0 {
		t.Fatalf("expected outbox drained, %d unpublished", n)
	}
}

func TestE2E_AdminSurface(t *testing.T) {
	resetDatabase(t, env.db)

	member := signUp(t, "member")
	resp, body := doJSON(t, member, http.MethodGet, env.baseURL+"/admin/overview", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for member on admin surface, got %d: %s", resp.StatusCode, string(body))
	}

	admin := loginDevAdmin(t)
	resp, body = doJSON(t, admin, http.MethodGet, env.baseURL+"/admin/overview", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin overview failed: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, admin, http.MethodPatch, env.baseURL+"/admin/shop/filters/sepia-memories", map[string]any{"price": 60}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reprice failed: %d: %s", resp.StatusCode, string(body))
	}
	var repriced shopdomain.Filter
	if err := json.Unmarshal(body, &repriced); err != nil {
		t.Fatalf("decode reprice response: %v", err)
	}
	if repriced.Price != 60 {
		t.Fatalf("expected price 60, got %d", repriced.Price)
	}

	resp, body = doJSON(t, admin, http.MethodGet, env.baseURL+"/api/shop/filters", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog after reprice failed: %d: %s", resp.StatusCode, string(body))
	}
	var catalog struct {
		Filters []shopdomain.Filter `json:"filters"`
	}
	if err := json.Unmarshal(body, &catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	found := false
	for _, f := range catalog.Filters {
		if f.Slug == "sepia-memories" {
			found = true
			if f.Price != 60 {
				t.Fatalf("expected catalog price 60 after invalidation, got %d", f.Price)
			}
		}
	}
	if !found {
		t.Fatalf("sepia-memories missing from catalog")
	}

	if n := countRows(t, env.db, "audit_logs", "action = ?", "shop.filter_repriced"); n == 0 {
		t.Fatalf("expected audit trail for reprice")
	}

	resp, body = doJSON(t, admin, http.MethodGet, env.baseURL+"/admin/audit-logs?action=shop.filter_repriced", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list audit logs failed: %d: %s", resp.StatusCode, string(body))
	}
}

func startEnv() (*testEnv, error) {
	var (
		srv         *server.Server
		dbConn      *gorm.DB
		cfg         config.Config
		schedulerSv *scheduler.Scheduler
		httpSrv     *httptest.Server
	)

	app := fx.New(
		observability.Module,
		config.Module,
		db.Module,
		clock.Module,
		cloudmetrics.Module,
		authorization.Module,
		audit.Module,
		events.Module,
		auth.Module,
		area.Module,
		bowl.Module,
		dashboard.Module,
		eligibility.Module,
		ledger.Module,
		persona.Module,
		providers.Module,
		ratelimit.Module,
		shop.Module,
		streak.Module,
		vision.Module,
		migration.Module,
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(cache.NewCatalogCache),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn, &cfg, &schedulerSv),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv = httptest.NewServer(srv.Engine())

	return &testEnv{
		app:       app,
		server:    srv,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		scheduler: schedulerSv,
		httpSrv:   httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_PATH", filepath.Join(os.TempDir(), fmt.Sprintf("babcia-e2e-%d.db", time.Now().UnixNano())))
	setEnvIfEmpty("AUTH_COOKIE_SECURE", "false")
	setEnvIfEmpty("VISION_PROVIDER", "static")
	setEnvIfEmpty("LOG_LEVEL", "error")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

var appTables = []string{
	"sessions",
	"tasks",
	"verification_attempts",
	"bowls",
	"areas",
	"ledger_entries",
	"shop_unlocks",
	"shop_filters",
	"personas",
	"streak_states",
	"outbox_events",
	"audit_logs",
	"user_day_stats",
	"area_stats",
	"stats_rebuild_requests",
	"users",
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, table := range appTables {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
	if err := seed.EnsureReferenceData(dbConn); err != nil {
		t.Fatalf("seed reference data: %v", err)
	}
	if err := seed.EnsureDevUser(dbConn); err != nil {
		t.Fatalf("seed dev user: %v", err)
	}
}

func signUp(t *testing.T, label string) *http.Client {
	t.Helper()
	client := newHTTPClient()

	req := map[string]any{
		"email":        fmt.Sprintf("%s-%d@example.com", label, time.Now().UnixNano()),
		"display_name": "E2E " + label,
		"password":     "correct-horse",
	}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/auth/signup", req, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup failed: %d: %s", resp.StatusCode, string(body))
	}
	return client
}

func loginDevAdmin(t *testing.T) *http.Client {
	t.Helper()
	client := newHTTPClient()

	req := map[string]any{
		"email":    "dev@babcia.local",
		"password": "babcia",
	}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/auth/login", req, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login failed: %d: %s", resp.StatusCode, string(body))
	}
	return client
}

func createArea(t *testing.T, client *http.Client, name, persona string) string {
	t.Helper()

	req := map[string]any{
		"name":              name,
		"persona":           persona,
		"daily_bowl_target": 1,
	}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/areas", req, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create area failed: %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		ID snowflake.ID `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode area response: %v", err)
	}
	if payload.ID == 0 {
		t.Fatalf("expected area id")
	}
	return payload.ID.String()
}

// createBowl retries with fresh photo refs because roughly one photo in
// six reads as already clean and generates nothing.
func createBowl(t *testing.T, client *http.Client, areaID string) bowldomain.BowlDetail {
	t.Helper()

	for attempt := 0; attempt < 24; attempt++ {
		req := map[string]any{
			"area_id":              areaID,
			"photo_ref":            fmt.Sprintf("e2e-photo-%d-%d", attempt, time.Now().UnixNano()),
			"verification_enabled": false,
		}
		resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/bowls", req, nil)
		if resp.StatusCode == http.StatusConflict && strings.Contains(string(body), "no_tasks_generated") {
			continue
		}
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create bowl failed: %d: %s", resp.StatusCode, string(body))
		}
		var detail bowldomain.BowlDetail
		if err := json.Unmarshal(body, &detail); err != nil {
			t.Fatalf("decode bowl response: %v", err)
		}
		return detail
	}
	t.Fatalf("no photo produced tasks after 24 attempts")
	return bowldomain.BowlDetail{}
}

func getBalance(t *testing.T, client *http.Client) int64 {
	t.Helper()

	resp, body := doJSON(t, client, http.MethodGet, env.baseURL+"/api/points/balance", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance failed: %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	return payload.Balance
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func doJSON(t *testing.T, client *http.Client, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: 15 * time.Second,
		Jar:     jar,
	}
}
