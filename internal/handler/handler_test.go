package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/GoLogware/loggate/internal/audit"
	"github.com/GoLogware/loggate/internal/middleware"
	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/optimizer"
	"github.com/GoLogware/loggate/internal/rules"
	"github.com/GoLogware/loggate/internal/service"
)

type nullSink struct{}

func (nullSink) Deliver(context.Context, []*model.LogRecord) error { return nil }

type fixture struct {
	router *gin.Engine
	engine *rules.Engine
	chain  *audit.Chain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := service.NewRegistry()
	registry.Register("log", service.NewLogNotifier())
	engine := rules.NewEngine(1000, registry)
	chain := audit.NewChain("test-secret", 1000, nil)
	opt := optimizer.New(optimizer.Config{MaxBatchSize: 500, CacheTTL: time.Minute}, nullSink{})
	pipeline := service.NewPipeline(engine, chain, opt, service.PipelineConfig{})
	t.Cleanup(pipeline.Close)

	ingest := NewIngestHandler(pipeline)
	rulesH := NewRulesHandler(engine, nil)
	auditH := NewAuditHandler(chain)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.POST("/v1/logs", ingest.Ingest)
	r.POST("/v1/logs/batch", ingest.IngestBatch)
	r.GET("/v1/rules", rulesH.List)
	r.POST("/v1/rules", rulesH.Create)
	r.GET("/v1/rules/:id", rulesH.Get)
	r.DELETE("/v1/rules/:id", rulesH.Delete)
	r.PATCH("/v1/rules/:id", rulesH.SetEnabled)
	r.GET("/v1/rules/stats", rulesH.Stats)
	r.GET("/v1/audit", auditH.Query)
	r.GET("/v1/audit/verify", auditH.Verify)
	r.GET("/v1/audit/export", auditH.Export)

	return &fixture{router: r, engine: engine, chain: chain}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestIngestSingleRecord(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/logs",
		`{"level":"ERROR","message":"payment declined","service":"billing"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}

	// ERROR records flow into the audit chain.
	entries := f.chain.Query(model.AuditQuery{})
	assert.Len(t, entries, 1)
}

func TestIngestRejectsMissingFields(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/logs", `{"message":"no level or service"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/logs/batch", `{"records":[
		{"level":"INFO","message":"a","service":"api"},
		{"level":"INFO","message":"b","service":"api"}
	]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	assert.Equal(t, float64(2), resp["accepted"])
}

func TestRuleLifecycle(t *testing.T) {
	f := newFixture(t)

	body := `{
		"id": "err-burst",
		"name": "error burst",
		"severity": "high",
		"conditions": [{"type":"threshold","metric":"error_count","threshold":3,"window_ms":60000,"operator":">"}],
		"actions": ["log"],
		"enabled": true
	}`
	w := f.do(t, http.MethodPost, "/v1/rules", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", w.Code, w.Body.String())
	}

	// Duplicate registration conflicts.
	w = f.do(t, http.MethodPost, "/v1/rules", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/v1/rules/err-burst", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPatch, "/v1/rules/err-burst", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	rule, ok := f.engine.Get("err-burst")
	if !ok {
		t.Fatal("rule disappeared")
	}
	assert.False(t, rule.Enabled)

	w = f.do(t, http.MethodDelete, "/v1/rules/err-burst", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/rules/err-burst", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleCreateRejectsInvalidCondition(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/rules", `{
		"id": "bad",
		"name": "bad",
		"severity": "low",
		"conditions": [{"type":"threshold","metric":"error_count","threshold":1,"window_ms":60000,"operator":"between"}],
		"enabled": true
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditQueryAndVerify(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.chain.LogEvent(ctx, "config_change", "update", audit.EntryOptions{
			UserID: "ops-1",
		})
		if err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	w := f.do(t, http.MethodGet, "/v1/audit?event_type=config_change&user_id=ops-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("query: got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	assert.Equal(t, 3, resp.Count)

	w = f.do(t, http.MethodGet, "/v1/audit/verify", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_valid":true`)
}

func TestAuditExportFormats(t *testing.T) {
	f := newFixture(t)
	_, err := f.chain.LogEvent(context.Background(), "login", "authenticate", audit.EntryOptions{})
	if err != nil {
		t.Fatalf("log event: %v", err)
	}

	w := f.do(t, http.MethodGet, "/v1/audit/export?format=json", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = f.do(t, http.MethodGet, "/v1/audit/export?format=csv", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,timestamp,event_type"))

	w = f.do(t, http.MethodGet, "/v1/audit/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
