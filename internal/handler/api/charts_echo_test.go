package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	models "ChartCache/internal/domain/models"
	"ChartCache/internal/service/ratelimit"
	"ChartCache/internal/usecase"
	xhttp "ChartCache/pkg/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, rl *ratelimit.Limiter) (*echo.Echo, *usecase.SymbolRegistry) {
	t.Helper()
	reg := usecase.NewSymbolRegistry(usecase.WithAutoCleanup(false, 0))
	t.Cleanup(reg.Destroy)
	base := make([]models.Bar, 10)
	for i := range base {
		c := float64(i + 1)
		base[i] = models.Bar{Time: int64(i) * 60, Open: c, High: c, Low: c, Close: c, Volume: models.Vol(1)}
	}
	if err := reg.SetBase("BTCUSDT", base, 60); err != nil {
		t.Fatalf("set base: %v", err)
	}
	h := NewChartsEchoHandler(nil, usecase.NewChartsUseCase(reg, nil, false, nil), rl)
	srv := xhttp.NewServer(nil, []xhttp.Handler{h}, xhttp.WithRegistry(prometheus.NewRegistry()))
	return srv.Echo(), reg
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, env
}

func TestBarsEndpoint(t *testing.T) {
	e, _ := newTestServer(t, nil)
	rec, env := do(t, e, http.MethodGet, "/api/bars?symbol=btcusdt&tf=5m", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out models.BarsResponse
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || out.Bars[0].Close != 5 || out.Bars[1].Close != 10 {
		t.Fatalf("unexpected bars %+v", out)
	}
	if *out.Bars[0].Volume != 5 {
		t.Fatalf("volume not merged: %v", *out.Bars[0].Volume)
	}

	rec, _ = do(t, e, http.MethodGet, "/api/bars?symbol=BTCUSDT&tf=1m&from=120&to=180", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":2`) {
		t.Fatalf("range query: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBarsEndpointRejectsBadInput(t *testing.T) {
	e, _ := newTestServer(t, nil)
	for _, target := range []string{
		"/api/bars?tf=1m",
		"/api/bars?symbol=BTCUSDT&tf=7x",
		"/api/bars?symbol=BTCUSDT&from=yesterday",
		"/api/bars?symbol=BTCUSDT&from=300&to=60",
		"/api/bars?symbol=BTCUSDT&limit=60000",
		"/api/single?symbol=BTCUSDT&method=median",
	} {
		if rec, _ := do(t, e, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %s", target, rec.Code, rec.Body.String())
		}
	}
}

func TestSingleEndpointDefaultsToClose(t *testing.T) {
	e, _ := newTestServer(t, nil)
	rec, env := do(t, e, http.MethodGet, "/api/single?symbol=BTCUSDT&tf=5m", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out models.SingleResponse
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Method != "close" || out.Count != 2 || out.Values[1].Value != 10 {
		t.Fatalf("unexpected single %+v", out)
	}
}

func TestStatsEndpoints(t *testing.T) {
	e, _ := newTestServer(t, nil)
	rec, _ := do(t, e, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"symbol_count":1`) {
		t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := do(t, e, http.MethodGet, "/api/symbols/BTCUSDT/stats", ""); rec.Code != http.StatusOK {
		t.Fatalf("symbol stats: %d", rec.Code)
	}
	if rec, _ := do(t, e, http.MethodGet, "/api/symbols/NOPE/stats", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWarmupEndpoint(t *testing.T) {
	e, reg := newTestServer(t, nil)
	rec, _ := do(t, e, http.MethodPost, "/api/warmup", `{"symbol":"BTCUSDT","timeframes":["5m"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("one-shot: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, e, http.MethodPost, "/api/warmup", `{"symbol":"BTCUSDT","interval_sec":60}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("schedule: %d %s", rec.Code, rec.Body.String())
	}
	if st, _ := reg.SymbolStats("BTCUSDT"); !st.WarmupActive {
		t.Fatal("expected active warmup")
	}
	rec, _ = do(t, e, http.MethodPost, "/api/warmup", `{"symbol":"BTCUSDT","stop":true}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"stopped":true`) {
		t.Fatalf("stop: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := do(t, e, http.MethodPost, "/api/warmup", `{"symbol":"NOPE"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec, _ := do(t, e, http.MethodPost, "/api/warmup", `{"timeframes":["5m"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWarmupEndpointThrottled(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := ratelimit.New(1, 0.1).WithClock(func() time.Time { return now })
	e, _ := newTestServer(t, rl)
	if rec, _ := do(t, e, http.MethodPost, "/api/warmup", `{"symbol":"BTCUSDT"}`); rec.Code != http.StatusOK {
		t.Fatalf("first warmup: %d", rec.Code)
	}
	rec, _ := do(t, e, http.MethodPost, "/api/warmup", `{"symbol":"BTCUSDT"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "10" {
		t.Fatalf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}
}

func TestRemoveEndpoint(t *testing.T) {
	e, reg := newTestServer(t, nil)
	if rec, _ := do(t, e, http.MethodDelete, "/api/symbols/btcusdt", ""); rec.Code != http.StatusOK {
		t.Fatalf("remove: %d", rec.Code)
	}
	if reg.HasSymbol("BTCUSDT") {
		t.Fatal("symbol still cached")
	}
	if rec, _ := do(t, e, http.MethodDelete, "/api/symbols/BTCUSDT", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
