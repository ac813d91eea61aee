package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/clock"
	"github.com/rewired-gh/betledger/internal/metrics"
)

const owner = "0xowner"

type testServer struct {
	router *gin.Engine
	clock  *clock.Manual
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clk := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	collector := metrics.NewCollector("test")
	engine, err := betting.New(context.Background(), betting.Config{Owner: owner, Clock: clk, Observer: collector})
	if err != nil {
		t.Fatalf("betting.New: %v", err)
	}
	return &testServer{router: NewHandler(engine, collector, 40).NewRouter(), clock: clk}
}

type result struct {
	code int
	body map[string]any
	raw  string
}

func (s *testServer) do(t *testing.T, method, path, identity, body string) result {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != "" {
		req.Header.Set(IdentityHeader, identity)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	res := result{code: rec.Code, raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &res.body); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, res.raw, err)
		}
	}
	return res
}

func (s *testServer) mustDo(t *testing.T, method, path, identity, body string, want int) result {
	t.Helper()
	res := s.do(t, method, path, identity, body)
	if res.code != want {
		t.Fatalf("%s %s: status %d, want %d (%s)", method, path, res.code, want, res.raw)
	}
	return res
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	s.mustDo(t, "DELETE", "/participants", owner, "", http.StatusOK)
	s.mustDo(t, "POST", "/event", owner,
		`{"name":"Test Event","description":"Test Description","betting_duration":"60s","settling_duration":"120s"}`,
		http.StatusCreated)
	s.mustDo(t, "POST", "/participants", owner,
		`{"participants":[{"name":"First Participant","base_value":"1000000"},{"name":"Second Participant","base_value":500000}]}`,
		http.StatusOK)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	res := s.mustDo(t, "GET", "/healthz", "", "", http.StatusOK)
	if res.body["phase"] != "ENDED" {
		t.Errorf("phase = %v", res.body["phase"])
	}
}

func TestFullFlow(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	res := s.mustDo(t, "GET", "/event", "", "", http.StatusOK)
	ev := res.body["event"].(map[string]any)
	if ev["status"].(float64) != 2 || len(ev["participants"].([]any)) != 2 {
		t.Fatalf("event = %v", ev)
	}

	s.mustDo(t, "POST", "/bets", "0xa", `{"participant_id":1,"amount":"10000000"}`, http.StatusCreated)
	s.mustDo(t, "POST", "/bets", "0xb", `{"participant_id":0,"amount":"10000000"}`, http.StatusCreated)
	res = s.mustDo(t, "POST", "/bets", "0xc", `{"participant_id":1,"amount":"1000000"}`, http.StatusCreated)
	if res.body["gamble_id"].(float64) != 2 {
		t.Errorf("gamble_id = %v", res.body["gamble_id"])
	}

	res = s.mustDo(t, "GET", "/tally", "", "", http.StatusOK)
	if res.body["tally"] != "21000000" {
		t.Errorf("tally = %v", res.body["tally"])
	}

	s.mustDo(t, "POST", "/event/advance", owner, "", http.StatusOK)
	s.mustDo(t, "POST", "/event/winner", owner, `{"participant_id":1}`, http.StatusOK)
	res = s.mustDo(t, "GET", "/payable", "", "", http.StatusOK)
	if res.body["payable"] != "11000000" {
		t.Errorf("payable = %v", res.body["payable"])
	}

	// Default share is 40% of the 10,000,000 surplus.
	res = s.mustDo(t, "POST", "/settlement/start", owner, "", http.StatusOK)
	if res.body["house_share"] != "4000000" {
		t.Errorf("house_share = %v", res.body["house_share"])
	}

	res = s.mustDo(t, "POST", "/gambles/claim", "0xa", "", http.StatusOK)
	if ids := res.body["claimed"].([]any); len(ids) != 1 || ids[0].(float64) != 0 {
		t.Errorf("claimed = %v", ids)
	}
	s.mustDo(t, "POST", "/gambles/2/claim", "0xc", "", http.StatusOK)

	res = s.mustDo(t, "POST", "/settlement/finalize", owner, "", http.StatusConflict)
	if res.body["error"] != "TooEarly" || res.body["retry_after_seconds"].(float64) != 120 {
		t.Errorf("finalize early = %v", res.body)
	}
	s.clock.Advance(2 * time.Minute)
	res = s.mustDo(t, "POST", "/settlement/finalize", owner, "", http.StatusOK)
	if res.body["settled"] != true {
		t.Errorf("settled = %v", res.body["settled"])
	}

	res = s.mustDo(t, "GET", "/payouts", "", "", http.StatusOK)
	if len(res.body["payouts"].([]any)) != 2 {
		t.Fatalf("payouts = %v", res.body["payouts"])
	}
	res = s.mustDo(t, "POST", "/gambles/0/payout", owner, "", http.StatusOK)
	if res.body["winnings"] != "4761905" {
		t.Errorf("winnings = %v", res.body["winnings"])
	}
	s.mustDo(t, "POST", "/gambles/2/payout", owner, `{"winnings":"476191"}`, http.StatusOK)
	s.mustDo(t, "POST", "/gambles/2/payout", owner, `{"winnings":"1"}`, http.StatusConflict)

	res = s.mustDo(t, "GET", "/escrow", "", "", http.StatusOK)
	if res.body["escrow"] != "11761904" {
		t.Errorf("escrow = %v", res.body["escrow"])
	}
	res = s.mustDo(t, "GET", "/transfers", "", "", http.StatusOK)
	if len(res.body["transfers"].([]any)) != 3 {
		t.Errorf("transfers = %v", res.body["transfers"])
	}
	res = s.mustDo(t, "GET", "/gamblers/0xa/gambles", "", "", http.StatusOK)
	g := res.body["gambles"].([]any)[0].(map[string]any)
	if g["paid"] != true || g["payout"] != "4761905" {
		t.Errorf("gamble = %v", g)
	}

	res = s.mustDo(t, "GET", "/metrics", "", "", http.StatusOK)
	if !strings.Contains(res.raw, `test_ledger_bets_total{participant="1"} 2`) {
		t.Errorf("metrics missing bet counter:\n%s", res.raw)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	tests := []struct {
		name     string
		method   string
		path     string
		identity string
		body     string
		code     int
		kind     string
	}{
		{"non-owner admin call", "POST", "/event/advance", "0xa", "", http.StatusForbidden, "Unauthorized"},
		{"below minimum", "POST", "/bets", "0xa", `{"participant_id":0,"amount":"1"}`, http.StatusUnprocessableEntity, "BelowMinimum"},
		{"unknown participant", "POST", "/bets", "0xa", `{"participant_id":9,"amount":"1000000"}`, http.StatusUnprocessableEntity, "InvalidParticipant"},
		{"negative amount", "POST", "/bets", "0xa", `{"participant_id":0,"amount":"-5"}`, http.StatusBadRequest, "BadRequest"},
		{"missing participant", "POST", "/bets", "0xa", `{"amount":"5"}`, http.StatusBadRequest, "BadRequest"},
		{"claim before settlement", "POST", "/gambles/claim", "0xa", "", http.StatusConflict, "InvalidState"},
		{"unknown gamble", "GET", "/gambles/7", "", "", http.StatusNotFound, "GambleNotFound"},
		{"bad gamble id", "GET", "/gambles/x", "", "", http.StatusBadRequest, "BadRequest"},
		{"start before window closes", "POST", "/event/start", owner, "", http.StatusConflict, "TooEarly"},
		{"settle while betting", "POST", "/settlement/start", owner, `{"house_share":"0"}`, http.StatusConflict, "InvalidState"},
		{"second roster", "POST", "/participants", owner, `{"participants":[{"name":"X","base_value":"1"}]}`, http.StatusConflict, "InvalidState"},
		{"bad duration", "POST", "/event", owner, `{"name":"E","betting_duration":"soon","settling_duration":"1m"}`, http.StatusBadRequest, "BadRequest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.do(t, tt.method, tt.path, tt.identity, tt.body)
			if res.code != tt.code {
				t.Fatalf("status %d, want %d (%s)", res.code, tt.code, res.raw)
			}
			if res.body["ok"] != false || res.body["error"] != tt.kind {
				t.Errorf("body = %v, want error %s", res.body, tt.kind)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Errorf("request id = %q, want abc", got)
	}

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id")
	}
}
