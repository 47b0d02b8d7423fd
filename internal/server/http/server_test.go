package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rzbill/deferd/internal/config"
	"github.com/rzbill/deferd/internal/runtime"
	"github.com/rzbill/deferd/pkg/account"
	logpkg "github.com/rzbill/deferd/pkg/log"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.MaxTasksPerHeight = 4
	rt, err := runtime.Open(cfg, logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)))
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	ts := httptest.NewServer(New(rt).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func addr(t *testing.T, fill string) string {
	t.Helper()
	id, err := account.Parse(strings.Repeat(fill, account.Size))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return id.String()
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	resp := getJSON(t, ts.URL+"/v1/healthz", &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestScheduleTransferEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	from, to := addr(t, "aa"), addr(t, "bb")

	resp := postJSON(t, ts.URL+"/v1/balances/credit", map[string]any{"account": from, "amount": 100})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("credit = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/tasks/schedule", map[string]any{
		"submitter": from,
		"nonce":     0,
		"dueHeight": 1,
		"method":    "transfer",
		"params":    map[string]any{"asset": "native", "to": to, "amount": 30},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("schedule = %d", resp.StatusCode)
	}

	// replay with the same nonce conflicts
	resp = postJSON(t, ts.URL+"/v1/tasks/schedule", map[string]any{
		"submitter": from,
		"nonce":     0,
		"dueHeight": 1,
		"method":    "transfer",
		"params":    map[string]any{"asset": "native", "to": to, "amount": 30},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay = %d, want 409", resp.StatusCode)
	}

	var nonceBody map[string]uint64
	getJSON(t, fmt.Sprintf("%s/v1/nonce?account=%s", ts.URL, from), &nonceBody)
	if nonceBody["nonce"] != 1 {
		t.Fatalf("nonce = %d, want 1", nonceBody["nonce"])
	}

	resp = postJSON(t, ts.URL+"/v1/height/advance", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance = %d", resp.StatusCode)
	}

	var balBody map[string]any
	getJSON(t, fmt.Sprintf("%s/v1/balances?account=%s", ts.URL, to), &balBody)
	if balBody["amount"].(float64) != 30 {
		t.Fatalf("balance = %v, want 30", balBody["amount"])
	}

	var evBody struct {
		Events []map[string]any `json:"events"`
	}
	getJSON(t, ts.URL+`/v1/events?filter=kind%20==%20%22TaskExecutedOk%22`, &evBody)
	if len(evBody.Events) != 1 {
		t.Fatalf("events = %+v", evBody.Events)
	}
}

func TestScheduleMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/tasks/schedule", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsBadFilter(t *testing.T) {
	ts := newTestServer(t)
	resp := getJSON(t, ts.URL+"/v1/events?filter=kind%20===", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTrustFundLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	grantor, ben := addr(t, "aa"), addr(t, "bb")

	resp := postJSON(t, ts.URL+"/v1/balances/credit", map[string]any{"account": grantor, "amount": 50})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("credit = %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/v1/trustfund/beneficiaries", map[string]any{
		"grantor":       grantor,
		"beneficiaries": []map[string]any{{"address": ben, "weight": 1}},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("beneficiaries = %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/v1/trustfund/switch", map[string]any{
		"grantor":   grantor,
		"condition": map[string]any{"kind": "height", "height": 2},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("switch = %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/v1/trustfund/deposit", map[string]any{"grantor": grantor, "amount": 50})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deposit = %d", resp.StatusCode)
	}

	// at or below the trip height the withdrawal conflicts
	resp = postJSON(t, ts.URL+"/v1/trustfund/withdraw", map[string]any{"caller": ben, "grantor": grantor})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("early withdraw = %d, want 409", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/v1/height/advance", nil)
	postJSON(t, ts.URL+"/v1/height/advance", nil)
	resp = postJSON(t, ts.URL+"/v1/trustfund/withdraw", map[string]any{"caller": ben, "grantor": grantor})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("withdraw at trip height = %d, want 409", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/v1/height/advance", nil)
	resp = postJSON(t, ts.URL+"/v1/trustfund/withdraw", map[string]any{"caller": ben, "grantor": grantor})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("withdraw = %d", resp.StatusCode)
	}
	var balBody map[string]any
	getJSON(t, fmt.Sprintf("%s/v1/balances?account=%s", ts.URL, ben), &balBody)
	if balBody["amount"].(float64) != 50 {
		t.Fatalf("beneficiary balance = %v, want 50", balBody["amount"])
	}

	var status map[string]any
	getJSON(t, fmt.Sprintf("%s/v1/trustfund/status?grantor=%s", ts.URL, grantor), &status)
	if status["condition"].(map[string]any)["kind"] != "height" {
		t.Fatalf("status = %+v", status)
	}
}
