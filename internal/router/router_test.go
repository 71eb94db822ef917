package router_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"patient-access/internal/platform/clock"
	"patient-access/internal/router"

	"github.com/prometheus/client_golang/prometheus"
)

func newServer(t *testing.T, fake *clock.Fake, policy router.Policy) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(router.NewRouter(router.Options{
		AuthVerifier: nil,
		Registry:     prometheus.NewRegistry(),
		Clock:        fake,
		Policy:       policy,
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTP_EndToEnd_ApproveCheckRevoke(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	ts := newServer(t, fake, router.Policy{AllowSelfAccess: true})

	requesterID := "doctor-1"
	patientID := "patient-1"

	// 1) Requester asks for lab results
	reqID := createRequest(t, ts.URL, requesterID, patientID, "labs", 3600)

	// 2) Same tuple again conflicts
	{
		st, body := doReq(t, ts.URL, "POST", "/requests", requesterID, map[string]any{
			"patient_id": patientID, "data_type": "labs", "ttl_seconds": 60,
		})
		if st != http.StatusConflict {
			t.Fatalf("expected 409 duplicate, got %d body=%s", st, string(body))
		}
		if code := errorCode(t, body); code != "duplicate_pending" {
			t.Fatalf("expected duplicate_pending, got %q", code)
		}
	}

	// 3) Pending request does not authorize
	if res := authorization(t, ts.URL, requesterID, reqID); res != "pending" {
		t.Fatalf("expected pending, got %q", res)
	}

	// 4) Requester cannot approve their own request
	{
		st, _ := doReq(t, ts.URL, "POST", "/requests/"+reqID+"/approve", requesterID, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 approve by requester, got %d", st)
		}
	}

	// 5) Patient approves
	{
		st, body := doReq(t, ts.URL, "POST", "/requests/"+reqID+"/approve", patientID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 approve, got %d body=%s", st, string(body))
		}
	}
	if res := authorization(t, ts.URL, requesterID, reqID); res != "authorized" {
		t.Fatalf("expected authorized, got %q", res)
	}

	// 6) Deciding twice conflicts
	{
		st, body := doReq(t, ts.URL, "POST", "/requests/"+reqID+"/deny", patientID, nil)
		if st != http.StatusConflict || errorCode(t, body) != "already_processed" {
			t.Fatalf("expected 409 already_processed, got %d body=%s", st, string(body))
		}
	}

	// 7) Patient revokes
	{
		st, body := doReq(t, ts.URL, "POST", "/requests/"+reqID+"/revoke", patientID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 revoke, got %d body=%s", st, string(body))
		}
	}
	if res := authorization(t, ts.URL, requesterID, reqID); res != "revoked" {
		t.Fatalf("expected revoked, got %q", res)
	}

	// 8) Three transitions, three chained events
	{
		st, body := doReq(t, ts.URL, "GET", "/requests/"+reqID+"/audit", patientID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 audit, got %d body=%s", st, string(body))
		}
		var events []map[string]any
		if err := json.Unmarshal(body, &events); err != nil {
			t.Fatalf("unmarshal audit: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		if events[1]["prev_hash"] != events[0]["hash"] {
			t.Fatalf("expected chained hashes")
		}
	}
	{
		st, body := doReq(t, ts.URL, "GET", "/requests/"+reqID+"/audit/verify", patientID, nil)
		if st != http.StatusOK || !strings.Contains(string(body), `"valid":true`) {
			t.Fatalf("expected valid chain, got %d body=%s", st, string(body))
		}
	}

	// 9) Outsiders see nothing
	{
		st, _ := doReq(t, ts.URL, "GET", "/requests/"+reqID, "someone-else", nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 for outsider, got %d", st)
		}
	}
}

func TestHTTP_DecideAfterExpiry(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	ts := newServer(t, fake, router.Policy{})

	reqID := createRequest(t, ts.URL, "R1", "P1", "imaging", 60)

	// exactly at expiresAt the request is still live
	fake.Advance(60 * time.Second)
	if res := authorization(t, ts.URL, "R1", reqID); res != "pending" {
		t.Fatalf("expected pending at boundary, got %q", res)
	}

	fake.Advance(time.Second)
	st, body := doReq(t, ts.URL, "POST", "/requests/"+reqID+"/approve", "P1", nil)
	if st != http.StatusGone || errorCode(t, body) != "expired" {
		t.Fatalf("expected 410 expired, got %d body=%s", st, string(body))
	}
	if res := authorization(t, ts.URL, "R1", reqID); res != "expired" {
		t.Fatalf("expected expired, got %q", res)
	}
}

func TestHTTP_ListRequests(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	ts := newServer(t, fake, router.Policy{})

	first := createRequest(t, ts.URL, "R1", "P1", "labs", 600)
	fake.Advance(time.Second)
	second := createRequest(t, ts.URL, "R2", "P1", "notes", 600)
	createRequest(t, ts.URL, "R1", "P2", "labs", 600)

	// patient defaults to the caller
	st, body := doReq(t, ts.URL, "GET", "/requests", "P1", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 list, got %d body=%s", st, string(body))
	}
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(items) != 2 || items[0]["id"] != second || items[1]["id"] != first {
		t.Fatalf("expected newest first, got %s", string(body))
	}

	st, _ = doReq(t, ts.URL, "GET", "/requests?patient_id=P1", "R1", nil)
	if st != http.StatusForbidden {
		t.Fatalf("expected 403 listing another patient, got %d", st)
	}

	st, body = doReq(t, ts.URL, "GET", "/requests?requester_id=R1&status=pending", "R1", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 list by requester, got %d body=%s", st, string(body))
	}
	items = nil
	_ = json.Unmarshal(body, &items)
	if len(items) != 2 {
		t.Fatalf("expected 2 requests for R1, got %d", len(items))
	}

	st, _ = doReq(t, ts.URL, "GET", "/requests?status=bogus", "P1", nil)
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", st)
	}
}

func TestHTTP_CreateRequest_Validation(t *testing.T) {
	ts := newServer(t, clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)), router.Policy{})

	st, _ := doReq(t, ts.URL, "POST", "/requests", "", map[string]any{
		"patient_id": "P1", "data_type": "labs", "ttl_seconds": 60,
	})
	if st != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", st)
	}

	for _, payload := range []map[string]any{
		{"data_type": "labs", "ttl_seconds": 60},
		{"patient_id": "P1", "ttl_seconds": 60},
		{"patient_id": "P1", "data_type": "labs", "ttl_seconds": 0},
		{"patient_id": "P1", "data_type": "labs", "ttl_seconds": -5},
	} {
		st, body := doReq(t, ts.URL, "POST", "/requests", "R1", payload)
		if st != http.StatusBadRequest || errorCode(t, body) != "invalid_input" {
			t.Fatalf("expected 400 for %v, got %d body=%s", payload, st, string(body))
		}
	}
}

func TestHTTP_CreateRequest_RejectsOutOfRangeTTL(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	ts := newServer(t, fake, router.Policy{MaxRequestTTL: 720 * time.Hour})

	for _, ttl := range []int64{
		18446744074, // overflows time.Duration when converted to nanoseconds
		9223372037,  // first value past the largest Duration in seconds
		9223372036,  // fits a Duration, exceeds the max request ttl
		2592001,     // 720h + 1s
	} {
		st, body := doReq(t, ts.URL, "POST", "/requests", "R1", map[string]any{
			"patient_id": "P1", "data_type": "labs", "ttl_seconds": ttl,
		})
		if st != http.StatusBadRequest || errorCode(t, body) != "invalid_input" {
			t.Fatalf("expected 400 invalid_input for ttl_seconds=%d, got %d body=%s", ttl, st, string(body))
		}
	}

	st, body := doReq(t, ts.URL, "GET", "/requests", "P1", nil)
	if st != http.StatusOK || string(bytes.TrimSpace(body)) != "[]" {
		t.Fatalf("expected no stored requests, got %d body=%s", st, string(body))
	}

	createRequest(t, ts.URL, "R1", "P1", "labs", 2592000)
}

func TestHTTP_CreateRateLimit(t *testing.T) {
	ts := newServer(t, clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)), router.Policy{
		CreateRate:  0.001,
		CreateBurst: 1,
	})

	createRequest(t, ts.URL, "R1", "P1", "labs", 60)
	st, _ := doReq(t, ts.URL, "POST", "/requests", "R1", map[string]any{
		"patient_id": "P1", "data_type": "notes", "ttl_seconds": 60,
	})
	if st != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", st)
	}
}

func TestHTTP_AuditEvents_AdminOnly(t *testing.T) {
	ts := newServer(t, clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)), router.Policy{
		Admins: []string{"auditor"},
	})
	createRequest(t, ts.URL, "R1", "P1", "labs", 60)

	st, _ := doReq(t, ts.URL, "GET", "/audit/events", "P1", nil)
	if st != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", st)
	}

	st, body := doReq(t, ts.URL, "GET", "/audit/events?from=2026-05-04T00:00:00Z", "auditor", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d body=%s", st, string(body))
	}
	var events []map[string]any
	_ = json.Unmarshal(body, &events)
	if len(events) != 1 || events[0]["type"] != "CREATED" {
		t.Fatalf("expected one CREATED event, got %s", string(body))
	}

	st, _ = doReq(t, ts.URL, "GET", "/audit/events?from=yesterday", "auditor", nil)
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", st)
	}
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	ts := newServer(t, clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)), router.Policy{})
	createRequest(t, ts.URL, "R1", "P1", "labs", 60)

	st, body := doReq(t, ts.URL, "GET", "/health", "", nil)
	if st != http.StatusOK || string(body) != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", st, string(body))
	}

	st, body = doReq(t, ts.URL, "GET", "/metrics", "", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", st)
	}
	if !strings.Contains(string(body), "patient_access_transitions_total") {
		t.Fatalf("expected transition counter in metrics output")
	}
}

func createRequest(t *testing.T, baseURL, requesterID, patientID, dataType string, ttlSeconds int) string {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/requests", requesterID, map[string]any{
		"patient_id":  patientID,
		"data_type":   dataType,
		"purpose":     "treatment",
		"ttl_seconds": ttlSeconds,
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create request, got %d body=%s", st, string(body))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal create: %v", err)
	}
	if out.ID == "" {
		t.Fatalf("expected id in create response")
	}
	return out.ID
}

func authorization(t *testing.T, baseURL, userID, reqID string) string {
	t.Helper()

	st, body := doReq(t, baseURL, "GET", "/requests/"+reqID+"/authorization", userID, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 authorization, got %d body=%s", st, string(body))
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal authorization: %v", err)
	}
	return out.Result
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var out struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal error body: %v (%s)", err, string(body))
	}
	return out.Error
}

func doReq(t *testing.T, baseURL, method, path, debugUserID string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if debugUserID != "" {
		req.Header.Set("X-Debug-User-ID", debugUserID)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, respBody
}
