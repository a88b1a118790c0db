package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/model"
)

func postAnalysis(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/analyses", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/analyses: %v", err)
	}
	return resp
}

func TestStartAnalysisCompletes(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postAnalysis(t, ts.URL, analysisBody(10))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run id is empty")
	}
	if run.Status != model.StatusVenueDecided {
		t.Errorf("status = %q, want %q", run.Status, model.StatusVenueDecided)
	}
	if run.Venue != model.VenueLocal || run.NodeCount != 10 {
		t.Errorf("venue/nodes = %s/%d, want local/10", run.Venue, run.NodeCount)
	}

	srv.orch.Wait()

	getResp, err := http.Get(ts.URL + "/v1/analyses/" + run.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()

	var got model.Run
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed (error %q)", got.Status, got.Error)
	}
	if got.Result == nil || got.Result.SolverInfo.IsCloud || got.Result.SolverInfo.NodeCount != 10 {
		t.Errorf("result = %+v, want local result for 10 nodes", got.Result)
	}
}

func TestStartAnalysisInvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postAnalysis(t, ts.URL, "{not json")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartAnalysisInvalidInput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"no nodes", `{"nodes":[],"members":[]}`},
		{"dangling member", `{"nodes":[{"id":"a"}],"members":[{"id":"m","startNodeId":"a","endNodeId":"b"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postAnalysis(t, ts.URL, tt.body)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if !strings.Contains(body["error"], "invalid analysis input") {
				t.Errorf("error = %q", body["error"])
			}
		})
	}
}

func TestStartAnalysisBusyAndCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	srv := newTestServerWith(t, gatedFactory(started, release), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := postAnalysis(t, ts.URL, analysisBody(5))
	var run model.Run
	_ = json.NewDecoder(first.Body).Decode(&run)
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.StatusCode)
	}
	<-started

	second := postAnalysis(t, ts.URL, analysisBody(5))
	second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("second status = %d, want 409", second.StatusCode)
	}

	activeResp, err := http.Get(ts.URL + "/v1/analyses/active")
	if err != nil {
		t.Fatalf("GET active: %v", err)
	}
	var active activeResponse
	_ = json.NewDecoder(activeResp.Body).Decode(&active)
	activeResp.Body.Close()
	if !active.Active || active.RunID != run.ID {
		t.Errorf("active = %+v, want run %s", active, run.ID)
	}

	cancelResp, err := http.Post(ts.URL+"/v1/analyses/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	var cancelled cancelResponse
	_ = json.NewDecoder(cancelResp.Body).Decode(&cancelled)
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusAccepted || !cancelled.Cancelled || cancelled.RunID != run.ID {
		t.Errorf("cancel = %d %+v, want 202 for run %s", cancelResp.StatusCode, cancelled, run.ID)
	}

	srv.orch.Wait()

	got, err := srv.store.GetRun(t.Context(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}

func TestCancelWhenIdle(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/analyses/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	defer resp.Body.Close()

	var body cancelResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body.Cancelled {
		t.Errorf("cancel = %d %+v, want 200 not cancelled", resp.StatusCode, body)
	}
}

func TestStartAnalysisRateLimited(t *testing.T) {
	srv := newTestServerWith(t, kernel.Null(), rate.NewLimiter(rate.Every(time.Hour), 1))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := postAnalysis(t, ts.URL, analysisBody(3))
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.StatusCode)
	}
	srv.orch.Wait()

	second := postAnalysis(t, ts.URL, analysisBody(3))
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListAnalyses(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for range 3 {
		resp := postAnalysis(t, ts.URL, analysisBody(4))
		resp.Body.Close()
		srv.orch.Wait()
	}

	resp, err := http.Get(ts.URL + "/v1/analyses?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listAnalysesResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}
	if len(list.Analyses) != 2 || list.Limit != 2 {
		t.Errorf("got %d analyses with limit %d, want 2/2", len(list.Analyses), list.Limit)
	}
	for _, r := range list.Analyses {
		if r.Result != nil {
			t.Error("listed analyses should not carry results")
		}
	}
}

func TestListAnalysesEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["analyses"]) != "[]" {
		t.Errorf("analyses = %s, want []", raw["analyses"])
	}
}
