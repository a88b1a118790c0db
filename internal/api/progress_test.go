package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/beamlab/internal/model"
)

func TestStreamProgressNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses/nonexistent/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamProgressFinishedRun(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	run := &model.Run{
		ID:        model.NewID(),
		Status:    model.StatusVenueDecided,
		Venue:     model.VenueLocal,
		CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := srv.store.UpdateRunStatus(ctx, run.ID, model.StatusFailed); err != nil {
		t.Fatalf("venue_decided→failed: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses/" + run.ID + "/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	events := readSSE(t, resp)
	if len(events) != 1 || events[0].name != "done" || events[0].data != model.StatusFailed {
		t.Errorf("events = %+v, want a single done/failed event", events)
	}
}

func TestStreamProgressLiveRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := newTestServerWith(t, gatedFactory(started, release), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	post := postAnalysis(t, ts.URL, analysisBody(5))
	var run model.Run
	_ = json.NewDecoder(post.Body).Decode(&run)
	post.Body.Close()
	<-started

	resp, err := http.Get(ts.URL + "/v1/analyses/" + run.ID + "/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// Headers are flushed after subscribing, so releasing now cannot race the
	// subscription.
	close(release)

	events := readSSE(t, resp)
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.name != "done" || last.data != model.StatusCompleted {
		t.Errorf("last event = %+v, want done/completed", last)
	}

	var values []int
	for _, ev := range events[:len(events)-1] {
		if ev.name != "progress" {
			t.Errorf("unexpected event %q", ev.name)
			continue
		}
		var p model.AnalysisProgress
		if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
			t.Fatalf("decode progress %q: %v", ev.data, err)
		}
		values = append(values, p.Progress)
	}
	if len(values) == 0 || values[len(values)-1] != 100 {
		t.Errorf("streamed progress = %v, want it to end at 100", values)
	}
}

func TestGetProgressHistory(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	post := postAnalysis(t, ts.URL, analysisBody(5))
	var run model.Run
	_ = json.NewDecoder(post.Body).Decode(&run)
	post.Body.Close()
	srv.orch.Wait()

	resp, err := http.Get(ts.URL + "/v1/analyses/" + run.ID + "/progress/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var hist progressHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.RunID != run.ID {
		t.Errorf("run_id = %q, want %q", hist.RunID, run.ID)
	}
	if len(hist.Events) == 0 {
		t.Fatal("no progress history")
	}
	for i, ev := range hist.Events {
		if ev.Seq != i {
			t.Errorf("events[%d].seq = %d", i, ev.Seq)
		}
		if i > 0 && ev.Progress < hist.Events[i-1].Progress {
			t.Errorf("progress decreased at %d", i)
		}
	}
	if last := hist.Events[len(hist.Events)-1]; last.Progress != 100 {
		t.Errorf("last progress = %d, want 100", last.Progress)
	}
}

func TestGetProgressHistoryNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses/nonexistent/progress/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

type sseEvent struct {
	name string
	data string
}

// readSSE reads events until the stream closes.
func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" || cur.data != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	return events
}
