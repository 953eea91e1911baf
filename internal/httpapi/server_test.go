package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/otbreview/otbrecon/internal/domain"
	"github.com/otbreview/otbrecon/internal/tagmap"
	"github.com/otbreview/otbrecon/pkg/recondto"
)

type memStream struct {
	frames []domain.Frame
	pos    int
}

func (m *memStream) Next(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.pos >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.pos]
	m.pos++
	return &f, nil
}

func (m *memStream) Close() error { return nil }

func testTable(t *testing.T) *tagmap.Table {
	t.Helper()
	tbl, err := tagmap.Load("")
	if err != nil {
		t.Fatalf("tagmap.Load: %v", err)
	}
	return tbl
}

func homeCells(t *testing.T) map[nchess.Square]int {
	t.Helper()
	tbl := testTable(t)
	cells := make(map[nchess.Square]int, tagmap.MaxTag)
	for tag := tagmap.MinTag; tag <= tagmap.MaxTag; tag++ {
		e, _ := tbl.Lookup(tag)
		cells[e.Home] = tag
	}
	return cells
}

func moveCell(t *testing.T, cells map[nchess.Square]int, from, to string) map[nchess.Square]int {
	t.Helper()
	out := make(map[nchess.Square]int, len(cells))
	for k, v := range cells {
		out[k] = v
	}
	f, err := tagmap.ParseSquare(from)
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	dst, err := tagmap.ParseSquare(to)
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	tag, ok := out[f]
	if !ok {
		t.Fatalf("no tag on %s", from)
	}
	delete(out, f)
	out[dst] = tag
	return out
}

func frameOf(idx int, cells map[nchess.Square]int) domain.Frame {
	dets := make([]domain.Detection, 0, len(cells))
	for sq, tag := range cells {
		dets = append(dets, domain.Detection{Tag: tag, Square: sq, Area: 900, Conf: 0.99})
	}
	return domain.Frame{Index: idx, Timestamp: time.Now(), Detections: dets}
}

// newTestServer serves one canned recording: e4, then a knight glitch
// that needs manual review.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cells := homeCells(t)
	afterE4 := moveCell(t, cells, "e2", "e4")
	glitched := moveCell(t, afterE4, "g8", "f5")

	srv, err := NewServer(Options{
		Tags:                testTable(t),
		ConfidenceThreshold: 0.6,
		OpenSource: func(source string) (FrameStream, error) {
			return &memStream{frames: []domain.Frame{
				frameOf(0, cells),
				frameOf(1, afterE4),
				frameOf(2, glitched),
			}}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func startRun(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(recondto.StartRunRequest{Source: "test.jsonl"})
	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out recondto.StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.RunID
}

func getRecord(t *testing.T, ts *httptest.Server, runID string) recondto.RecordResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/runs/" + runID + "/record")
	if err != nil {
		t.Fatalf("GET record: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("record status = %d", resp.StatusCode)
	}
	var out recondto.RecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return out
}

func waitForState(t *testing.T, ts *httptest.Server, runID, want string) recondto.RecordResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := getRecord(t, ts, runID)
		if rec.State == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached state %s", runID, want)
	return recondto.RecordResponse{}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	runID := startRun(t, ts)

	rec := waitForState(t, ts, runID, StateNeedsReview)
	if len(rec.Moves) != 1 || rec.Moves[0].SAN != "e4" {
		t.Fatalf("moves = %+v", rec.Moves)
	}
	if len(rec.Pending) != 1 || rec.Pending[0].Frame != 2 {
		t.Fatalf("pending = %+v", rec.Pending)
	}

	// Illegal resolution leaves the correction pending.
	body, _ := json.Marshal(recondto.ResolveRequest{UCI: "g8f5"})
	resp, err := http.Post(ts.URL+"/api/runs/"+runID+"/corrections/2/resolve", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("illegal resolve status = %d", resp.StatusCode)
	}

	// The knight was actually on f6.
	body, _ = json.Marshal(recondto.ResolveRequest{UCI: "g8f6"})
	resp, err = http.Post(ts.URL+"/api/runs/"+runID+"/corrections/2/resolve", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var resolved recondto.RecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&resolved); err != nil {
		t.Fatalf("decode resolve response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	if resolved.State != StateDone {
		t.Fatalf("state = %s, want %s", resolved.State, StateDone)
	}
	if len(resolved.Moves) != 2 || resolved.Moves[1].SAN != "Nf6" || !resolved.Moves[1].Resolved {
		t.Fatalf("moves = %+v", resolved.Moves)
	}
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)
	runID := startRun(t, ts)

	waitForState(t, ts, runID, StateNeedsReview)

	resp, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	defer resp.Body.Close()
	var runs []recondto.RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != runID || runs[0].Pending != 1 {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestUnknownRunIs404(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/runs/nope/record")
	if err != nil {
		t.Fatalf("GET record: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStartRunRequiresSource(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(recondto.StartRunRequest{})
	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
