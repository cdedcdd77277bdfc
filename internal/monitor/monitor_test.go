package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pb-watcher/internal/extractor"
	"pb-watcher/internal/fetch"
	"pb-watcher/internal/models"

	"go.uber.org/zap"
)

const (
	inStockHTML  = `<html><head><title>Figure A | Store</title></head><script>orderstock_list = {"id":"○"}; ordermax_list = {"id":3};</script></html>`
	outStockHTML = `<html><head><title>Figure A | Store</title></head><script>orderstock_list = {"id":"×"};</script></html>`
)

// --- Mocks ---

type mockSource struct {
	owners     []string
	channels   map[string]string
	items      map[string][]models.WatchedItem
	ownersErr  error
	channelErr map[string]error
}

func (m *mockSource) ListOwners() ([]string, error) {
	if m.ownersErr != nil {
		return nil, m.ownersErr
	}
	return m.owners, nil
}

func (m *mockSource) ListItems(ownerID string) ([]models.WatchedItem, error) {
	return m.items[ownerID], nil
}

func (m *mockSource) ResolveChannel(ownerID string) (string, bool, error) {
	if err, ok := m.channelErr[ownerID]; ok {
		return "", false, err
	}
	handle, ok := m.channels[ownerID]
	return handle, ok, nil
}

type commitRecord struct {
	item models.WatchedItem
	snap models.ProductSnapshot
}

type mockWriter struct {
	commits   []commitRecord
	touched   []models.WatchedItem
	commitErr error
}

func (m *mockWriter) CommitTransition(item models.WatchedItem, snap models.ProductSnapshot) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits = append(m.commits, commitRecord{item: item, snap: snap})
	return nil
}

func (m *mockWriter) TouchChecked(item models.WatchedItem) error {
	m.touched = append(m.touched, item)
	return nil
}

type mockFetcher struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	m.calls = append(m.calls, url)
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	body, ok := m.bodies[url]
	if !ok {
		return nil, fmt.Errorf("no body for %s", url)
	}
	return &fetch.Result{StatusCode: 200, Body: []byte(body)}, nil
}

type sentMsg struct {
	handle string
	text   string
}

type mockNotifier struct {
	sent []sentMsg
	err  error
}

func (m *mockNotifier) Notify(handle, text string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMsg{handle: handle, text: text})
	return nil
}

type mockEnricher struct {
	comment string
	err     error
	calls   int
}

func (m *mockEnricher) Analyze(ctx context.Context, snap models.ProductSnapshot) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.comment, nil
}

// --- Helpers ---

func item(owner, id, url string, available bool) models.WatchedItem {
	return models.WatchedItem{
		OwnerID:            owner,
		ItemID:             id,
		TargetURL:          url,
		DisplayTitle:       "Figure A",
		LastKnownAvailable: available,
	}
}

func newTestMonitor(src *mockSource, w *mockWriter, f *mockFetcher, n *mockNotifier, e Enricher) *Monitor {
	m := New(src, w, f, extractor.Extract, n, e, Config{}, zap.NewNop())
	m.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	return m
}

// --- Tests ---

func TestSweepRestockTransition(t *testing.T) {
	// Scenario A: last known unavailable, page now carries the available
	// glyph: one notification and one full commit.
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", false)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if stats.Transitioned != 1 || stats.Checked != 1 {
		t.Fatalf("stats = %+v, want 1 checked, 1 transitioned", stats)
	}
	if len(n.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(n.sent))
	}
	if n.sent[0].handle != "100" {
		t.Errorf("notified handle %q, want %q", n.sent[0].handle, "100")
	}
	if !strings.Contains(n.sent[0].text, "Figure A") || !strings.Contains(n.sent[0].text, "http://x/1") {
		t.Errorf("notification text missing title or url: %q", n.sent[0].text)
	}
	if len(w.commits) != 1 || !w.commits[0].snap.Available {
		t.Fatalf("commits = %+v, want one commit with available=true", w.commits)
	}
	if len(w.touched) != 0 {
		t.Errorf("touched = %d, want 0 on a transition", len(w.touched))
	}
}

func TestSweepSoldOutTransition(t *testing.T) {
	// Scenario B: available -> unavailable also notifies.
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", true)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": outStockHTML}}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if stats.Transitioned != 1 {
		t.Fatalf("stats = %+v, want 1 transitioned", stats)
	}
	if len(n.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(n.sent))
	}
	if len(w.commits) != 1 || w.commits[0].snap.Available {
		t.Fatalf("commits = %+v, want one commit with available=false", w.commits)
	}
}

func TestSweepUnchangedRefreshesTimestampOnly(t *testing.T) {
	// Scenario C: same glyph as last time: no notification, timestamp only.
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", true)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if stats.Unchanged != 1 {
		t.Fatalf("stats = %+v, want 1 unchanged", stats)
	}
	if len(n.sent) != 0 {
		t.Fatalf("got %d notifications, want 0", len(n.sent))
	}
	if len(w.commits) != 0 {
		t.Fatalf("commits = %d, want 0", len(w.commits))
	}
	if len(w.touched) != 1 {
		t.Fatalf("touched = %d, want 1", len(w.touched))
	}
}

func TestSweepFetchFailureLeavesStateAlone(t *testing.T) {
	// Scenario D: a timed-out fetch never writes and never notifies.
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", false)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{errs: map[string]error{"http://x/1": errors.New("context deadline exceeded")}}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
	if len(n.sent) != 0 || len(w.commits) != 0 || len(w.touched) != 0 {
		t.Fatalf("fetch failure caused writes or notifications: sent=%d commits=%d touched=%d",
			len(n.sent), len(w.commits), len(w.touched))
	}
}

func TestSweepSkipsOwnerWithoutChannel(t *testing.T) {
	// Scenario E: no channel handle means the owner's items are not even
	// fetched, and it is not an error.
	src := &mockSource{
		owners:   []string{"alice", "bob"},
		channels: map[string]string{"bob": "200"},
		items: map[string][]models.WatchedItem{
			"alice": {item("alice", "i1", "http://x/1", false)},
			"bob":   {item("bob", "i2", "http://x/2", false)},
		},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/2": inStockHTML}}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 skipped owner", stats)
	}
	if len(f.calls) != 1 || f.calls[0] != "http://x/2" {
		t.Fatalf("fetch calls = %v, want only bob's item", f.calls)
	}
	if len(n.sent) != 1 || n.sent[0].handle != "200" {
		t.Fatalf("sent = %+v, want one notification to bob", n.sent)
	}
}

func TestSweepIsolatesItemFailures(t *testing.T) {
	// One failing URL in the middle must not abort the rest of the sweep.
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items: map[string][]models.WatchedItem{"alice": {
			item("alice", "i1", "http://x/1", false),
			item("alice", "i2", "http://x/2", false),
			item("alice", "i3", "http://x/3", false),
		}},
	}
	w := &mockWriter{}
	f := &mockFetcher{
		bodies: map[string]string{
			"http://x/1": inStockHTML,
			"http://x/3": inStockHTML,
		},
		errs: map[string]error{"http://x/2": errors.New("connection reset")},
	}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if stats.Checked != 3 {
		t.Fatalf("checked = %d, want all 3 items processed", stats.Checked)
	}
	if stats.Failed != 1 || stats.Transitioned != 2 {
		t.Fatalf("stats = %+v, want 1 failed, 2 transitioned", stats)
	}
	if len(n.sent) != 2 {
		t.Fatalf("got %d notifications, want 2", len(n.sent))
	}
}

func TestSweepDeliveryFailureStillCommits(t *testing.T) {
	// The canonical state change outranks notification delivery.
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", false)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{err: errors.New("telegram unavailable")}

	newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	if len(w.commits) != 1 {
		t.Fatalf("commits = %d, want 1 despite delivery failure", len(w.commits))
	}
}

func TestSweepCommitFailureIsIsolated(t *testing.T) {
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items: map[string][]models.WatchedItem{"alice": {
			item("alice", "i1", "http://x/1", false),
			item("alice", "i2", "http://x/2", true),
		}},
	}
	w := &mockWriter{commitErr: errors.New("disk full")}
	f := &mockFetcher{bodies: map[string]string{
		"http://x/1": inStockHTML,
		"http://x/2": inStockHTML,
	}}
	n := &mockNotifier{}

	stats := newTestMonitor(src, w, f, n, nil).Sweep(context.Background())

	// Both items are still processed; the store failure never escalates.
	if stats.Checked != 2 {
		t.Fatalf("checked = %d, want 2", stats.Checked)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent = %d, want 1 (i1 transitioned)", len(n.sent))
	}
}

func TestFlappingNotifiesTwice(t *testing.T) {
	watched := item("alice", "i1", "http://x/1", false)
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {watched}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{}
	m := newTestMonitor(src, w, f, n, nil)

	m.Sweep(context.Background())

	// Fold the committed state back in, the way the store would.
	watched.LastKnownAvailable = w.commits[0].snap.Available
	src.items["alice"] = []models.WatchedItem{watched}
	f.bodies["http://x/1"] = outStockHTML

	m.Sweep(context.Background())

	if len(n.sent) != 2 {
		t.Fatalf("got %d notifications across the flap, want 2", len(n.sent))
	}
}

func TestRepeatedUnchangedSweepsNeverNotify(t *testing.T) {
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", true)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{}
	m := newTestMonitor(src, w, f, n, nil)

	for i := 0; i < 5; i++ {
		m.Sweep(context.Background())
	}

	if len(n.sent) != 0 {
		t.Fatalf("got %d notifications over 5 unchanged sweeps, want 0", len(n.sent))
	}
	if len(w.touched) != 5 {
		t.Fatalf("touched = %d, want 5", len(w.touched))
	}
}

func TestEnrichmentCommentIsAppended(t *testing.T) {
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", false)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{}
	e := &mockEnricher{comment: "Resale demand is high."}

	newTestMonitor(src, w, f, n, e).Sweep(context.Background())

	if len(n.sent) != 1 || !strings.Contains(n.sent[0].text, "Resale demand is high.") {
		t.Fatalf("notification missing enrichment comment: %+v", n.sent)
	}
}

func TestEnrichmentFailureFallsBackToRawSnapshot(t *testing.T) {
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", false)}},
	}
	w := &mockWriter{}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}
	n := &mockNotifier{}
	e := &mockEnricher{err: errors.New("agent offline")}

	stats := newTestMonitor(src, w, f, n, e).Sweep(context.Background())

	if stats.Transitioned != 1 || len(n.sent) != 1 || len(w.commits) != 1 {
		t.Fatalf("enrichment failure affected the pipeline: stats=%+v sent=%d commits=%d",
			stats, len(n.sent), len(w.commits))
	}
	if e.calls != 1 {
		t.Fatalf("enricher calls = %d, want 1", e.calls)
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items:    map[string][]models.WatchedItem{"alice": {item("alice", "i1", "http://x/1", false)}},
	}
	f := &mockFetcher{bodies: map[string]string{"http://x/1": inStockHTML}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := newTestMonitor(src, &mockWriter{}, f, &mockNotifier{}, nil).Sweep(ctx)

	if stats.Checked != 0 {
		t.Fatalf("checked = %d after cancellation, want 0", stats.Checked)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &mockSource{}
	m := newTestMonitor(src, &mockWriter{}, &mockFetcher{}, &mockNotifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestSweepPacesBetweenItems(t *testing.T) {
	src := &mockSource{
		owners:   []string{"alice"},
		channels: map[string]string{"alice": "100"},
		items: map[string][]models.WatchedItem{"alice": {
			item("alice", "i1", "http://x/1", true),
			item("alice", "i2", "http://x/2", true),
		}},
	}
	f := &mockFetcher{bodies: map[string]string{
		"http://x/1": inStockHTML,
		"http://x/2": inStockHTML,
	}}

	m := New(src, &mockWriter{}, f, extractor.Extract, &mockNotifier{}, nil, Config{
		ItemDelayMin: 10 * time.Second,
		ItemDelayMax: 20 * time.Second,
	}, zap.NewNop())

	var delays []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	m.Sweep(context.Background())

	if len(delays) != 2 {
		t.Fatalf("got %d pacing delays, want one per item", len(delays))
	}
	for _, d := range delays {
		if d < 10*time.Second || d >= 20*time.Second {
			t.Errorf("pacing delay %v outside configured 10-20s range", d)
		}
	}
}
