package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func ptr(v float64) *float64 { return &v }

func TestRepository_EventsForUser(t *testing.T) {
	repo := NewRepository(openTestDatabase(t))
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	events := []GenerationEvent{
		{ObjectID: "a", UserID: "u1", Executor: "automatic1111", GenType: "text2img", Status: "queued", AvgTime: ptr(12.5), ReceivedAt: base},
		{ObjectID: "a", UserID: "u1", Executor: "automatic1111", GenType: "text2img", Status: "done", Content: "https://cdn/x.png", FileName: "x.png", Premium: true, ReceivedAt: base.Add(time.Second)},
		{ObjectID: "b", UserID: "u2", Executor: "kandinsky", GenType: "mix2img", Status: "queued", ReceivedAt: base},
	}
	for _, ev := range events {
		if _, err := repo.InsertGenerationEvent(ctx, ev); err != nil {
			t.Fatalf("InsertGenerationEvent() error = %v", err)
		}
	}

	got, err := repo.EventsForUser(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("EventsForUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Status != "done" || got[0].FileName != "x.png" || !got[0].Premium {
		t.Errorf("newest event = %+v", got[0])
	}
	if got[1].AvgTime == nil || *got[1].AvgTime != 12.5 {
		t.Errorf("avg_time not round-tripped: %+v", got[1].AvgTime)
	}
	if got[0].AvgTime != nil {
		t.Error("done event should have no avg_time")
	}
	if !got[0].ReceivedAt.Equal(base.Add(time.Second)) {
		t.Errorf("ReceivedAt = %v", got[0].ReceivedAt)
	}
}

func TestRepository_EstimateReports(t *testing.T) {
	repo := NewRepository(openTestDatabase(t))
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	insert := func(ev GenerationEvent) {
		t.Helper()
		if _, err := repo.InsertGenerationEvent(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	insert(GenerationEvent{ObjectID: "g1", UserID: "u1", Executor: "automatic1111", GenType: "text2img", Status: "queued", AvgTime: ptr(10), ReceivedAt: base})
	insert(GenerationEvent{ObjectID: "g1", UserID: "u1", Executor: "automatic1111", GenType: "text2img", Status: "generating", ReceivedAt: base.Add(2 * time.Second)})
	insert(GenerationEvent{ObjectID: "g1", UserID: "u1", Executor: "automatic1111", GenType: "text2img", Status: "done", ReceivedAt: base.Add(7500 * time.Millisecond)})
	// Never finished
	insert(GenerationEvent{ObjectID: "g2", UserID: "u2", Executor: "kandinsky", GenType: "text2img", Status: "queued", AvgTime: ptr(4), ReceivedAt: base})

	reports, err := repo.EstimateReports(ctx, 10)
	if err != nil {
		t.Fatalf("EstimateReports() error = %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.ObjectID != "g1" || r.Estimate != 10 || r.Actual != 7.5 {
		t.Errorf("report = %+v", r)
	}
	if r.Error() != 2.5 {
		t.Errorf("Error() = %v, want 2.5", r.Error())
	}
}

func TestRepository_ConnectionEventsAndPrune(t *testing.T) {
	repo := NewRepository(openTestDatabase(t))
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for _, ev := range []ConnectionEvent{
		{SessionID: "s1", Event: ConnectionEstablished, OccurredAt: old},
		{SessionID: "s1", Event: ConnectionLost, Detail: "read: EOF", OccurredAt: old},
		{SessionID: "s2", Event: ConnectionEstablished},
	} {
		if _, err := repo.InsertConnectionEvent(ctx, ev); err != nil {
			t.Fatalf("InsertConnectionEvent() error = %v", err)
		}
	}
	if _, err := repo.InsertGenerationEvent(ctx, GenerationEvent{UserID: "u", Executor: "kandinsky", GenType: "text2img", Status: "done", ReceivedAt: old}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := repo.CountConnectionEvents(ctx, ConnectionEstablished)
	if err != nil || n != 2 {
		t.Fatalf("CountConnectionEvents() = %d, %v; want 2", n, err)
	}

	pruned, err := repo.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if n, _ := repo.CountConnectionEvents(ctx, ConnectionLost); n != 0 {
		t.Errorf("old connection event survived prune")
	}
}

func TestDatabase_ClosedOperations(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := NewRepository(d).InsertConnectionEvent(context.Background(), ConnectionEvent{Event: ConnectionLost}); err == nil {
		t.Error("insert on closed database succeeded")
	}
	if err := d.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping() = %v, want ErrClosed", err)
	}
}
