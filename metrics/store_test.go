package metrics

import (
	"testing"
	"time"
)

func TestStore_Summary(t *testing.T) {
	store := NewStore(DefaultStoreConfig())

	store.GenerationFinished(GenerationRecord{Executor: "kandinsky", Status: "done", Duration: 2 * time.Second})
	store.GenerationFinished(GenerationRecord{Executor: "kandinsky", Status: "error", Duration: 4 * time.Second})
	store.GenerationFinished(GenerationRecord{Executor: "automatic1111", Status: "abandoned", Duration: time.Second})

	sum := store.Summary()
	if sum.Total != 3 || sum.Done != 1 || sum.Errors != 1 || sum.Abandoned != 1 {
		t.Errorf("Summary() = %+v", sum)
	}

	k := sum.ByExecutor["kandinsky"]
	if k == nil {
		t.Fatal("ByExecutor[kandinsky] missing")
	}
	if k.Count != 2 || k.SuccessRate != 50 || k.AvgDuration != 3*time.Second {
		t.Errorf("kandinsky stat = %+v", k)
	}
}

func TestStore_RecentWraps(t *testing.T) {
	store := NewStore(StoreConfig{HistoryCapacity: 2})
	for _, user := range []string{"a", "b", "c"} {
		store.GenerationFinished(GenerationRecord{UserID: user, Status: "done"})
	}

	recent := store.Recent(5)
	if len(recent) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(recent))
	}
	if recent[0].UserID != "b" || recent[1].UserID != "c" {
		t.Errorf("Recent() = %v, want b then c", recent)
	}
	if got := store.Recent(0); len(got) != 0 {
		t.Errorf("Recent(0) = %v, want empty", got)
	}
}

func TestStore_Reconnects(t *testing.T) {
	store := NewStore(DefaultStoreConfig())
	if got := store.Summary().Reconnects; got != 0 {
		t.Errorf("Reconnects before connect = %d, want 0", got)
	}

	store.ConnectAttempt(ConnectOK)
	store.ConnectAttempt(ConnectTransient)
	store.ConnectAttempt(ConnectOK)

	if got := store.Summary().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}

func TestMulti(t *testing.T) {
	a := NewStore(DefaultStoreConfig())
	b := NewStore(DefaultStoreConfig())
	rec := Multi(a, nil, b)

	rec.GenerationFinished(GenerationRecord{Executor: "kandinsky", Status: "done"})

	if a.Summary().Total != 1 || b.Summary().Total != 1 {
		t.Error("Multi() did not fan out to every recorder")
	}
	if _, ok := Multi().(Nop); !ok {
		t.Error("Multi() with no recorders should be Nop")
	}
	if Multi(a) != Recorder(a) {
		t.Error("Multi() with one recorder should return it")
	}
}
