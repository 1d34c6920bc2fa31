package journal

import (
	"context"
	"fmt"
	"testing"
)

func TestInMemoryRecentNewestFirst(t *testing.T) {
	store := NewInMemoryStore(10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, Entry{Kind: KindTranscription, Text: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if _, err := store.Append(ctx, Entry{Kind: KindWake}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Recent(ctx, KindTranscription, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].Text != "t2" || got[1].Text != "t1" {
		t.Fatalf("Recent() = %+v", got)
	}
	all, _ := store.Recent(ctx, "", 0)
	if len(all) != 4 || all[0].Kind != KindWake {
		t.Fatalf("Recent(all) = %+v", all)
	}
	if all[0].ID == "" || all[0].CreatedAt.IsZero() {
		t.Fatalf("Append did not assign id and timestamp")
	}
}

func TestInMemoryCapacityEvictsOldest(t *testing.T) {
	store := NewInMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = store.Append(ctx, Entry{Kind: KindTranscription, Text: fmt.Sprintf("t%d", i)})
	}
	got, _ := store.Recent(ctx, "", 10)
	if len(got) != 3 || got[2].Text != "t2" {
		t.Fatalf("Recent() = %+v, want t4..t2", got)
	}
}

func TestNewStoreWithoutDatabaseURL(t *testing.T) {
	store, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", store)
	}
}
