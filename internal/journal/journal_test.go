package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStoresReturnNewestFirst(t *testing.T) {
	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			streaming := base.Add(300 * time.Millisecond)
			records := []Record{
				{SessionID: "s1", DocumentID: "d1", ThreadID: "t1", AuthorID: "u1", StartedAt: base, EndedAt: base.Add(time.Second), EndReason: EndDisconnect},
				{SessionID: "s2", DocumentID: "d1", ThreadID: "t1", AuthorID: "u1", StartedAt: base, StreamingAt: &streaming, EndedAt: base.Add(2 * time.Second), EndReason: EndFailure, Error: "quota", BlocksSent: 25, BlocksDropped: 2, AudioItems: 1, Interrupts: 3},
				{SessionID: "s3", DocumentID: "d2", ThreadID: "t2", AuthorID: "u1", StartedAt: base, EndedAt: base.Add(3 * time.Second), EndReason: EndClosed},
			}
			for _, r := range records {
				if err := store.Save(ctx, r); err != nil {
					t.Fatalf("Save(%s) error = %v", r.SessionID, err)
				}
			}

			got, err := store.Recent(ctx, 2)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len(Recent) = %d, want 2", len(got))
			}
			if got[0].SessionID != "s3" || got[1].SessionID != "s2" {
				t.Fatalf("Recent order = %s,%s want s3,s2", got[0].SessionID, got[1].SessionID)
			}
			s2 := got[1]
			if s2.EndReason != EndFailure || s2.Error != "quota" {
				t.Fatalf("s2 = %+v, want failure/quota", s2)
			}
			if s2.BlocksSent != 25 || s2.BlocksDropped != 2 || s2.AudioItems != 1 || s2.Interrupts != 3 {
				t.Fatalf("s2 counters = %+v", s2)
			}
			if s2.StreamingAt == nil || !s2.StreamingAt.Equal(streaming) {
				t.Fatalf("s2.StreamingAt = %v, want %v", s2.StreamingAt, streaming)
			}
			if got[0].StreamingAt != nil {
				t.Fatalf("s3.StreamingAt = %v, want nil", got[0].StreamingAt)
			}
		})
	}
}

func TestNewStoreRoutesByURL(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore(\"\") error = %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", store)
	}

	store, err = NewStore(ctx, "sqlite:"+filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatalf("NewStore(sqlite:) error = %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("NewStore(sqlite:) = %T, want *SQLiteStore", store)
	}
	_ = store.Close()

	if _, err := NewStore(ctx, "mysql://nope"); !errors.Is(err, ErrUnsupportedURL) {
		t.Fatalf("NewStore(mysql) error = %v, want ErrUnsupportedURL", err)
	}
}
