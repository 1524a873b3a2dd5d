package stream

import (
	"context"
	"testing"
	"time"

	"sysaccess.org/internal/access"
)

func TestPublishFiltersAndCloses(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	all := s.Subscribe(ctx, nil)
	crm := s.Subscribe(ctx, func(e access.Event) bool { return e.System == "2" })

	s.Publish(access.Event{EntryID: "e1", System: "4"})
	s.Publish(access.Event{EntryID: "e2", System: "2"})

	if got := (<-all).EntryID; got != "e1" {
		t.Fatalf("unexpected first event %s", got)
	}
	if got := (<-all).EntryID; got != "e2" {
		t.Fatalf("unexpected second event %s", got)
	}
	if got := (<-crm).EntryID; got != "e2" {
		t.Fatalf("filter not applied, got %s", got)
	}

	cancel()
	select {
	case _, ok := <-all:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed on cancel")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx, nil)
	for i := 0; i < 100; i++ {
		s.Publish(access.Event{EntryID: "e"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer should be full, len=%d cap=%d", len(ch), cap(ch))
	}
}
