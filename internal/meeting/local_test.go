package meeting

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLocalProvisionIsIdempotentPerRequest(t *testing.T) {
	local := NewLocal("https://meet.local/")
	ctx := context.Background()

	first, err := local.Provision(ctx, Request{RequestID: "req_1", OwnerID: "alice", ParticipantIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	second, err := local.Provision(ctx, Request{RequestID: "req_1", OwnerID: "alice", ParticipantIDs: []string{"carol"}})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected same room, got %+v and %+v", first, second)
	}
	if !strings.HasPrefix(first.JoinURL, "https://meet.local/mtg_") {
		t.Fatalf("unexpected join url %q", first.JoinURL)
	}

	other, err := local.Provision(ctx, Request{RequestID: "req_2"})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if other.MeetingID == first.MeetingID {
		t.Fatal("distinct requests must get distinct rooms")
	}
}

func TestLocalEnd(t *testing.T) {
	local := NewLocal("https://meet.local")
	ctx := context.Background()

	room, err := local.Provision(ctx, Request{RequestID: "req_1"})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if err := local.End(ctx, room.MeetingID); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	got, ok := local.Room("req_1")
	if !ok || got.Status != StatusEnded {
		t.Fatalf("expected ended room, got %+v ok=%v", got, ok)
	}
	if err := local.End(ctx, "unknown"); !errors.Is(err, ErrMeetingNotFound) {
		t.Fatalf("expected ErrMeetingNotFound, got %v", err)
	}
}

func TestLocalRespectsCancelledContext(t *testing.T) {
	local := NewLocal("https://meet.local")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := local.Provision(ctx, Request{RequestID: "req_1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
