package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"examprep-sync-service/internal/domain"
)

func newTestStore(t *testing.T) (*RoomStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRoomStore(client, time.Minute), mr
}

func TestRoomStoreSetsAndClearsKeys(t *testing.T) {
	store, mr := newTestStore(t)

	_ = store.GetOrCreate("room-1")
	if !mr.Exists("room:room-1") {
		t.Fatalf("expected room liveness key to be set")
	}

	// An empty room settles immediately.
	store.DeleteIfSettled("room-1")
	if mr.Exists("room:room-1") {
		t.Fatalf("expected room key removed")
	}
}

func TestPublishParticipantMirrorsFieldsAndPresence(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	p := domain.ExamRoomParticipant{
		UserID:          "u1",
		DisplayName:     "Alice",
		Status:          domain.StatusInProgress,
		CurrentIndex:    4,
		TimeLeftSeconds: 321,
		LiveScore:       3,
		LastHeartbeatAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.PublishParticipant(ctx, "room-1", p); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := mr.HGet("room:room-1:participant:u1", "status"); got != string(domain.StatusInProgress) {
		t.Fatalf("expected status mirrored, got %q", got)
	}
	if got := mr.HGet("room:room-1:participant:u1", "currentIndex"); got != "4" {
		t.Fatalf("expected index mirrored, got %q", got)
	}
	if !mr.Exists("room:room-1:presence:u1") {
		t.Fatalf("expected presence key while connected")
	}

	back, err := store.Participant(ctx, "room-1", "u1")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if back != p {
		t.Fatalf("participant roundtrip mismatch: got %+v want %+v", back, p)
	}
}

func TestDisconnectedParticipantDropsPresence(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	p := domain.ExamRoomParticipant{UserID: "u1", Status: domain.StatusInProgress, LastHeartbeatAt: time.Now().UTC().Truncate(time.Millisecond)}
	_ = store.PublishParticipant(ctx, "room-1", p)

	p.Status = domain.StatusDisconnected
	if err := store.PublishParticipant(ctx, "room-1", p); err != nil {
		t.Fatalf("publish disconnect: %v", err)
	}

	if mr.Exists("room:room-1:presence:u1") {
		t.Fatalf("expected presence key dropped on disconnect")
	}
	if got := mr.HGet("room:room-1:participant:u1", "status"); got != string(domain.StatusDisconnected) {
		t.Fatalf("participant hash must keep the last state, got %q", got)
	}
}

func TestParticipantNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Participant(context.Background(), "room-1", "ghost"); err != domain.ErrParticipantNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
