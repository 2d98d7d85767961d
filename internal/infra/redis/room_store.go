package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"examprep-sync-service/internal/app"
	"examprep-sync-service/internal/domain"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository that also
// serves as the presence mirror. Notes:
//   - Rooms themselves stay in a local in-memory map so the in-process
//     broadcast machinery is reused; Redis carries the externally
//     observable per-participant node.
//   - Each participant maps to a hash at room:{id}:participant:{uid}
//     (partial-field updates) plus a TTL'd liveness key acting as the
//     transport-connectivity boolean other participants observe.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.Room
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.Room),
	}
}

func (s *RoomStore) GetOrCreate(roomID string) *app.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room
	}
	room := app.NewRoom(roomID)
	s.rooms[roomID] = room
	// best-effort liveness marker for the room itself
	_ = s.client.Set(context.Background(), s.roomKey(roomID), "1", s.ttl).Err()
	return room
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

func (s *RoomStore) DeleteIfSettled(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if room.IsSettled() {
		delete(s.rooms, roomID)
		_ = s.client.Del(context.Background(), s.roomKey(roomID)).Err()
	}
}

// PublishParticipant mirrors one participant's live state as partial-field
// hash updates and refreshes the liveness key. A disconnected participant's
// liveness key is dropped instead so observers see connectivity go false.
func (s *RoomStore) PublishParticipant(ctx context.Context, roomID string, p domain.ExamRoomParticipant) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.participantKey(roomID, p.UserID),
		"displayName", p.DisplayName,
		"status", string(p.Status),
		"currentIndex", strconv.Itoa(p.CurrentIndex),
		"timeLeftSeconds", strconv.Itoa(p.TimeLeftSeconds),
		"liveScore", strconv.Itoa(p.LiveScore),
		"lastHeartbeatAt", strconv.FormatInt(p.LastHeartbeatAt.UnixMilli(), 10),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.participantKey(roomID, p.UserID), s.ttl)
	}
	if p.Status == domain.StatusDisconnected {
		pipe.Del(ctx, s.presenceKey(roomID, p.UserID))
	} else {
		pipe.Set(ctx, s.presenceKey(roomID, p.UserID), "1", s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Participant reads one mirrored participant back, for observers.
func (s *RoomStore) Participant(ctx context.Context, roomID, userID string) (domain.ExamRoomParticipant, error) {
	fields, err := s.client.HGetAll(ctx, s.participantKey(roomID, userID)).Result()
	if err != nil {
		return domain.ExamRoomParticipant{}, err
	}
	if len(fields) == 0 {
		return domain.ExamRoomParticipant{}, domain.ErrParticipantNotFound
	}
	p := domain.ExamRoomParticipant{
		UserID:      userID,
		DisplayName: fields["displayName"],
		Status:      domain.ParticipantStatus(fields["status"]),
	}
	p.CurrentIndex, _ = strconv.Atoi(fields["currentIndex"])
	p.TimeLeftSeconds, _ = strconv.Atoi(fields["timeLeftSeconds"])
	p.LiveScore, _ = strconv.Atoi(fields["liveScore"])
	if ms, err := strconv.ParseInt(fields["lastHeartbeatAt"], 10, 64); err == nil {
		p.LastHeartbeatAt = time.UnixMilli(ms).UTC()
	}
	return p, nil
}

func (s *RoomStore) roomKey(roomID string) string {
	return "room:" + roomID
}

func (s *RoomStore) participantKey(roomID, userID string) string {
	return "room:" + roomID + ":participant:" + userID
}

func (s *RoomStore) presenceKey(roomID, userID string) string {
	return "room:" + roomID + ":presence:" + userID
}
