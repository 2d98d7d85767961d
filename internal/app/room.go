package app

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"examprep-sync-service/internal/domain"
)

// RoomRepository abstracts how exam rooms are stored (in-memory, Redis, etc).
type RoomRepository interface {
	GetOrCreate(roomID string) *Room
	Get(roomID string) (*Room, bool)
	DeleteIfSettled(roomID string)
}

// PresenceStore mirrors participant state to an externally observable node,
// one addressable entry per (room, participant). Writes are best effort;
// failures surface through RoomService.OnPresenceError.
type PresenceStore interface {
	PublishParticipant(ctx context.Context, roomID string, p domain.ExamRoomParticipant) error
}

// Progress is one debounced live update from a running attempt. Seq must be
// monotonically increasing per participant; stale sequences are dropped so
// an older in-flight push can never land after a newer one.
type Progress struct {
	CurrentIndex    int
	TimeLeftSeconds int
	LiveScore       int
	Seq             uint64
}

// RoomService contains the live exam room use cases.
type RoomService struct {
	rooms    RoomRepository
	presence PresenceStore

	staleAfter      time.Duration
	publishInterval time.Duration

	// OnPresenceError, when set, observes failed presence mirror writes.
	// They are never fatal to the room itself.
	OnPresenceError func(error)
}

func NewRoomService(rooms RoomRepository, presence PresenceStore, staleAfter, publishInterval time.Duration) *RoomService {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &RoomService{
		rooms:           rooms,
		presence:        presence,
		staleAfter:      staleAfter,
		publishInterval: publishInterval,
	}
}

// Join registers or refreshes a participant and arms the deferred disconnect
// resolution for the new connection. Rejoining never regresses status.
func (s *RoomService) Join(ctx context.Context, roomID, userID, displayName string) (domain.Roster, error) {
	room := s.rooms.GetOrCreate(roomID)
	roster, p := room.join(userID, displayName, s.staleAfter)
	s.mirror(ctx, room, roomID, userID, p, true)
	return roster, nil
}

// PushProgress records a live update. First push moves joined to inProgress;
// a push after a drop moves disconnected back to inProgress. Pushes with a
// stale sequence are dropped silently, pushes after submission are refused.
func (s *RoomService) PushProgress(ctx context.Context, roomID, userID string, progress Progress) (domain.Roster, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.Roster{}, domain.ErrRoomNotFound
	}
	roster, p, statusChanged, err := room.applyProgress(userID, progress, s.staleAfter)
	if err != nil {
		return domain.Roster{}, err
	}
	s.mirror(ctx, room, roomID, userID, p, statusChanged)
	return roster, nil
}

// Submit finishes the participant's attempt. The submission write wins any
// race with the deferred disconnect resolution: it disarms the deferred
// write, and once submitted the status never changes again.
func (s *RoomService) Submit(ctx context.Context, roomID, userID string, finalScore int) (domain.Roster, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.Roster{}, domain.ErrRoomNotFound
	}
	roster, p, err := room.submit(userID, finalScore, s.staleAfter)
	if err != nil {
		return domain.Roster{}, err
	}
	s.mirror(ctx, room, roomID, userID, p, true)
	return roster, nil
}

// ResolveDisconnect is the deferred write the transport executes when a
// connection drops without a clean close. It only fires while still armed:
// a successful submission disarms it, so submitted always persists.
func (s *RoomService) ResolveDisconnect(ctx context.Context, roomID, userID string) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	_, p, changed := room.resolveDisconnect(userID, s.staleAfter)
	if changed {
		s.mirror(ctx, room, roomID, userID, p, true)
	}
}

// Subscribe returns a channel that receives roster updates for a room.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *RoomService) Subscribe(_ context.Context, roomID string) (<-chan domain.Roster, func(), error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	ch, cancel := room.subscribe(s.staleAfter)
	return ch, cancel, nil
}

// Release drops the room once every participant submitted and nobody is
// watching. Called by the transport after a connection closes; a no-op while
// any participant is still joined, in progress, or disconnected.
func (s *RoomService) Release(roomID string) {
	s.rooms.DeleteIfSettled(roomID)
}

// mirror publishes the participant to the presence store, debounced per
// participant; status changes always publish.
func (s *RoomService) mirror(ctx context.Context, room *Room, roomID, userID string, p domain.ExamRoomParticipant, force bool) {
	if s.presence == nil {
		return
	}
	if !force && !room.duePublish(userID, s.publishInterval) {
		return
	}
	if err := s.presence.PublishParticipant(ctx, roomID, p); err != nil {
		if s.OnPresenceError != nil {
			s.OnPresenceError(err)
		} else {
			log.Printf("presence publish failed for %s/%s: %v", roomID, userID, err)
		}
		return
	}
	room.markPublished(userID)
}

// participantState wraps the shared participant view with channel-internal
// bookkeeping: the progress sequence, the armed deferred-disconnect flag and
// the presence debounce clock.
type participantState struct {
	domain.ExamRoomParticipant
	seq           uint64
	armed         bool
	lastPublished time.Time
}

// Room is the in-process state of one live exam room.
type Room struct {
	id    string
	now   func() time.Time
	mu    sync.RWMutex
	parts map[string]*participantState
	subs  map[chan domain.Roster]struct{}
}

// NewRoom is exported for infrastructure layers that need to seed rooms.
func NewRoom(id string) *Room {
	return NewRoomWithClock(id, time.Now)
}

// NewRoomWithClock is test-only for deterministic timestamps.
func NewRoomWithClock(id string, now func() time.Time) *Room {
	return &Room{
		id:    id,
		now:   now,
		parts: make(map[string]*participantState),
		subs:  make(map[chan domain.Roster]struct{}),
	}
}

func (r *Room) join(userID, displayName string, staleAfter time.Duration) (domain.Roster, domain.ExamRoomParticipant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p, ok := r.parts[userID]
	if !ok {
		p = &participantState{ExamRoomParticipant: domain.ExamRoomParticipant{
			UserID:      userID,
			DisplayName: displayName,
			Status:      domain.StatusJoined,
		}}
		r.parts[userID] = p
	}
	p.DisplayName = displayName
	p.LastHeartbeatAt = now
	// Armed before any progress is published, so a drop that beats the
	// first heartbeat still resolves to disconnected instead of leaving a
	// stale joined entry. A submitted participant stays submitted.
	if p.Status != domain.StatusSubmitted {
		p.armed = true
	}
	return r.broadcastLocked(staleAfter), p.ExamRoomParticipant
}

func (r *Room) applyProgress(userID string, progress Progress, staleAfter time.Duration) (domain.Roster, domain.ExamRoomParticipant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parts[userID]
	if !ok {
		return domain.Roster{}, domain.ExamRoomParticipant{}, false, domain.ErrParticipantNotFound
	}
	if p.Status == domain.StatusSubmitted {
		return domain.Roster{}, domain.ExamRoomParticipant{}, false, domain.ErrAlreadySubmitted
	}
	if progress.Seq <= p.seq {
		// Older push arriving after a newer one; drop it.
		return r.snapshotLocked(staleAfter), p.ExamRoomParticipant, false, nil
	}

	statusChanged := p.Status != domain.StatusInProgress
	p.seq = progress.Seq
	p.Status = domain.StatusInProgress
	p.CurrentIndex = progress.CurrentIndex
	p.TimeLeftSeconds = progress.TimeLeftSeconds
	p.LiveScore = progress.LiveScore
	p.LastHeartbeatAt = r.now()
	return r.broadcastLocked(staleAfter), p.ExamRoomParticipant, statusChanged, nil
}

func (r *Room) submit(userID string, finalScore int, staleAfter time.Duration) (domain.Roster, domain.ExamRoomParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parts[userID]
	if !ok {
		return domain.Roster{}, domain.ExamRoomParticipant{}, domain.ErrParticipantNotFound
	}
	if p.Status == domain.StatusSubmitted {
		return r.snapshotLocked(staleAfter), p.ExamRoomParticipant, nil
	}

	p.Status = domain.StatusSubmitted
	p.LiveScore = finalScore
	p.LastHeartbeatAt = r.now()
	p.armed = false
	return r.broadcastLocked(staleAfter), p.ExamRoomParticipant, nil
}

func (r *Room) resolveDisconnect(userID string, staleAfter time.Duration) (domain.Roster, domain.ExamRoomParticipant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parts[userID]
	if !ok || !p.armed || p.Status == domain.StatusSubmitted {
		return domain.Roster{}, domain.ExamRoomParticipant{}, false
	}

	p.armed = false
	p.Status = domain.StatusDisconnected
	return r.broadcastLocked(staleAfter), p.ExamRoomParticipant, true
}

func (r *Room) duePublish(userID string, interval time.Duration) bool {
	if interval <= 0 {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parts[userID]
	if !ok {
		return false
	}
	return r.now().Sub(p.lastPublished) >= interval
}

func (r *Room) markPublished(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.parts[userID]; ok {
		p.lastPublished = r.now()
	}
}

// IsSettled reports whether the room can be dropped: nobody subscribed and
// every participant submitted. A disconnected participant keeps the room
// alive, since a reconnect must resume their progress rather than restart
// them at joined.
func (r *Room) IsSettled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.subs) > 0 {
		return false
	}
	for _, p := range r.parts {
		if p.Status != domain.StatusSubmitted {
			return false
		}
	}
	return true
}

func (r *Room) subscribe(staleAfter time.Duration) (<-chan domain.Roster, func()) {
	ch := make(chan domain.Roster, 8)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	initial := r.snapshotLocked(staleAfter)
	r.mu.Unlock()

	ch <- initial

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Room) broadcastLocked(staleAfter time.Duration) domain.Roster {
	roster := r.snapshotLocked(staleAfter)
	for ch := range r.subs {
		select {
		case ch <- roster:
		default:
			// Drop the stale buffered update so slow consumers never
			// block the broadcast.
			select {
			case <-ch:
			default:
			}
			ch <- roster
		}
	}
	return roster
}

func (r *Room) snapshotLocked(staleAfter time.Duration) domain.Roster {
	now := r.now()
	entries := make([]domain.RosterEntry, 0, len(r.parts))
	for _, p := range r.parts {
		entries = append(entries, domain.RosterEntry{
			ExamRoomParticipant: p.ExamRoomParticipant,
			Stale:               p.Status == domain.StatusInProgress && now.Sub(p.LastHeartbeatAt) > staleAfter,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LiveScore != entries[j].LiveScore {
			return entries[i].LiveScore > entries[j].LiveScore
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return domain.Roster{
		RoomID:    r.id,
		Entries:   entries,
		UpdatedAt: now,
	}
}
