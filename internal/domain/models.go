package domain

import "time"

// UserProfile mirrors the remote users document. The local copy carries its
// own UpdatedAt so divergence can be resolved by timestamp comparison.
type UserProfile struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"displayName"`
	Role                 string    `json:"role"`
	AssignedCourseID     string    `json:"assignedCourseId"`
	OfflineAccessAllowed bool      `json:"offlineAccessAllowed"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// Subject groups the questions of one exam subject.
type Subject struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// QuestionBank is the cached question content for one license. It is
// refreshed wholesale and treated as immutable per version.
type QuestionBank struct {
	LicenseID   string    `json:"licenseId"`
	Subjects    []Subject `json:"subjects"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// SyncState tracks whether a locally queued result reached the remote store.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// ExamKind distinguishes the two attempt modes.
type ExamKind string

const (
	KindPractice   ExamKind = "practice"
	KindOnlineExam ExamKind = "onlineExam"
)

// PendingResult is a completed attempt outcome recorded while disconnected
// (or after a failed remote write), awaiting confirmed delivery. LocalID is
// client-generated and doubles as the remote dedupe key.
type PendingResult struct {
	LocalID          string    `json:"localId"`
	UserID           string    `json:"userId"`
	LicenseID        string    `json:"licenseId"`
	SubjectName      string    `json:"subjectName,omitempty"`
	ExamKind         ExamKind  `json:"examKind"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"totalQuestions"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
	SyncState        SyncState `json:"syncState"`
}

// QuizSessionSnapshot is the serialized state of one in-progress attempt.
// One slot per device; honored only for the owning user within the TTL.
type QuizSessionSnapshot struct {
	OwnerUserID     string            `json:"ownerUserId"`
	Questions       []Question        `json:"questions"`
	Mode            ExamKind          `json:"mode"`
	Answers         map[string]string `json:"answers"`
	CurrentIndex    int               `json:"currentIndex"`
	TimeLeftSeconds int               `json:"timeLeftSeconds"`
	LicenseID       string            `json:"licenseId"`
	SubjectName     string            `json:"subjectName"`
	SavedAt         time.Time         `json:"savedAt"`
}

// ParticipantStatus is the live state of one exam-room participant.
// Transitions are forward-only: joined -> inProgress -> submitted, with a
// disconnected detour from which a reconnect resumes inProgress.
type ParticipantStatus string

const (
	StatusJoined       ParticipantStatus = "joined"
	StatusInProgress   ParticipantStatus = "inProgress"
	StatusSubmitted    ParticipantStatus = "submitted"
	StatusDisconnected ParticipantStatus = "disconnected"
)

// ExamRoomParticipant is the ephemeral per-room live state of one user.
// It exists only in the realtime channel, never in the authoritative store.
type ExamRoomParticipant struct {
	UserID          string            `json:"userId"`
	DisplayName     string            `json:"displayName"`
	Status          ParticipantStatus `json:"status"`
	CurrentIndex    int               `json:"currentIndex"`
	TimeLeftSeconds int               `json:"timeLeftSeconds"`
	LiveScore       int               `json:"liveScore"`
	LastHeartbeatAt time.Time         `json:"lastHeartbeatAt"`
}

// RosterEntry is a snapshot-friendly view of a participant. Stale is set
// when the last heartbeat is older than the room's freshness threshold.
type RosterEntry struct {
	ExamRoomParticipant
	Stale bool `json:"stale"`
}

// Roster captures the ordered participant list of an exam room.
type Roster struct {
	RoomID    string        `json:"roomId"`
	Entries   []RosterEntry `json:"entries"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// PeriodKind is the quota window granularity.
type PeriodKind string

const (
	PeriodDaily  PeriodKind = "daily"
	PeriodWeekly PeriodKind = "weekly"
)

// QuotaPolicy is the configured gate for one role.
type QuotaPolicy struct {
	Limit   int
	Period  PeriodKind
	Message string
	Enabled bool
}

// QuotaCounter counts consumptions inside the current window. Reset is lazy:
// a counter whose WindowStart predates the current window counts as zero.
type QuotaCounter struct {
	Key         string
	Period      PeriodKind
	Count       int
	WindowStart time.Time
}
