package models

import "time"

// A recruitment thread accepted by the single-active-post rule.
type TrackedThread struct {
	ThreadID           string    `db:"thread_id"`
	OwnerID            string    `db:"owner_id"`
	LastBumped         time.Time `db:"last_bumped"`
	ContentFingerprint *string   `db:"content_fingerprint"`
	InfoMessageID      *string   `db:"info_message_id"`
}

// Bump and moderation state of one member within one thread.
type ActorBumpState struct {
	ThreadID    string     `db:"thread_id"`
	ActorID     string     `db:"actor_id"`
	LastBumped  *time.Time `db:"last_bumped"`
	StrikeCount int        `db:"strike_count"`
	BanExpires  *time.Time `db:"ban_expires"`
}

func (s *ActorBumpState) IsBanned(now time.Time) bool {
	return s.BanExpires != nil && s.BanExpires.After(now)
}
