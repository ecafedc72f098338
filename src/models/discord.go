package models

import (
	"time"
)

type DiscordSession struct {
	ID             string `db:"session_id"`
	SequenceNumber int    `db:"sequence_number"`
}

// A message waiting in the durable send queue. PayloadJSON is the body of a
// Create Message request.
type DiscordOutgoingMessage struct {
	ID          int       `db:"id"`
	ChannelID   string    `db:"channel_id"`
	PayloadJSON string    `db:"payload_json"`
	ExpiresAt   time.Time `db:"expires_at"`
}
