package forum

import "time"

// A side effect requested by the engine. The gateway executes intents in
// order, after the state change that produced them has been committed.
type Intent interface {
	isIntent()
}

type SendMessage struct {
	ChannelID string
	Content   string
}

type LockThread struct {
	ThreadID string
}

type ArchiveThread struct {
	ThreadID string
}

// Deletes a whole thread after Delay.
type DeleteThread struct {
	ThreadID string
	Delay    time.Duration
}

type DeleteMessage struct {
	ChannelID string
	MessageID string
}

// Sends a private message. If the member can't be reached privately, the
// content is posted in FallbackChannelID as a transient notice instead.
type DirectNotify struct {
	UserID            string
	Content           string
	FallbackChannelID string
}

// Posts the rules message into a freshly accepted thread. Its message ID
// should be handed back to Engine.SetInfoMessage.
type PostInfo struct {
	ThreadID string
	Info     Info
}

// Rewrites the rules message of a thread in place. With no MessageID, a new
// rules message is posted and recorded instead.
type EditDisplay struct {
	ThreadID  string
	MessageID string
	Info      Info
}

// A message that deletes itself after TTL.
type TransientNotice struct {
	ChannelID string
	Content   string
	TTL       time.Duration
}

// An entry for the staff log channel.
type AuditLog struct {
	Title       string
	Description string
}

func (SendMessage) isIntent()     {}
func (LockThread) isIntent()      {}
func (ArchiveThread) isIntent()   {}
func (DeleteThread) isIntent()    {}
func (DeleteMessage) isIntent()   {}
func (DirectNotify) isIntent()    {}
func (PostInfo) isIntent()        {}
func (EditDisplay) isIntent()     {}
func (TransientNotice) isIntent() {}
func (AuditLog) isIntent()        {}

// Closes a thread with a final message.
func closeThread(threadID, content string) []Intent {
	return []Intent{
		SendMessage{ChannelID: threadID, Content: content},
		LockThread{ThreadID: threadID},
		ArchiveThread{ThreadID: threadID},
	}
}
