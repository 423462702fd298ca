package domain

import "time"

// Turn is one completed conversational exchange as persisted in the turn log.
type Turn struct {
	ThreadID       string
	UserMessage    string
	AssistantReply string
	CreatedAt      time.Time
}
