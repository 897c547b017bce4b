package models

import "time"

// Call is the detail record of one inbound call leg.
type Call struct {
	ID          int64
	CallID      string
	ChannelID   string
	Caller      string
	Destination string
	StartedAt   time.Time
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	HangupCause string
}

// DigitCollection records the outcome of one read_digits style collection.
type DigitCollection struct {
	ID          int64
	ChannelID   string
	CallID      string
	Application string
	VarName     string
	Requested   int
	TimeoutMS   int
	Digits      string
	Result      string // "success" | "timeout" | "failure"
	Reason      string
	CreatedAt   time.Time
}

// Recording is a WAV file captured by net_dev_record.
type Recording struct {
	ID         int64
	ChannelID  string
	CallID     string
	Digits     string
	FilePath   string
	SizeBytes  int64
	DurationMS int64
	CreatedAt  time.Time
}
