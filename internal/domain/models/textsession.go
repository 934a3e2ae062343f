package models

import "time"

// TextSession is a persisted pair of original and rewritten text.
type TextSession struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	OriginalText string    `json:"originalText"`
	FinalText    string    `json:"finalText"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Revision keeps a previous final text of a text session.
type Revision struct {
	ID            string    `json:"id"`
	TextSessionID string    `json:"sessionId"`
	Text          string    `json:"text"`
	Instructions  string    `json:"instructions"`
	CreatedAt     time.Time `json:"createdAt"`
}
