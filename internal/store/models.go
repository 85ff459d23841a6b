package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Note struct {
	ID         string
	OwnerID    string
	Title      string
	Content    string
	IsEditable bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NoteFields is a partial update. Pointer fields distinguish "not provided"
// (nil) from "set to empty".
type NoteFields struct {
	Title      *string
	Content    *string
	IsEditable *bool
}
