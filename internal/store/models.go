package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string
	Subject     string
	DisplayName string
	CreatedAt   time.Time
}

// Scene is one persisted drawing document. OwnerID nil means the scene is
// anonymous/unclaimed; once set it is never cleared by normal mutation paths.
type Scene struct {
	ID           string
	OwnerID      *string
	Title        string
	Elements     json.RawMessage
	AppState     json.RawMessage
	Files        json.RawMessage
	Public       bool
	ThumbnailKey string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OwnerRef returns the owner id, or "" for unclaimed scenes.
func (s Scene) OwnerRef() string {
	if s.OwnerID == nil {
		return ""
	}
	return *s.OwnerID
}

// ShareLink is a shareable read-only handle on a scene, optionally password
// protected.
type ShareLink struct {
	ID           string
	Token        string
	SceneID      string
	PasswordHash *string
	ExpiresAt    *time.Time
	AccessCount  int
	CreatedAt    time.Time
	RevokedAt    *time.Time
}

// RevisionInfo describes one snapshot in a scene's revision history.
type RevisionInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
