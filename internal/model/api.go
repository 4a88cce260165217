package model

import "time"

// ContentEntry is one row of the remote content listing.
type ContentEntry struct {
	ElementID Key       `json:"elementId" validate:"required"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Permissions is the capability bag attached to a member's role. The core
// only gates editing on it; individual capabilities are opaque strings.
type Permissions []string

// Can reports whether the capability is present.
func (p Permissions) Can(capability string) bool {
	for _, c := range p {
		if c == capability {
			return true
		}
	}
	return false
}

// CanEdit is the single capability the editing core cares about.
func (p Permissions) CanEdit() bool {
	return p.Can("content:write")
}

// Member is the response of GET /apps/{appId}/members/@me.
type Member struct {
	ID   UserID `json:"id" validate:"required"`
	Role Role   `json:"role"`
}

type Role struct {
	Name        string      `json:"name"`
	Permissions Permissions `json:"permissions"`
}

// KeyInfo is the response of GET /apps/{appId}/keys/@me.
type KeyInfo struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expiresAt"`
}
