package models

import "time"

// Content is the authoritative metadata record for a stored object. The
// address is the opaque identifier used to fetch the object from the backing
// store; a request may only be proxied when a record for the address exists.
type Content struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}
