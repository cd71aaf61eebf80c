package models

import "time"

// Manifest is the remotely hosted firmware index: one latest version plus a
// download URL and sha256 digest per node role.
type Manifest struct {
	Version string            `json:"version"`
	Assets  map[string]string `json:"assets"`
	SHA256  map[string]string `json:"sha256"`

	FetchedAt time.Time `json:"-"`
}
