package models

import (
	"strings"
	"time"
)

// MediaKind identifies what a stored media file contains.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// ParseMediaKind maps a file extension (with or without the leading dot) to a
// MediaKind. Unknown extensions return false.
func ParseMediaKind(ext string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp3", "aac", "m4a", "ogg", "flac", "wav":
		return MediaAudio, true
	case "mp4", "mkv", "mov", "flv", "ts":
		return MediaVideo, true
	case "jpg", "jpeg", "png":
		return MediaImage, true
	default:
		return "", false
	}
}

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"passwordHash,omitempty"`
	Role           string    `json:"role"`
	PlanID         string    `json:"planId"`
	StorageUsed    int64     `json:"storageUsedBytes"`
	UsageSeconds   int64     `json:"usageSeconds"`
	LastUsageReset string    `json:"lastUsageReset"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user holds the administrator role.
func (u User) IsAdmin() bool {
	return strings.EqualFold(u.Role, "admin")
}

// Plan describes a subscription tier. Limits of zero mean "no limit"; only
// administrators normally carry unlimited plans.
type Plan struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	MaxStorageMB     int64       `json:"maxStorageMb"`
	AllowedKinds     []MediaKind `json:"allowedKinds"`
	DailyLimitHours  int         `json:"dailyLimitHours"`
	MaxActiveStreams int         `json:"maxActiveStreams"`
	MaxDestinations  int         `json:"maxDestinations"`
	PriceText        string      `json:"priceText,omitempty"`
	FeaturesText     string      `json:"featuresText,omitempty"`
}

// DailyLimitSeconds converts the plan's daily allowance to seconds. Zero means
// unlimited.
func (p Plan) DailyLimitSeconds() int64 {
	return int64(p.DailyLimitHours) * 3600
}

// AllowsKind reports whether the plan permits uploading the given media kind.
// A plan with no explicit kinds allows everything.
func (p Plan) AllowsKind(kind MediaKind) bool {
	if len(p.AllowedKinds) == 0 {
		return true
	}
	for _, allowed := range p.AllowedKinds {
		if allowed == kind {
			return true
		}
	}
	return false
}

// MediaItem identifies a single playable asset owned by a user. The broadcast
// engine only ever reads these; mutation belongs to the storage layer.
type MediaItem struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	Kind      MediaKind `json:"kind"`
	FolderID  *string   `json:"folderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Folder struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Destination is a configured broadcast target. StreamKey is a secret and must
// never appear in logs or error text; API responses mask it.
type Destination struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Platform  string    `json:"platform"`
	IngestURL string    `json:"ingestUrl"`
	StreamKey string    `json:"streamKey,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// UsageCounter captures a user's accumulated broadcast seconds for the current
// day alongside the date the counter was last reset.
type UsageCounter struct {
	UserID       string `json:"userId"`
	UsageSeconds int64  `json:"usageSeconds"`
	LastReset    string `json:"lastReset"`
}
