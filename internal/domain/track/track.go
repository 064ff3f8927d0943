// Package track provides the queue and history domain entities.
package track

import (
	"fmt"
	"strings"
	"time"
)

// NeteasePrefix marks a SourceRef that resolves through the NetEase API.
const NeteasePrefix = "netease:"

// Track holds resolved metadata for a playable source.
// Contains only information retrieved from the upstream music API.
type Track struct {
	SourceRef  string        // Opaque source identifier ("netease:<id>" or URL)
	Title      string        // Track title
	Artist     string        // Artist names, joined
	Album      string        // Album name
	Duration   time.Duration // Track duration (0 = unknown)
	ArtworkURL string        // Album art URL
	SourceURL  string        // Resolved, playable media URL
}

// QueueItem represents a pending track in the playback queue.
// The ID is assigned by the store and increases monotonically.
type QueueItem struct {
	ID          int64
	Track       Track
	RequestedBy string
	CreatedAt   time.Time
}

// HistoryRecord is the append-only audit record written once per play start.
type HistoryRecord struct {
	ID          int64
	Track       Track
	RequestedBy string
	PlayedAt    time.Time
}

// NeteaseRef builds a SourceRef for a NetEase song ID.
func NeteaseRef(songID string) string {
	return NeteasePrefix + songID
}

// NeteaseID extracts the song ID from a NetEase SourceRef.
// Returns false if the ref does not point at NetEase.
func NeteaseID(sourceRef string) (string, bool) {
	if !strings.HasPrefix(sourceRef, NeteasePrefix) {
		return "", false
	}
	return strings.TrimPrefix(sourceRef, NeteasePrefix), true
}

// Label returns a short human-readable "title - artist" line.
func (t Track) Label() string {
	if t.Artist == "" {
		return t.Title
	}
	return fmt.Sprintf("%s - %s", t.Title, t.Artist)
}
