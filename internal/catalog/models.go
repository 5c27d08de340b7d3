package catalog

import (
	"sort"
	"strings"
	"time"
)

// EntityType distinguishes the kinds of library items tracked.
type EntityType string

const (
	EntityMovie   EntityType = "movie"
	EntitySeries  EntityType = "series"
	EntityEpisode EntityType = "episode"
)

// ParseEntityType converts a string into a known EntityType.
func ParseEntityType(value string) (EntityType, bool) {
	normalized := EntityType(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case EntityMovie, EntitySeries, EntityEpisode:
		return normalized, true
	default:
		return "", false
	}
}

// Entity is a movie, series, or episode under management.
type Entity struct {
	ID                    int64
	EntityType            EntityType
	Title                 string
	Year                  int
	MediaPath             string
	MediaFilename         string
	PrimaryFileHash       string
	Monitored             bool
	LockedFields          []string
	HasUnpublishedChanges bool
	LastEnrichedAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FieldLocked reports whether automation must not overwrite the named field.
func (e *Entity) FieldLocked(field string) bool {
	for _, locked := range e.LockedFields {
		if locked == field {
			return true
		}
	}
	return false
}

func (e *Entity) addLockedField(field string) {
	if e.FieldLocked(field) {
		return
	}
	e.LockedFields = append(e.LockedFields, field)
	sort.Strings(e.LockedFields)
}

func (e *Entity) removeLockedField(field string) {
	filtered := e.LockedFields[:0]
	for _, locked := range e.LockedFields {
		if locked != field {
			filtered = append(filtered, locked)
		}
	}
	e.LockedFields = filtered
}

// AssetCandidate is one provider-sourced artwork or metadata option for an
// entity. At most one candidate per (entity, asset type) is selected.
type AssetCandidate struct {
	ID           int64
	EntityType   EntityType
	EntityID     int64
	AssetType    string
	Provider     string
	URL          string
	Score        float64
	Width        int
	Height       int
	Language     string
	IsSelected   bool
	IsDownloaded bool
	ContentHash  string
	FetchedAt    time.Time
}

// LibraryFile records one published, player-visible file and the cached
// content it projects.
type LibraryFile struct {
	ID          int64
	EntityType  EntityType
	EntityID    int64
	AssetType   string
	FilePath    string
	ContentHash string
	PublishedAt time.Time
}
