package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"curator/internal/services"
)

// Payload is the typed content of a job, discriminated by JobType.
type Payload interface {
	JobType() Type
	Validate() error
}

// DirectoryScanPayload triggers a scan of one library directory.
type DirectoryScanPayload struct {
	LibraryID     int64  `json:"libraryId"`
	DirectoryPath string `json:"directoryPath"`
}

func (DirectoryScanPayload) JobType() Type { return TypeDirectoryScan }

func (p DirectoryScanPayload) Validate() error {
	if p.LibraryID <= 0 {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "directory-scan requires libraryId", nil)
	}
	if strings.TrimSpace(p.DirectoryPath) == "" {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "directory-scan requires directoryPath", nil)
	}
	return nil
}

// EnrichMetadataPayload triggers provider fetch and candidate selection.
type EnrichMetadataPayload struct {
	EntityType string   `json:"entityType"`
	EntityID   int64    `json:"entityId"`
	AssetTypes []string `json:"assetTypes,omitempty"`
	Force      bool     `json:"force,omitempty"`
}

func (EnrichMetadataPayload) JobType() Type { return TypeEnrichMetadata }

func (p EnrichMetadataPayload) Validate() error {
	if strings.TrimSpace(p.EntityType) == "" {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "enrich-metadata requires entityType", nil)
	}
	if p.EntityID <= 0 {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "enrich-metadata requires entityId", nil)
	}
	return nil
}

// PublishPayload projects current selections into the library directory.
type PublishPayload struct {
	EntityType string `json:"entityType"`
	EntityID   int64  `json:"entityId"`
	// Full forces NFO regeneration in addition to asset sync.
	Full bool `json:"full,omitempty"`
}

func (PublishPayload) JobType() Type { return TypePublish }

func (p PublishPayload) Validate() error {
	if strings.TrimSpace(p.EntityType) == "" {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "publish requires entityType", nil)
	}
	if p.EntityID <= 0 {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "publish requires entityId", nil)
	}
	return nil
}

// VerifyPayload reconciles one entity's library directory against the cache.
type VerifyPayload struct {
	EntityType string `json:"entityType"`
	EntityID   int64  `json:"entityId"`
}

func (VerifyPayload) JobType() Type { return TypeVerify }

func (p VerifyPayload) Validate() error {
	if strings.TrimSpace(p.EntityType) == "" {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "verify requires entityType", nil)
	}
	if p.EntityID <= 0 {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "verify requires entityId", nil)
	}
	return nil
}

// NotifyPlayersPayload asks the player notifier to refresh a group.
type NotifyPlayersPayload struct {
	GroupName string `json:"groupName"`
	Event     string `json:"event"`
	EntityID  int64  `json:"entityId,omitempty"`
}

func (NotifyPlayersPayload) JobType() Type { return TypeNotifyPlayers }

func (p NotifyPlayersPayload) Validate() error {
	if strings.TrimSpace(p.GroupName) == "" {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "notify-players requires groupName", nil)
	}
	if strings.TrimSpace(p.Event) == "" {
		return services.Wrap(services.ErrValidation, "queue", "validate payload", "notify-players requires event", nil)
	}
	return nil
}

var payloadDecoders = map[Type]func(json.RawMessage) (Payload, error){
	TypeDirectoryScan:  decodeInto[DirectoryScanPayload],
	TypeEnrichMetadata: decodeInto[EnrichMetadataPayload],
	TypePublish:        decodeInto[PublishPayload],
	TypeVerify:         decodeInto[VerifyPayload],
	TypeNotifyPlayers:  decodeInto[NotifyPlayersPayload],
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var payload T
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "decode payload", fmt.Sprintf("malformed %s payload", payload.JobType()), err)
	}
	return payload, nil
}

// DecodePayload parses a job's raw payload into its typed form.
func DecodePayload(job *Job) (Payload, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "decode payload", "job is nil", nil)
	}
	decoder, ok := payloadDecoders[job.Type]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "queue", "decode payload", fmt.Sprintf("unknown job type %q", job.Type), nil)
	}
	payload, err := decoder(job.Payload)
	if err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
