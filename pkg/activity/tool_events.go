package activity

import (
	"strings"
	"time"
)

// Verbs emitted for registry mutations.
const (
	VerbToolRegistered = "tool.registered"
	VerbToolUpdated    = "tool.updated"
	VerbToolRenamed    = "tool.renamed"
	VerbToolRemoved    = "tool.removed"
	VerbToolConflict   = "tool.conflict"
)

// ObjectTypeTool is the object type used for every registry event.
const ObjectTypeTool = "tool"

// ToolEventInput describes the common fields for registry lifecycle events.
type ToolEventInput struct {
	ActorID     string
	UserID      string
	TenantID    string
	Channel     string
	Key         string
	PreviousKey string
	Slot        *int
	Metadata    map[string]any
	OldValue    any
	NewValue    any
	OccurredAt  time.Time
}

// BuildToolRegisteredEvent describes a key that was added to the registry.
func BuildToolRegisteredEvent(input ToolEventInput) Event {
	return buildToolEvent(VerbToolRegistered, input)
}

// BuildToolUpdatedEvent describes a new property bag written under an existing key.
func BuildToolUpdatedEvent(input ToolEventInput) Event {
	return buildToolEvent(VerbToolUpdated, input)
}

// BuildToolRenamedEvent describes an entry moved from PreviousKey to Key.
func BuildToolRenamedEvent(input ToolEventInput) Event {
	return buildToolEvent(VerbToolRenamed, input)
}

// BuildToolRemovedEvent describes a key deleted from the registry.
func BuildToolRemovedEvent(input ToolEventInput) Event {
	return buildToolEvent(VerbToolRemoved, input)
}

// BuildToolConflictEvent describes an identifier that was rejected because
// another slot already holds it.
func BuildToolConflictEvent(input ToolEventInput) Event {
	return buildToolEvent(VerbToolConflict, input)
}

func buildToolEvent(verb string, input ToolEventInput) Event {
	metadata := cloneMap(input.Metadata)
	key := strings.TrimSpace(input.Key)
	if key != "" {
		metadata = ensureMetadata(metadata)
		metadata["key"] = key
	}
	if previous := strings.TrimSpace(input.PreviousKey); previous != "" {
		metadata = ensureMetadata(metadata)
		metadata["previous_key"] = previous
	}
	if input.Slot != nil {
		metadata = ensureMetadata(metadata)
		metadata["slot"] = *input.Slot
	}
	if input.OldValue != nil {
		metadata = ensureMetadata(metadata)
		metadata["old_value"] = input.OldValue
	}
	if input.NewValue != nil {
		metadata = ensureMetadata(metadata)
		metadata["new_value"] = input.NewValue
	}

	objectID := key
	if objectID == "" {
		objectID = strings.TrimSpace(input.PreviousKey)
	}
	if objectID == "" {
		objectID = ObjectTypeTool
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: ObjectTypeTool,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
