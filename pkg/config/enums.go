package config

// Role identifies which agent/model family handles a pipeline stage.
// Roles are a closed set; persistence stores the string value at the boundary.
type Role string

const (
	// RoleAmbientTagger produces environmental ambience annotations.
	RoleAmbientTagger Role = "ambient_tagger"
	// RoleVoiceTagger assigns voices and speech metadata to dialogue lines.
	RoleVoiceTagger Role = "voice_tagger"
	// RoleFxTagger produces punctual sound-effect annotations.
	RoleFxTagger Role = "fx_tagger"
	// RoleMusicTagger produces music cue annotations.
	RoleMusicTagger Role = "music_tagger"
	// RoleCanonExtractor extracts ordered canonical events from an episode.
	RoleCanonExtractor Role = "canon_extractor"
	// RoleDeltaBuilder produces a compact world-state delta for an episode.
	RoleDeltaBuilder Role = "delta_builder"
	// RoleContinuityValidator cross-checks a delta against prior state.
	RoleContinuityValidator Role = "continuity_validator"
	// RoleStateCompressor compresses the current series state into a bounded summary.
	RoleStateCompressor Role = "state_compressor"
	// RoleRecapBuilder produces a human-readable recap from canon events.
	RoleRecapBuilder Role = "recap_builder"
	// RoleDiagnosis is used for best-effort failure self-diagnosis calls.
	RoleDiagnosis Role = "diagnosis"
)

// IsValid checks if the role is a member of the closed set.
func (r Role) IsValid() bool {
	switch r {
	case RoleAmbientTagger,
		RoleVoiceTagger,
		RoleFxTagger,
		RoleMusicTagger,
		RoleCanonExtractor,
		RoleDeltaBuilder,
		RoleContinuityValidator,
		RoleStateCompressor,
		RoleRecapBuilder,
		RoleDiagnosis:
		return true
	default:
		return false
	}
}

// TagType identifies the kind of annotation a tag entry carries.
type TagType string

const (
	TagTypeAmbient   TagType = "ambient"
	TagTypeVoice     TagType = "voice"
	TagTypeFx        TagType = "fx"
	TagTypeMusic     TagType = "music"
	TagTypeFormatter TagType = "formatter"
)

// IsValid checks if the tag type is a member of the closed set.
func (t TagType) IsValid() bool {
	switch t {
	case TagTypeAmbient, TagTypeVoice, TagTypeFx, TagTypeMusic, TagTypeFormatter:
		return true
	default:
		return false
	}
}

// CommandStatus represents the lifecycle state of a queued command.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusRunning   CommandStatus = "running"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
	CommandStatusCancelled CommandStatus = "cancelled"
	CommandStatusTimedOut  CommandStatus = "timed_out"
)

// IsValid checks if the command status is a member of the closed set.
func (s CommandStatus) IsValid() bool {
	switch s {
	case CommandStatusPending,
		CommandStatusRunning,
		CommandStatusCompleted,
		CommandStatusFailed,
		CommandStatusCancelled,
		CommandStatusTimedOut:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a terminal state.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusFailed, CommandStatusCancelled, CommandStatusTimedOut:
		return true
	default:
		return false
	}
}
