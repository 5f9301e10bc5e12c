package config

// Version is the canonical version of NadPilot
// This should be the single source of truth for all version references
const Version = "1.0.0"

// SchemaVersion is the run-record schema version stamped on every
// persisted record. Bump the minor for additive changes and the major
// for breaking ones.
const SchemaVersion = "1.2.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}
