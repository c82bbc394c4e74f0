// Package eventstore provides the version information for eventstore.
package eventstore

// Version is the current version of eventstore.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
