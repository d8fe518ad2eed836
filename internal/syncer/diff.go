package syncer

import (
	"regexp"

	"github.com/leaselab/image-sync/internal/models"
)

// Action is the diff decision for one source file
type Action int

const (
	ActionSkip Action = iota
	ActionSync
)

func (a Action) String() string {
	if a == ActionSkip {
		return "skip"
	}
	return "sync"
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with "_"
func SanitizeFilename(name string) string {
	return unsafeKeyChars.ReplaceAllString(name, "_")
}

// ObjectKey returns the destination key for a file of the given record
func ObjectKey(slug, name string) string {
	return slug + "/" + SanitizeFilename(name)
}

// Classify decides whether file must be transferred. dest is the current
// destination metadata, or nil when no object exists. Only metadata is
// compared; file content is never read here.
func Classify(file models.SourceFile, dest *models.ObjectMeta) Action {
	if file.ContentHash == "" {
		return ActionSync
	}
	if dest != nil && dest.ContentHash != "" && dest.ContentHash == file.ContentHash {
		return ActionSkip
	}
	return ActionSync
}
