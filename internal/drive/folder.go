package drive

import (
	"regexp"
	"strings"
)

var (
	folderURLPattern = regexp.MustCompile(`/folders/([A-Za-z0-9_-]+)`)
	bareIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)
	digitPattern     = regexp.MustCompile(`[0-9]`)
)

// ParseFolderID resolves a folder reference to a Drive folder id. It accepts
// a URL containing a /folders/{id} segment, or a bare id of at least ten
// characters from [A-Za-z0-9_-] that contains a digit. Anything else is
// unresolvable and yields ok == false.
//
// The digit requirement is stricter than a plain length rule on purpose:
// Drive ids always carry digits, while slugs like "not-a-folder" do not.
func ParseFolderID(ref string) (id string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if m := folderURLPattern.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	if bareIDPattern.MatchString(ref) && digitPattern.MatchString(ref) {
		return ref, true
	}
	return "", false
}
