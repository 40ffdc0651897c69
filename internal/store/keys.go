package store

import (
	"fmt"
	"strings"

	"github.com/edvin/backupd/internal/model"
)

const keyPrefix = "backups"

// sanitizeID keeps only alphanumerics, dash and underscore. The source id
// was already validated at config load; re-sanitizing here is defense in
// depth against key injection.
func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}

// sanitizeFilename additionally allows dots.
func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, s)
}

// objectKey builds backups/<sourceID>/<compactTimestamp>_<filename>.
func objectKey(meta *model.Metadata) string {
	return fmt.Sprintf("%s/%s/%s_%s",
		keyPrefix,
		sanitizeID(meta.SourceID),
		meta.Timestamp.Format("20060102_150405"),
		sanitizeFilename(meta.Filename),
	)
}

// sourcePrefix is the listing prefix for one source's backups.
func sourcePrefix(sourceID string) string {
	return fmt.Sprintf("%s/%s/", keyPrefix, sanitizeID(sourceID))
}
