package position

import "strings"

const (
	// ArchiveScheme is the scheme engines use for files inside archives,
	// e.g. jar:file:///lib/foo-sources.jar!/com/foo/Bar.java.
	ArchiveScheme = "jar:"
	// MemberScheme is the normalized scheme handed to editors,
	// e.g. zipfile:///lib/foo-sources.jar::com/foo/Bar.java.
	MemberScheme = "zipfile:"

	archiveSeparator = "!/"
	memberSeparator  = "::"
)

// NormalizeArchiveURI rewrites an archive URL into the archive member form.
// Any other URL is returned unchanged.
func NormalizeArchiveURI(url string) string {
	if !strings.HasPrefix(url, ArchiveScheme) {
		return url
	}
	rest := strings.TrimPrefix(url, ArchiveScheme)
	rest = strings.Replace(rest, archiveSeparator, memberSeparator, 1)
	if strings.HasPrefix(rest, "file:") {
		rest = strings.TrimPrefix(rest, "file:")
	}
	return MemberScheme + rest
}

// ArchiveURL builds the engine-side URL of member inside the archive at
// archiveURI.
func ArchiveURL(archiveURI, member string) string {
	return ArchiveScheme + archiveURI + archiveSeparator + strings.TrimPrefix(member, "/")
}

// SplitArchiveURL splits both archive URL forms into the archive URI and the
// member path. ok is false for URLs that do not point into an archive.
func SplitArchiveURL(url string) (archiveURI string, member string, ok bool) {
	switch {
	case strings.HasPrefix(url, ArchiveScheme):
		rest := strings.TrimPrefix(url, ArchiveScheme)
		idx := strings.Index(rest, archiveSeparator)
		if idx < 0 {
			return "", "", false
		}
		return rest[:idx], rest[idx+len(archiveSeparator):], true
	case strings.HasPrefix(url, MemberScheme):
		rest := strings.TrimPrefix(url, MemberScheme)
		idx := strings.Index(rest, memberSeparator)
		if idx < 0 {
			return "", "", false
		}
		return "file:" + rest[:idx], rest[idx+len(memberSeparator):], true
	}
	return "", "", false
}
