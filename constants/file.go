package constants

import "strings"

// MailDropExtensions holds the file extensions picked up from the mail drop directory.
var MailDropExtensions = map[string]struct{}{
	"eml": {},
}

// Suffixes appended to mail drop files once they have been handled.
const (
	MailDropDoneSuffix     = ".done"
	MailDropRejectedSuffix = ".rejected"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsMailDropFile reports whether path carries an allowed mail drop extension.
func IsMailDropFile(path string) bool {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return false
	}
	_, ok := MailDropExtensions[NormalizeExt(path[i:])]
	return ok
}
