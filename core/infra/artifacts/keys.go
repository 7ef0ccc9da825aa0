package artifacts

import (
	"math"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
)

var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// AllowedExtensions lists accepted file extensions in display order.
func AllowedExtensions() []string {
	return []string{".pdf", ".doc", ".docx", ".txt"}
}

// KeyParts is the decoded form of a storage key.
type KeyParts struct {
	PolicyID  string
	Millis    int64
	Extension string
}

// SanitizePolicyID keeps only ASCII letters, digits, underscore and hyphen.
func SanitizePolicyID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MakeKey builds "{policyID}_{millis}{ext}".
func MakeKey(policyID string, millis int64, ext string) string {
	return policyID + "_" + strconv.FormatInt(millis, 10) + ext
}

// ParseKey splits a key at its last underscore. Policy ids may contain
// underscores; the stamp after the last one must be all digits.
func ParseKey(key string) (KeyParts, bool) {
	ext := filepath.Ext(key)
	stem := strings.TrimSuffix(key, ext)
	idx := strings.LastIndex(stem, "_")
	if idx <= 0 || idx == len(stem)-1 {
		return KeyParts{}, false
	}
	stamp := stem[idx+1:]
	for i := 0; i < len(stamp); i++ {
		if stamp[i] < '0' || stamp[i] > '9' {
			return KeyParts{}, false
		}
	}
	millis, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return KeyParts{}, false
	}
	return KeyParts{PolicyID: stem[:idx], Millis: millis, Extension: strings.ToLower(ext)}, true
}

// ExtensionOf returns the lower-cased extension of a client file name.
func ExtensionOf(name string) string {
	return strings.ToLower(filepath.Ext(filepath.Base(strings.ReplaceAll(name, "\\", "/"))))
}

// IsAllowedExtension reports whether ext (any case) is an accepted upload type.
func IsAllowedExtension(ext string) bool {
	_, ok := allowedTypes[strings.ToLower(ext)]
	return ok
}

// MimeForExtension returns the content type served for a stored extension.
func MimeForExtension(ext string) string {
	if mt, ok := allowedTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// TypeMatches reports whether a client file name and declared content type are
// both accepted and describe the same format. Content type parameters are ignored.
func TypeMatches(sourceName, contentType string) bool {
	want, ok := allowedTypes[ExtensionOf(sourceName)]
	if !ok {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == want
}

// SizeMB converts bytes to mebibytes rounded to two decimals.
func SizeMB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}

func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	if strings.ContainsAny(key, "/\\\x00") {
		return false
	}
	return !strings.HasPrefix(key, ".")
}
