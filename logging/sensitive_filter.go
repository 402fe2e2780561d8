package logging

import (
	"regexp"
	"strconv"
	"strings"
)

// RedactedPlaceholder replaces sensitive values in log output.
const RedactedPlaceholder = "[REDACTED]"

// MaxInlineValue is the longest string value logged verbatim. Longer values
// under a blob key (result content, init images) are replaced by their size.
const MaxInlineValue = 512

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._~+/=-]{8,})`),
	regexp.MustCompile(`(?i)(authorization\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_?key\s*[:=]\s*[^\s,;]{8,})`),
}

// Field keys whose values are always redacted, matched case-insensitively
// as substrings.
var sensitiveKeys = []string{
	"GENERATOR_TOKEN",
	"AUTHORIZATION",
	"TOKEN",
	"SECRET",
	"PASSWORD",
	"API_KEY",
	"APIKEY",
}

// Field keys carrying base64 image data.
var blobKeys = []string{
	"content",
	"init_image",
	"image",
	"images",
}

// RedactSensitiveData replaces credential-looking substrings in value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field named fieldName must be redacted.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, key := range sensitiveKeys {
		if strings.Contains(upper, key) {
			return true
		}
	}
	return false
}

// IsBlobField reports whether fieldName holds image data.
func IsBlobField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, key := range blobKeys {
		if lower == key || strings.HasSuffix(lower, "_"+key) {
			return true
		}
	}
	return false
}

// RedactField returns the value that may be logged for the given field.
func RedactField(fieldName, fieldValue string) string {
	if IsSensitiveField(fieldName) {
		return RedactedPlaceholder
	}
	if IsBlobField(fieldName) && len(fieldValue) > MaxInlineValue {
		return elided(len(fieldValue))
	}
	return RedactSensitiveData(fieldValue)
}

// ContainsSensitiveData reports whether value matches a credential pattern.
func ContainsSensitiveData(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func elided(n int) string {
	return "[" + strconv.Itoa(n) + " bytes]"
}
