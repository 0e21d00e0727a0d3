package attachment

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"workrecord/api/internal/search"
)

const (
	maxFileNameRunes = 100
	fallbackFileName = "file"
	OverviewFolder   = "overview"
)

// SanitizeFileName reduces an uploaded name to a single safe path segment.
// Directory parts are dropped, whitespace runs become "_", and anything other
// than letters, digits, '.', '-' and '_' is removed. Long names are cut to
// maxFileNameRunes keeping the extension.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	var b strings.Builder
	pendingSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r):
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
		default:
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return fallbackFileName
	}
	if utf8.RuneCountInString(out) > maxFileNameRunes {
		ext := path.Ext(out)
		if utf8.RuneCountInString(ext) >= maxFileNameRunes/2 {
			ext = ""
		}
		stem := []rune(strings.TrimSuffix(out, ext))
		out = string(stem[:maxFileNameRunes-utf8.RuneCountInString(ext)]) + ext
	}
	return out
}

// GenerateFileName prefixes the sanitized name with a millisecond timestamp.
func GenerateFileName(now time.Time, original string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), SanitizeFileName(original))
}

// StepFolder names the media folder for a step: "overview" for step 0,
// step_NN_<machine> when a machine type is given, legacy step_NN otherwise.
func StepFolder(stepNumber int, machineType string) (string, error) {
	if stepNumber < 0 {
		return "", fmt.Errorf("%w: stepNumber must not be negative", ErrBadRequest)
	}
	if stepNumber == 0 {
		return OverviewFolder, nil
	}
	if strings.TrimSpace(machineType) == "" {
		return fmt.Sprintf("step_%02d", stepNumber), nil
	}
	keys := search.NormalizeMachineTypes(machineType)
	if len(keys) != 1 {
		return "", fmt.Errorf("%w: machineType must name exactly one machine", ErrBadRequest)
	}
	return fmt.Sprintf("step_%02d_%s", stepNumber, keys[0]), nil
}

// listedName accepts any name that is a single path segment.
func listedName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return ErrUnsafePath
	}
	return nil
}

// cleanRelative validates a stored relative path and returns it slash-cleaned.
func cleanRelative(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	if rel == "" || strings.HasPrefix(rel, "/") || strings.ContainsRune(rel, 0) {
		return "", ErrUnsafePath
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", ErrUnsafePath
		}
	}
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return "", ErrUnsafePath
	}
	return cleaned, nil
}
