// Package masking redacts credentials and personal data from audit metadata
// before it is persisted.
package masking

import (
	"strings"
	"unicode"
)

const maskToken = "****"

// Key words that mark a value as sensitive. Keys are split on any non-letter,
// so "api_secret" and "refresh-token" both match.
var sensitiveWords = map[string]bool{
	"email":         true,
	"token":         true,
	"secret":        true,
	"password":      true,
	"authorization": true,
}

func MaskSecret(value string) string {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return ""
	case len(v) <= 4:
		return maskToken
	default:
		return maskToken + v[len(v)-4:]
	}
}

// MaskEmail keeps the first letter of the mailbox and the whole domain.
func MaskEmail(value string) string {
	v := strings.TrimSpace(value)
	at := strings.LastIndexByte(v, '@')
	if at <= 0 {
		return MaskSecret(v)
	}
	return v[:1] + maskToken + v[at:]
}

// MaskSensitive copies metadata with sensitive values redacted. Blank keys
// are dropped and an empty result is nil.
func MaskSensitive(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = mask(classify(key), value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type kind int

const (
	plain kind = iota
	secret
	email
)

func classify(key string) kind {
	words := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool { return !unicode.IsLetter(r) })
	k := plain
	for _, w := range words {
		if !sensitiveWords[w] {
			continue
		}
		if w == "email" {
			return email
		}
		k = secret
	}
	return k
}

func mask(k kind, value any) any {
	switch v := value.(type) {
	case string:
		switch k {
		case email:
			return MaskEmail(v)
		case secret:
			return MaskSecret(v)
		}
		return v
	case map[string]any:
		return MaskSensitive(v)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = mask(k, item)
		}
		return items
	case []string:
		items := make([]string, len(v))
		for i, item := range v {
			items[i], _ = mask(k, item).(string)
		}
		return items
	default:
		return value
	}
}
