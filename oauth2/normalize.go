package oauth2

import (
	"encoding/json"
	"errors"
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var errMissingSubject = errors.New("profile has no subject id")

// Profile text comes from third parties and is stored as-is, so strip any
// markup before it reaches the user record.
var textPolicy = bluemonday.StrictPolicy()

const maxNameLength = 100

func cleanText(s string) string {
	s = strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
	if utf8.RuneCountInString(s) > maxNameLength {
		s = string([]rune(s)[:maxNameLength])
	}
	return s
}

// cleanURL keeps only absolute http(s) URLs.
func cleanURL(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return ""
	}
	return u.String()
}

// stringField reads key as a string, accepting JSON numbers for numeric ids.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// cleanEmail returns a normalized address, or "" if it does not look like one.
func cleanEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndexByte(s, '@')
	if at < 1 || at == len(s)-1 || strings.ContainsAny(s, " <>\"") {
		return ""
	}
	return s
}
