// Package i18n picks the message printer used for command line output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language.
var DefaultLang = language.English

// SupportedLangs are the languages CLI output is formatted for.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported match for a POSIX locale such
// as "de_DE.UTF-8". "C", "POSIX" and unparsable values map to DefaultLang.
func MatchLanguage(locale string) language.Tag {
	locale = normalizeLocale(locale)
	if locale == "" {
		return DefaultLang
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return DefaultLang
	}
	match, _, _ := matcher.Match(tag)
	return match
}

func normalizeLocale(locale string) string {
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	switch locale {
	case "", "C", "POSIX":
		return ""
	}
	return strings.ReplaceAll(locale, "_", "-")
}

// Locale returns the locale from the environment using the POSIX
// precedence LC_ALL, LC_MESSAGES, LANG.
func Locale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// NewCLIPrinter returns a printer for the system's locale.
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(MatchLanguage(Locale()))
}
