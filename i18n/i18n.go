// Package i18n localizes tplsync's own CLI messages.
//
// Catalogs are gettext .po files embedded under
// locales/<lang>/LC_MESSAGES/tplsync.po and served through gotext.
// main calls Init once at startup and wraps every user-facing string in
// T (or N for plural forms); an untranslated string passes through
// unchanged, so message catalogs can lag behind the code without
// breaking output.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "tplsync"

var po *gotext.Locale

// Init selects the message catalog for lang. An empty lang auto-detects
// from LANGUAGE, LC_ALL, LC_MESSAGES, and LANG, in that order.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// T translates msgid, returning it unchanged when no translation exists.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N picks the plural form of a message for n under the active
// language's plural rules.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage resolves the user's language the way GNU gettext does.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if val == "" {
			continue
		}
		// LANGUAGE is a colon-separated preference list.
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		// Drop the encoding suffix ("de_DE.UTF-8" -> "de_DE").
		val, _, _ = strings.Cut(val, ".")
		// C and POSIX disable translation.
		if val == "C" || val == "POSIX" || val == "" {
			continue
		}
		return val
	}
	return "en"
}
