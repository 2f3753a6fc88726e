package i18n

import "testing"

func clearLocaleEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LANGUAGE", "")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "")
}

func TestDetectLanguagePriorityAndNormalization(t *testing.T) {
	t.Run("LANGUAGE has highest priority", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANGUAGE", "de_DE.UTF-8:en_US")
		t.Setenv("LC_ALL", "fr_FR.UTF-8")

		if got := detectLanguage(); got != "de_DE" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "de_DE")
		}
	})

	t.Run("C and POSIX are skipped", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANGUAGE", "C")
		t.Setenv("LC_ALL", "POSIX")
		t.Setenv("LC_MESSAGES", "fr_FR.UTF-8")

		if got := detectLanguage(); got != "fr_FR" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "fr_FR")
		}
	})

	t.Run("LANG is the last variable consulted", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANG", "es_ES.UTF-8")

		if got := detectLanguage(); got != "es_ES" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "es_ES")
		}
	})

	t.Run("falls back to en", func(t *testing.T) {
		clearLocaleEnv(t)
		if got := detectLanguage(); got != "en" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "en")
		}
	})
}

func TestTAndNFallbackWhenUninitialized(t *testing.T) {
	old := po
	po = nil
	t.Cleanup(func() { po = old })

	if got := T("Hello"); got != "Hello" {
		t.Fatalf("T fallback = %q, want %q", got, "Hello")
	}

	if got := N("upload", "uploads", 1); got != "upload" {
		t.Fatalf("N singular fallback = %q, want %q", got, "upload")
	}

	if got := N("upload", "uploads", 2); got != "uploads" {
		t.Fatalf("N plural fallback = %q, want %q", got, "uploads")
	}
}

func TestInitLoadsEmbeddedGermanCatalog(t *testing.T) {
	old := po
	t.Cleanup(func() { po = old })

	Init("de")

	if got := T("No templates found"); got != "Keine Vorlagen gefunden" {
		t.Fatalf("T() = %q, want German translation", got)
	}

	// Untranslated strings pass through unchanged.
	if got := T("not a catalog entry"); got != "not a catalog entry" {
		t.Fatalf("T() = %q, want passthrough", got)
	}
}
