// Package translations resolves placeholder tokens in template content
// to localized strings.
//
// Tokens are spelled [[[key]]]: three opening brackets, a key with no
// whitespace, three closing brackets. A key starting with '#' is looked
// up in the shared "common" namespace (marker stripped); any other key
// is looked up in the document namespace, named after the source file's
// basename with the extension removed.
//
// Dictionaries live next to the source file as translations-<locale>.json:
//
//	{
//	    "common": { "greeting": "Hola" },
//	    "invoice": { "title": "Factura" }
//	}
//
// A dictionary is loaded once per (directory, locale) pair per process
// and reused for every subsequent resolution, including resolutions
// that only switch the locale for an already-seen directory. A missing
// or malformed dictionary makes resolution a no-op: the text is
// returned unchanged and a warning is emitted, never an error.
package translations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// CommonNamespace is the shared dictionary partition for keys marked
// with the '#' prefix.
const CommonNamespace = "common"

// commonMarker introduces a common-namespace key inside a token.
const commonMarker = "#"

// tokenPattern matches [[[key]]] placeholder tokens; the key carries no
// whitespace.
var tokenPattern = regexp.MustCompile(`\[{3}(\S*?)\]{3}`)

// DictionaryPath returns the dictionary file path for a source file's
// directory and a locale.
func DictionaryPath(dir, locale string) string {
	return filepath.Join(dir, "translations-"+locale+".json")
}

// LogicalName returns the basename of a path with its extension
// stripped; it names both the remote entity and the document namespace.
func LogicalName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ---------------------------------------------------------------------------
// Dictionary
// ---------------------------------------------------------------------------

// Dictionary is one loaded locale dictionary: namespace -> key -> text.
type Dictionary struct {
	locale     string
	namespaces map[string]map[string]string
}

// Locale returns the locale this dictionary was loaded for.
func (d *Dictionary) Locale() string {
	return d.locale
}

// Lookup resolves a key within a namespace.
func (d *Dictionary) Lookup(namespace, key string) (string, bool) {
	ns, ok := d.namespaces[namespace]
	if !ok {
		return "", false
	}
	val, ok := ns[key]
	return val, ok
}

// loadDictionary reads and parses a dictionary file.
func loadDictionary(path, locale string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var namespaces map[string]map[string]string
	if err := json.Unmarshal(data, &namespaces); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &Dictionary{locale: locale, namespaces: namespaces}, nil
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// dictEntry caches one load attempt; failed loads are cached too so a
// broken pair is not re-read on every record.
type dictEntry struct {
	dict *Dictionary
	err  error
}

// Resolver substitutes placeholder tokens with localized strings,
// caching dictionaries across calls. Safe for concurrent use: distinct
// (directory, locale) pairs resolve independently, and two resolutions
// racing on the same pair settle last-writer-wins without corruption.
type Resolver struct {
	mu    sync.Mutex
	dicts map[string]*dictEntry

	// OnWarn is called when a dictionary cannot be loaded and
	// resolution degrades to a pass-through. Optional.
	OnWarn func(format string, args ...any)
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{dicts: make(map[string]*dictEntry)}
}

func (r *Resolver) warn(format string, args ...any) {
	if r.OnWarn != nil {
		r.OnWarn(format, args...)
	}
}

// dictionary returns the cached dictionary for (dir, locale), loading
// it on first use.
func (r *Resolver) dictionary(dir, locale string) (*Dictionary, error) {
	key := dir + "\x00" + locale

	r.mu.Lock()
	entry, ok := r.dicts[key]
	r.mu.Unlock()
	if ok {
		return entry.dict, entry.err
	}

	// Load outside the lock; a same-key race loads twice and the last
	// writer wins, which is harmless for identical file contents.
	dict, err := loadDictionary(DictionaryPath(dir, locale), locale)

	r.mu.Lock()
	r.dicts[key] = &dictEntry{dict: dict, err: err}
	r.mu.Unlock()

	return dict, err
}

// Resolve replaces every placeholder token in text with its localized
// string for locale, deriving the document namespace from sourcePath.
// If the dictionary cannot be loaded the text is returned unchanged.
//
// A key present in neither namespace resolves to its lookup path
// ("common.key" or "<document>.key"), so unresolved keys are visible in
// the output and re-resolving resolved text is a no-op.
func (r *Resolver) Resolve(text, sourcePath, locale string) string {
	dir := filepath.Dir(filepath.Clean(sourcePath))
	docNamespace := LogicalName(sourcePath)

	dict, err := r.dictionary(dir, locale)
	if err != nil {
		r.warn("failed to load translations for %s (%s) - skipping: %v", sourcePath, locale, err)
		return text
	}

	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		key := tokenPattern.FindStringSubmatch(token)[1]

		namespace := docNamespace
		if strings.HasPrefix(key, commonMarker) {
			namespace = CommonNamespace
			key = strings.TrimPrefix(key, commonMarker)
		}

		if val, ok := dict.Lookup(namespace, key); ok {
			return val
		}
		return namespace + "." + key
	})
}
