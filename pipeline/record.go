package pipeline

import (
	"path/filepath"
	"strings"
)

// Kind tags a discovered file as a template or a stylesheet.
type Kind string

const (
	// KindTemplate is a locale-dependent document source (*.j2).
	KindTemplate Kind = "template"
	// KindStyle is a locale-independent stylesheet (*.css).
	KindStyle Kind = "style"
)

// FileRecord is one discovered local artifact flowing through the
// pipeline. Records are copied, never mutated in place, as they move
// through fan-out and translation.
type FileRecord struct {
	// Content is the file's text, read fully at discovery time.
	Content string
	// Path is the filesystem path as matched by the glob.
	Path string
	// LogicalName is the basename without extension; it identifies the
	// remote template.
	LogicalName string
	// Kind is Template or Style.
	Kind Kind
	// Locale is empty for styles, and for templates before fan-out.
	Locale string
}

// logicalName strips the directory and extension from a path.
func logicalName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
