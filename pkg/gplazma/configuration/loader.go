package configuration

import (
	"fmt"
	"os"
)

// Loader produces the current list of configuration items.
//
// Load is called once at startup and again on every reload; each call must
// reflect the current source contents.
type Loader interface {
	Load() ([]ConfigurationItem, error)
}

// FileLoader reads the configuration from a file on every Load.
type FileLoader struct {
	Path string
}

// NewFileLoader creates a loader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

func (l *FileLoader) Load() ([]ConfigurationItem, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open login configuration: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// StaticLoader parses fixed in-memory text.
type StaticLoader struct {
	Text string
}

// NewStaticLoader creates a loader returning the items parsed from text.
func NewStaticLoader(text string) *StaticLoader {
	return &StaticLoader{Text: text}
}

func (l *StaticLoader) Load() ([]ConfigurationItem, error) {
	return ParseString(l.Text)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func() ([]ConfigurationItem, error)

func (f LoaderFunc) Load() ([]ConfigurationItem, error) { return f() }
