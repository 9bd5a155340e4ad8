package patterns

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed default_patterns.yaml
var defaultPatterns []byte

// Format is a pattern file encoding
type Format string

// Supported formats
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat accepts "yaml", "yml" or "toml"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported pattern format: %s", s)
	}
}

// Default returns the embedded pattern library
func Default() (*Library, error) {
	return Decode(bytes.NewReader(defaultPatterns), FormatYAML)
}

// DefaultCompiled returns the embedded pattern library, compiled
func DefaultCompiled() (*Compiled, error) {
	lib, err := Default()
	if err != nil {
		return nil, err
	}
	return Compile(lib)
}

// Decode reads a library in the given format
func Decode(r io.Reader, format Format) (*Library, error) {
	lib := &Library{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(lib); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode yaml patterns: %w", err)
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(lib)
		if err != nil {
			return nil, fmt.Errorf("failed to decode toml patterns: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to decode toml patterns: unknown key %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unsupported pattern format: %s", format)
	}
	lib.Normalize()
	return lib, nil
}

// LoadFile reads a library, picking the format from the file extension
func LoadFile(path string) (*Library, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern file: %w", err)
	}
	defer f.Close()
	return Decode(f, format)
}

// Load compiles the library at path, or the embedded defaults when path is empty
func Load(path string) (*Compiled, error) {
	if path == "" {
		return DefaultCompiled()
	}
	lib, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(lib)
}

// Export writes the normalized library in the given format
func Export(w io.Writer, lib *Library, format Format) error {
	out := lib.Clone()
	out.Normalize()
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode yaml patterns: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(out); err != nil {
			return fmt.Errorf("failed to encode toml patterns: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported pattern format: %s", format)
	}
}

// Holder publishes the current compiled library to concurrent readers
type Holder struct {
	current atomic.Pointer[Compiled]
	path    string
	logger  *zap.Logger
}

// NewHolder creates a holder serving c, reloadable from path
func NewHolder(c *Compiled, path string, logger *zap.Logger) *Holder {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Holder{path: path, logger: logger}
	h.current.Store(c)
	return h
}

// Current returns the library in use
func (h *Holder) Current() *Compiled {
	return h.current.Load()
}

// Swap replaces the library in use
func (h *Holder) Swap(c *Compiled) {
	h.current.Store(c)
}

// Reload recompiles the backing file and swaps it in. A malformed file
// leaves the current library untouched.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	c, err := Load(h.path)
	if err != nil {
		return err
	}
	h.Swap(c)
	h.logger.Info("Reloaded pattern library",
		zap.String("path", h.path),
		zap.String("version", c.Version))
	return nil
}

// WatchFile polls the backing file's modification time and reloads on change
// until ctx is done.
func (h *Holder) WatchFile(ctx context.Context, interval time.Duration) {
	if h.path == "" || interval <= 0 {
		return
	}
	var lastMod time.Time
	if info, err := os.Stat(h.path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(h.path)
			if err != nil {
				h.logger.Warn("Failed to stat pattern file", zap.String("path", h.path), zap.Error(err))
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			if err := h.Reload(); err != nil {
				h.logger.Error("Failed to reload pattern library, keeping previous version",
					zap.String("path", h.path), zap.Error(err))
			}
		}
	}
}
