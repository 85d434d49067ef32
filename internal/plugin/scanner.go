package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Directories scanned inside a plugin.
const (
	ModulesDir = "modules"
	StylesDir  = "styles"
)

// Scanner builds descriptors from plugin directories.
//
// Every sub-directory of a search path is a plugin named after the
// directory. When the same name appears in several search paths the first
// path wins. A search path that cannot be read contributes the plugins of
// its last successful scan.
type Scanner struct {
	paths  []string
	logger *slog.Logger

	mu   sync.Mutex
	last map[string][]*Descriptor // search path -> last scan
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScanLogger sets the logger used for skipped plugins.
func WithScanLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScanner creates a scanner over the given search paths.
func NewScanner(paths []string, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		paths:  slices.Clone(paths),
		logger: slog.Default(),
		last:   make(map[string][]*Descriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "plugin-scanner")
	return s
}

// Paths returns the search paths.
func (s *Scanner) Paths() []string {
	return slices.Clone(s.paths)
}

// Plugins scans every search path and returns the discovered descriptors
// sorted by name. Missing search paths are skipped. Plugins whose
// descriptor cannot be read are skipped with a warning. Unreadable search
// paths are reported in the error and keep their previous plugins.
func (s *Scanner) Plugins() ([]*Descriptor, error) {
	found := make(map[string]*Descriptor)
	var errs []error

	for _, base := range s.paths {
		ds, err := s.scanPath(base)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", base, err))
			ds = s.previous(base)
			s.logger.Warn("plugins directory unreadable, keeping previous plugins",
				"path", base, "plugins", len(ds), "error", err)
		} else {
			s.remember(base, ds)
		}
		for _, d := range ds {
			if _, exists := found[d.Name()]; !exists {
				found[d.Name()] = d
			}
		}
	}

	out := make([]*Descriptor, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Descriptor) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return out, errors.Join(errs...)
}

func (s *Scanner) remember(base string, ds []*Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[base] = ds
}

func (s *Scanner) previous(base string) []*Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.last[base]
	out := make([]*Descriptor, len(prev))
	for i, d := range prev {
		out[i] = d.Clone()
	}
	return out
}

// scanPath returns the plugins below base.
func (s *Scanner) scanPath(base string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("plugins directory not found", "path", base)
			return nil, nil
		}
		return nil, err
	}

	var out []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		d, err := s.ScanPlugin(name, filepath.Join(base, name))
		if err != nil {
			s.logger.Warn("skipping plugin", "plugin", name, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ScanPlugin builds the descriptor for the plugin directory dir. A
// directory without a descriptor file yields an enabled root plugin.
func (s *Scanner) ScanPlugin(name, dir string) (*Descriptor, error) {
	d, err := s.readDescriptor(name, dir)
	switch {
	case errors.Is(err, ErrNoDescriptor):
		d = NewDescriptor(name, true)
		if err := d.Validate(); err != nil {
			return nil, &DescriptorError{Plugin: name, Err: err}
		}
	case err != nil:
		return nil, err
	}

	modules, err := walkFiles(filepath.Join(dir, ModulesDir), ".js")
	if err != nil {
		return nil, &DescriptorError{Plugin: name, Path: dir, Err: err}
	}
	for _, m := range modules {
		d.AddModule(strings.TrimSuffix(m, path.Ext(m)))
	}

	styles, err := walkFiles(filepath.Join(dir, StylesDir), ".css")
	if err != nil {
		return nil, &DescriptorError{Plugin: name, Path: dir, Err: err}
	}
	for _, st := range styles {
		d.AddStylesheet(path.Join(StylesDir, st))
	}

	return d, nil
}

func (s *Scanner) readDescriptor(name, dir string) (*Descriptor, error) {
	for _, file := range DescriptorFiles(name) {
		p := filepath.Join(dir, file)
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		return LoadDescriptor(name, p)
	}
	return nil, ErrNoDescriptor
}

// walkFiles returns the slash-separated paths, relative to root, of the
// files below root with the given extension, sorted. A missing root
// yields no files.
func walkFiles(root, ext string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(p), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
