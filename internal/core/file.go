package core

import (
	"sort"
	"time"
)

// FileResource is an uploaded document that steps may reference by name.
type FileResource struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// FileCatalog answers whether a file currently exists.
type FileCatalog interface {
	HasFile(name string) bool
}

// FileSet is an in-memory FileCatalog snapshot.
type FileSet map[string]struct{}

// NewFileSet builds a FileSet from names.
func NewFileSet(names ...string) FileSet {
	fs := make(FileSet, len(names))
	for _, n := range names {
		fs[n] = struct{}{}
	}
	return fs
}

// FileSetOf builds a FileSet from file resources.
func FileSetOf(files []FileResource) FileSet {
	fs := make(FileSet, len(files))
	for _, f := range files {
		fs[f.Name] = struct{}{}
	}
	return fs
}

// HasFile implements FileCatalog.
func (fs FileSet) HasFile(name string) bool {
	_, ok := fs[name]
	return ok
}

// Names returns the file names in sorted order.
func (fs FileSet) Names() []string {
	names := make([]string, 0, len(fs))
	for n := range fs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
