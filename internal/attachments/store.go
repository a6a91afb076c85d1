// Package attachments stores uploaded documents that workflow steps can
// reference by name.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/fsutil"
)

const (
	// MaxAttachmentSizeBytes limits each uploaded file.
	MaxAttachmentSizeBytes = 50 * 1024 * 1024 // 50MB

	maxNameLen = 200
)

// Store keeps files in a single flat directory. File names are unique and
// are the handle steps use in file markers.
type Store struct {
	baseDir string
	maxSize int64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize overrides the per-file size limit.
func WithMaxSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string, opts ...Option) *Store {
	s := &Store{baseDir: baseDir, maxSize: MaxAttachmentSizeBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseDir returns the directory holding the files.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// EnsureBaseDir creates the directory if needed.
func (s *Store) EnsureBaseDir() error {
	return os.MkdirAll(s.baseDir, 0o750)
}

// List returns the stored files sorted by name. A missing directory is
// an empty store.
func (s *Store) List(ctx context.Context) ([]core.FileResource, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []core.FileResource{}, nil
		}
		return nil, fmt.Errorf("reading files dir: %w", err)
	}

	out := make([]core.FileResource, 0, len(entries))
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, s.resource(ent.Name(), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) resource(name string, info fs.FileInfo) core.FileResource {
	return core.FileResource{
		Name:        name,
		Path:        filepath.Join(s.baseDir, name),
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		UploadedAt:  info.ModTime(),
	}
}

// HasFile implements core.FileCatalog.
func (s *Store) HasFile(name string) bool {
	if _, err := validateName(name); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.baseDir, name))
	return err == nil && info.Mode().IsRegular()
}

// Upload stores r under a sanitized form of name. Existing files are never
// overwritten.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader) (*core.FileResource, error) {
	safeName := SanitizeFilename(name)
	if _, err := validateName(safeName); err != nil {
		return nil, err
	}
	if err := s.EnsureBaseDir(); err != nil {
		return nil, fmt.Errorf("ensuring files dir: %w", err)
	}

	root, err := os.OpenRoot(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("opening files root: %w", err)
	}
	defer func() { _ = root.Close() }()

	f, err := root.OpenFile(safeName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, core.ErrConflict(core.CodeFileExists, "file already exists: "+safeName).
				WithDetail("name", safeName)
		}
		return nil, fmt.Errorf("creating file: %w", err)
	}

	size, contentType, err := s.copyLimited(ctx, f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = root.Remove(safeName)
		return nil, err
	}

	info, err := root.Stat(safeName)
	if err != nil {
		return nil, fmt.Errorf("stat uploaded file: %w", err)
	}
	res := s.resource(safeName, info)
	res.Size = size
	if res.ContentType == "" {
		res.ContentType = contentType
	}
	return &res, nil
}

// copyLimited writes r to w and enforces the size limit. The content type
// is sniffed from the first 512 bytes.
func (s *Store) copyLimited(ctx context.Context, w io.Writer, r io.Reader) (int64, string, error) {
	var sniffBuf [512]byte
	n, err := io.ReadFull(r, sniffBuf[:])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, "", fmt.Errorf("reading upload: %w", err)
	}
	if int64(n) > s.maxSize {
		return 0, "", s.errTooLarge()
	}
	if _, err := w.Write(sniffBuf[:n]); err != nil {
		return 0, "", fmt.Errorf("writing file header: %w", err)
	}
	contentType := http.DetectContentType(sniffBuf[:n])

	remaining := s.maxSize - int64(n)
	written, err := io.Copy(w, io.LimitReader(&ctxReader{ctx: ctx, r: r}, remaining+1))
	if err != nil {
		return 0, "", fmt.Errorf("writing file: %w", err)
	}
	if written > remaining {
		return 0, "", s.errTooLarge()
	}
	return int64(n) + written, contentType, nil
}

func (s *Store) errTooLarge() error {
	return core.ErrValidation(core.CodeFileTooLarge,
		fmt.Sprintf("file too large (max %d bytes)", s.maxSize))
}

// Delete removes a file. Steps referencing it are left dangling.
func (s *Store) Delete(_ context.Context, name string) error {
	if _, err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errFileNotFound(name)
		}
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// ReadContent returns the text substituted for a file marker. PDF files
// yield their extracted text; anything else is read as UTF-8.
func (s *Store) ReadContent(ctx context.Context, name string) (string, error) {
	if _, err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.baseDir, name)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", errFileNotFound(name)
	}

	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return extractPDFText(path)
	}
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// SanitizeFilename reduces an uploaded name to a single safe path element
// that can follow a file marker: directories are stripped and whitespace
// becomes underscores.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
		name = strings.ToValidUTF8(name, "")
	}
	return name
}

// validateName rejects names that are not a single usable path element.
func validateName(name string) (string, error) {
	switch {
	case name == "" || name == "." || name == "..":
	case strings.ContainsAny(name, `/\`+"\x00"):
	case strings.HasPrefix(name, "."):
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
	default:
		return name, nil
	}
	return "", core.ErrValidation(core.CodeInvalidFileName, fmt.Sprintf("invalid file name %q", name))
}

func errFileNotFound(name string) *core.DomainError {
	err := core.ErrNotFound("file", name)
	err.Code = core.CodeFileNotFound
	return err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ core.FileStore = (*Store)(nil)
var _ core.FileCatalog = (*Store)(nil)
