// Package clip copies run output to the clipboard for `promptflow run --copy`.
package clip

import (
	"errors"
	"fmt"
	"io"
	"os"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"
)

// Method is the mechanism that made the text copyable.
type Method string

const (
	MethodNative Method = "native" // OS clipboard
	MethodOSC52  Method = "osc52"  // terminal escape sequence
	MethodFile   Method = "file"   // temp file, clipboard unavailable
)

// Result reports how the text was copied.
type Result struct {
	Method   Method
	FilePath string // set when Method == MethodFile
}

// osc52LimitBytes caps the payload; terminals drop oversized sequences.
const osc52LimitBytes = 100_000

// Copier tries the native clipboard, then OSC52, then a temp file.
type Copier struct {
	native   func(string) error
	terminal io.Writer
	isTTY    func() bool
	getenv   func(string) string
	tempDir  string
}

// Option configures a Copier.
type Option func(*Copier)

// WithNative replaces the native clipboard writer.
func WithNative(fn func(string) error) Option {
	return func(c *Copier) { c.native = fn }
}

// WithTerminal sets where OSC52 sequences go and whether it is a TTY.
func WithTerminal(w io.Writer, isTTY bool) Option {
	return func(c *Copier) {
		c.terminal = w
		c.isTTY = func() bool { return isTTY }
	}
}

// WithTempDir sets the directory for the file fallback.
func WithTempDir(dir string) Option {
	return func(c *Copier) { c.tempDir = dir }
}

// New returns a Copier writing OSC52 to stderr.
func New(opts ...Option) *Copier {
	c := &Copier{
		native:   atotto.WriteAll,
		terminal: os.Stderr,
		isTTY:    func() bool { return term.IsTerminal(int(os.Stderr.Fd())) },
		getenv:   os.Getenv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WriteAll copies text with the default Copier.
func WriteAll(text string) (Result, error) {
	return New().Copy(text)
}

// Copy makes text available, reporting the method used.
func (c *Copier) Copy(text string) (Result, error) {
	if err := c.native(text); err == nil {
		return Result{Method: MethodNative}, nil
	}
	if err := c.writeOSC52(text); err == nil {
		return Result{Method: MethodOSC52}, nil
	}
	path, err := c.writeTempFile(text)
	if err != nil {
		return Result{}, fmt.Errorf("no clipboard available: %w", err)
	}
	return Result{Method: MethodFile, FilePath: path}, nil
}

func (c *Copier) writeOSC52(text string) error {
	if text == "" {
		return errors.New("empty clipboard text")
	}
	if !c.isTTY() {
		return errors.New("not a terminal")
	}
	if len(text) > osc52LimitBytes {
		return fmt.Errorf("text too large for OSC52 (%d bytes > %d)", len(text), osc52LimitBytes)
	}

	seq := osc52.New(text).Limit(osc52LimitBytes)
	if c.getenv("TMUX") != "" {
		seq = seq.Tmux()
	} else if c.getenv("STY") != "" {
		seq = seq.Screen()
	}
	_, err := seq.WriteTo(c.terminal)
	return err
}

func (c *Copier) writeTempFile(text string) (path string, err error) {
	f, err := os.CreateTemp(c.tempDir, "promptflow-output-*.txt")
	if err != nil {
		return "", err
	}
	path = f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if _, err = f.WriteString(text); err != nil {
		_ = f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
