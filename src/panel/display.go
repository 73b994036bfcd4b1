package panel

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/multierr"
)

// Display is where the panel renders its state.
type Display interface {
	ShowImage(uri string) error
	// ShowAnalysis receives sanitized HTML.
	ShowAnalysis(html string) error
	// ShowError receives plain text.
	ShowError(text string) error
	ClearResult() error
}

var textPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from sanitized analysis HTML.
func PlainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// MemoryDisplay keeps the last rendered state.
type MemoryDisplay struct {
	mu          sync.Mutex
	image       string
	result      string
	resultIsErr bool
}

type Snapshot struct {
	Image       string
	Result      string
	ResultIsErr bool
}

func NewMemoryDisplay() *MemoryDisplay { return &MemoryDisplay{image: PlaceholderImage} }

func (d *MemoryDisplay) ShowImage(uri string) error {
	d.mu.Lock()
	d.image = uri
	d.mu.Unlock()
	return nil
}

func (d *MemoryDisplay) ShowAnalysis(html string) error {
	d.mu.Lock()
	d.result, d.resultIsErr = html, false
	d.mu.Unlock()
	return nil
}

func (d *MemoryDisplay) ShowError(text string) error {
	d.mu.Lock()
	d.result, d.resultIsErr = text, true
	d.mu.Unlock()
	return nil
}

func (d *MemoryDisplay) ClearResult() error {
	d.mu.Lock()
	d.result, d.resultIsErr = "", false
	d.mu.Unlock()
	return nil
}

func (d *MemoryDisplay) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{Image: d.image, Result: d.result, ResultIsErr: d.resultIsErr}
}

// WriterDisplay prints results as plain text.
type WriterDisplay struct {
	mu sync.Mutex
	w  io.Writer
	// Verbose also prints image notifications.
	Verbose bool
}

func NewWriterDisplay(w io.Writer) *WriterDisplay { return &WriterDisplay{w: w} }

func (d *WriterDisplay) ShowImage(uri string) error {
	if !d.Verbose {
		return nil
	}
	return d.printf("captured image (%d bytes encoded)\n", len(uri))
}

func (d *WriterDisplay) ShowAnalysis(s string) error { return d.printf("%s\n", PlainText(s)) }

func (d *WriterDisplay) ShowError(text string) error { return d.printf("%s\n", text) }

func (d *WriterDisplay) ClearResult() error { return nil }

func (d *WriterDisplay) printf(format string, args ...interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(d.w, format, args...)
	return err
}

// ClipboardDisplay copies each analysis to the clipboard as plain text.
type ClipboardDisplay struct {
	write func(string) error
}

func NewClipboardDisplay(write func(string) error) *ClipboardDisplay {
	return &ClipboardDisplay{write: write}
}

func (d *ClipboardDisplay) ShowImage(string) error { return nil }

func (d *ClipboardDisplay) ShowAnalysis(s string) error { return d.write(PlainText(s)) }

func (d *ClipboardDisplay) ShowError(string) error { return nil }

func (d *ClipboardDisplay) ClearResult() error { return nil }

// Displays fans every call out to each display.
type Displays []Display

func (ds Displays) ShowImage(uri string) error {
	return ds.each(func(d Display) error { return d.ShowImage(uri) })
}

func (ds Displays) ShowAnalysis(s string) error {
	return ds.each(func(d Display) error { return d.ShowAnalysis(s) })
}

func (ds Displays) ShowError(text string) error {
	return ds.each(func(d Display) error { return d.ShowError(text) })
}

func (ds Displays) ClearResult() error {
	return ds.each(func(d Display) error { return d.ClearResult() })
}

func (ds Displays) each(fn func(Display) error) error {
	var err error
	for _, d := range ds {
		err = multierr.Append(err, fn(d))
	}
	return err
}
