package edf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/logging"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metadata"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

var (
	// ErrWrite wraps failures to create or append to a data file.
	ErrWrite = errors.New("write error")
	// ErrSchemaMismatch is returned when a sample does not fit the file schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

const (
	// Version is written to the EdfVersion header field.
	Version = "4.0"

	timestampLayout = "2006-01-02_15-04-05"
)

// Writer creates data files.
type Writer struct {
	Dir       string
	Extension string
	AppInfo   string
	Precision int

	log logrus.FieldLogger
}

// NewWriter creates a writer from output configuration.
func NewWriter(cfg config.OutputConfig, log logrus.FieldLogger) *Writer {
	return &Writer{
		Dir:       cfg.Dir,
		Extension: cfg.Extension,
		AppInfo:   cfg.AppInfo,
		Precision: cfg.Precision,
		log:       logging.OrDiscard(log),
	}
}

// FileName returns the file name for a session started at now, with the
// label appended when not empty.
func (w *Writer) FileName(label string, now time.Time) string {
	ext := strings.TrimPrefix(w.Extension, ".")
	if ext == "" {
		ext = "edf"
	}
	name := now.Format(timestampLayout)
	if label = cleanLabel(label); label != "" {
		name += "_" + label
	}
	return name + "." + ext
}

// cleanLabel replaces characters that are not allowed in file names, path
// separators included, so the label never adds a directory level.
func cleanLabel(label string) string {
	label = strings.Map(func(r rune) rune {
		switch {
		case r < ' ', strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, label)
	return strings.Trim(label, ". ")
}

// Begin opens the data file for a session. A new file gets the header block
// and the column line; an existing file is opened for append as is.
// extra fields are written to the header after the user fields.
func (w *Writer) Begin(header *metadata.Header, channels []channel.Channel, now time.Time, extra ...metadata.Field) (*File, error) {
	if header == nil {
		header = &metadata.Header{}
	}
	if _, ok := header.Get(metadata.KeyAppInfo); !ok && w.AppInfo != "" {
		header = header.With(metadata.KeyAppInfo, w.AppInfo)
	}

	schema := NewSchema(channels, w.Precision)
	path := filepath.Join(w.Dir, w.FileName(header.Label(), now))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_EXCL, 0644)
	switch {
	case err == nil:
		if _, err := f.WriteString(headerBlock(header, schema, now, extra)); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: write header to %s: %v", ErrWrite, path, err)
		}
		w.log.WithField("file", path).Info("data file created")
	case errors.Is(err, os.ErrExist):
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrWrite, path, err)
		}
		w.log.WithField("file", path).Info("appending to existing data file")
	default:
		return nil, fmt.Errorf("%w: create %s: %v", ErrWrite, path, err)
	}

	return &File{f: f, path: path, schema: schema}, nil
}

func headerBlock(header *metadata.Header, schema Schema, now time.Time, extra []metadata.Field) string {
	var b strings.Builder
	line := func(key, value string) {
		fmt.Fprintf(&b, "# %s=%s\n", key, value)
	}

	line("EdfVersion", Version)
	line("Date", now.UTC().Format(time.RFC3339Nano))
	line("SessionId", uuid.NewString())
	for _, f := range header.Fields {
		line(f.Key, f.Value)
	}
	for _, s := range header.Sections {
		for _, f := range s.Fields {
			line(s.Name+"."+f.Key, f.Value)
		}
	}
	for _, f := range extra {
		line(f.Key, f.Value)
	}
	b.WriteString(schema.header())
	return b.String()
}

// File is an open data file. Rows are appended one per tick.
type File struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	schema Schema
}

// Append writes smp as one row.
func (f *File) Append(smp sample.Sample) error {
	row, err := f.schema.Row(smp)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, f.path, os.ErrClosed)
	}
	if _, err := f.f.WriteString(row); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, f.path, err)
	}
	return nil
}

// Close closes the file. Closing twice is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWrite, f.path, err)
	}
	return nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Schema returns the file schema.
func (f *File) Schema() Schema {
	return f.schema
}
