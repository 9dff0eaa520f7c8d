package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
)

// Archive layout.
const (
	DataFile       = "data.json"
	AttachmentsDir = "attachments/"
)

// MaxEntrySize bounds any single decompressed archive entry.
const MaxEntrySize = 64 << 20

// Archive is a decoded zip bundle.
type Archive struct {
	Bundle      *Bundle
	Attachments map[string][]byte
}

var zipMagic = []byte("PK\x03\x04")

// Read decodes either a zip archive or a plain JSON bundle, telling them
// apart by the zip signature. A JSON bundle yields no attachment bytes.
func Read(data []byte) (*Archive, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return ReadArchive(bytes.NewReader(data), int64(len(data)))
	}
	b, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Archive{Bundle: b, Attachments: map[string][]byte{}}, nil
}

// ReadFile reads and decodes a bundle file of either format.
func ReadFile(name string) (*Archive, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("bundle: read %s: %w", name, err)
	}
	return Read(data)
}

// ReadArchive decodes a zip bundle. Every attachment referenced by the JSON
// body must be present; unreferenced entries are ignored.
func ReadArchive(ra io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("bundle: open archive: %v: %w", err, apperr.ErrInvalidBundle)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[path.Clean(f.Name)] = f
	}

	data, ok := entries[DataFile]
	if !ok {
		return nil, fmt.Errorf("bundle: archive has no %s: %w", DataFile, apperr.ErrInvalidBundle)
	}
	raw, err := readEntry(data)
	if err != nil {
		return nil, err
	}
	b, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	out := &Archive{Bundle: b, Attachments: make(map[string][]byte, len(b.Attachments))}
	for _, ref := range b.Attachments {
		f, ok := entries[AttachmentsDir+ref.ID]
		if !ok {
			return nil, fmt.Errorf("bundle: attachment %q missing from archive: %w", ref.ID, apperr.ErrInvalidBundle)
		}
		content, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		out.Attachments[ref.ID] = content
	}
	return out, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxEntrySize {
		return nil, fmt.Errorf("bundle: entry %s too large: %w", f.Name, apperr.ErrInvalidBundle)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %v: %w", f.Name, err, apperr.ErrInvalidBundle)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("bundle: read %s: %v: %w", f.Name, err, apperr.ErrInvalidBundle)
	}
	if len(data) > MaxEntrySize {
		return nil, fmt.Errorf("bundle: entry %s too large: %w", f.Name, apperr.ErrInvalidBundle)
	}
	return data, nil
}

// WriteArchive writes b and the referenced attachment bytes as a zip. An
// attachment referenced by b but absent from attachments is an error.
func WriteArchive(w io.Writer, b *Bundle, attachments map[string][]byte) error {
	zw := zip.NewWriter(w)
	dw, err := zw.Create(DataFile)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", DataFile, err)
	}
	if err := Encode(dw, b); err != nil {
		return err
	}

	ids := make([]string, 0, len(b.Attachments))
	for _, ref := range b.Attachments {
		ids = append(ids, ref.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		content, ok := attachments[id]
		if !ok {
			return fmt.Errorf("bundle: attachment %q has no content", id)
		}
		aw, err := zw.Create(AttachmentsDir + id)
		if err != nil {
			return fmt.Errorf("bundle: create attachment %q: %w", id, err)
		}
		if _, err := aw.Write(content); err != nil {
			return fmt.Errorf("bundle: write attachment %q: %w", id, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("bundle: close archive: %w", err)
	}
	return nil
}

// WriteFile writes b to name, as a zip when the name ends in .zip and as
// plain JSON otherwise.
func WriteFile(name string, b *Bundle, attachments map[string][]byte) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", name, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("bundle: close %s: %w", name, cerr)
		}
	}()
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		return WriteArchive(f, b, attachments)
	}
	return Encode(f, b)
}
