package scan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// AcceptedExtensions lists the audio formats that can be staged.
var AcceptedExtensions = []string{".mp3", ".wav", ".m4a", ".aac", ".ogg", ".flac"}

// FallbackContentType is sent when the bytes do not sniff as audio.
const FallbackContentType = "audio/wav"

// Staged is an audio file read fully into memory. The buffer never changes
// after staging, so the upload cannot be affected by the source file.
type Staged struct {
	Name        string
	ContentType string
	data        []byte
}

// Size returns the buffer length.
func (s Staged) Size() int {
	return len(s.data)
}

// Bytes returns a copy of the buffer.
func (s Staged) Bytes() []byte {
	return bytes.Clone(s.data)
}

func accepted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range AcceptedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// sniff returns an audio content type for data, or the fallback.
func sniff(data []byte) string {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return m.String()
		}
	}
	return FallbackContentType
}

// readStaged reads r fully, enforcing limit (0 = none).
func readStaged(name string, r io.Reader, limit int64) (*Staged, error) {
	if r == nil {
		return nil, ErrEmptyFile
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}
	return &Staged{Name: name, ContentType: sniff(data), data: data}, nil
}

func baseName(path string) string {
	return filepath.Base(path)
}

// openPath opens a staged path after checking its extension.
func openPath(path string) (*os.File, error) {
	if !accepted(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedType, path)
	}
	return f, nil
}
