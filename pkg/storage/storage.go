// Package storage is where exported annotation files are saved
package storage

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

// Storage is a blob store for exported label files
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Location returns a human readable description of where name is stored
	Location(name string) string
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// Config selects the storage backend. At most one option may be set.
// If neither is set, exports go into the "exports" directory.
type Config struct {
	Filesystem *ConfigFS  `json:"filesystem"`
	GCS        *ConfigGCS `json:"gcs"`
}

type ConfigFS struct {
	Root string `json:"root"` // Directory that receives exports
}

type ConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Prefix string `json:"prefix"` // Prepended to every object name, eg "labels/"
}

var ErrAmbiguous = errors.New("Only one of 'filesystem' or 'gcs' may be configured")
var ErrNotFound = errors.New("File not found")

// Open creates the backend described by cfg
func Open(log logs.Log, cfg Config) (Storage, error) {
	if cfg.Filesystem != nil && cfg.GCS != nil {
		return nil, ErrAmbiguous
	}
	if cfg.GCS != nil {
		return NewStorageGCS(log, cfg.GCS.Bucket, cfg.GCS.Prefix)
	}
	root := "exports"
	if cfg.Filesystem != nil && cfg.Filesystem.Root != "" {
		root = cfg.Filesystem.Root
	}
	return NewStorageFS(log, root)
}

// validName rejects names that could escape the store
func validName(name string) error {
	if name == "" || strings.Contains(name, "..") || path.IsAbs(name) {
		return fmt.Errorf("Invalid file name '%v'", name)
	}
	return nil
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// ExportName produces a name for an export, eg "annotations-20240501-153000-042.csv".
// Names are unique to the millisecond. Callers that may export more than once per
// millisecond must advance 'now' themselves.
func ExportName(base, ext string, now time.Time) string {
	return fmt.Sprintf("%v-%v-%03d.%v", base, now.Format("20060102-150405"), now.Nanosecond()/int(time.Millisecond), ext)
}
