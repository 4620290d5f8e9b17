package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession means no watch is recorded on this machine.
var ErrNoSession = errors.New("no active watch session")

const recordName = "session.json"

// SessionStore keeps the single watch record of this user.
type SessionStore interface {
	Save(s *Session) error
	// Load fails with ErrNoSession when nothing is recorded.
	Load() (*Session, error)
	// Delete is a no-op when nothing is recorded.
	Delete() error
}

// recordFile stores the record as one JSON document.
type recordFile struct {
	path string
}

// Path returns the record location of a store made by NewSessionStore, or ""
// for any other implementation.
func Path(store SessionStore) string {
	if f, ok := store.(*recordFile); ok {
		return f.path
	}
	return ""
}

// NewSessionStore opens the record in DataDir, creating the directory.
func NewSessionStore() (SessionStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("locating data dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("preparing %s: %w", dir, err)
	}
	return &recordFile{path: filepath.Join(dir, recordName)}, nil
}

// DataDir is $XDG_DATA_HOME/finaldream, or ~/.local/share/finaldream when
// the variable is unset.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "finaldream"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "finaldream"), nil
}

func (f *recordFile) Save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	data = append(data, '\n')
	if err := replaceFile(f.path, data); err != nil {
		return fmt.Errorf("saving session record: %w", err)
	}
	return nil
}

func (f *recordFile) Load() (*Session, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoSession
	case err != nil:
		return nil, fmt.Errorf("reading session record: %w", err)
	}

	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("session record %s is corrupt: %w", f.path, err)
	}
	return s, nil
}

func (f *recordFile) Delete() error {
	err := os.Remove(f.path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("removing session record: %w", err)
}

// replaceFile swaps data in at path so readers never see a partial record.
// The temp file shares path's directory so the rename stays on one
// filesystem.
func replaceFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
