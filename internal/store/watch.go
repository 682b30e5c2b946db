package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
)

// markerPath is the version marker written next to the database.
func (s *Store) markerPath() string {
	return s.path + ".version"
}

// writeMarker records that this instance changed the schema. Failure only
// means other instances miss the notification, so it is logged.
func (s *Store) writeMarker() {
	content := s.instance + " " + strconv.Itoa(currentSchemaVersion) + "\n"
	if err := os.WriteFile(s.markerPath(), []byte(content), 0o640); err != nil {
		s.logger.Warn("write version marker", "path", s.markerPath(), "error", err)
	}
}

// foreignMarker reports whether the marker was written by another instance.
// A marker that cannot be read counts as foreign.
func (s *Store) foreignMarker() bool {
	data, err := os.ReadFile(s.markerPath())
	if err != nil {
		return true
	}
	owner, _, _ := bytes.Cut(bytes.TrimSpace(data), []byte(" "))
	return string(owner) != s.instance
}

// startWatcherLocked watches the database directory. Caller must hold s.mu.
func (s *Store) startWatcherLocked() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	s.watcher = watcher
	go s.watch(watcher)

	s.logger.Debug("started version watcher", "path", s.path)
	return nil
}

// stopWatcherLocked closes the watcher; its goroutine exits once the event
// channels are closed. Caller must hold s.mu.
func (s *Store) stopWatcherLocked() {
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Close(); err != nil {
		s.logger.Debug("close version watcher", "error", err)
	}
	s.watcher = nil
}

func (s *Store) watch(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("version watcher error", "error", err)
		}
	}
}

// handleEvent processes a single fsnotify event.
func (s *Store) handleEvent(event fsnotify.Event) {
	switch filepath.Clean(event.Name) {
	case filepath.Clean(s.markerPath()):
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
			if s.foreignMarker() {
				s.onVersionChange("version marker changed")
			}
		}
	case filepath.Clean(s.path):
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			s.onVersionChange("database file removed")
		}
	}
}

// onVersionChange closes the connection so the next operation reopens the
// database and sees the new schema. The store stays initialized.
func (s *Store) onVersionChange(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return
	}
	s.logger.Info("database version changed, closing connection", "reason", reason, "path", s.path)
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close connection after version change", "error", err)
	}
	s.db = nil
}
