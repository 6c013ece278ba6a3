// Package storage lays out the durable on-disk workspace: deposition
// file directories, per-hook output directories, and source staging.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// FileStorage owns the data directory tree:
//
//	<data>/depositions/<local>/files/        deposition data files
//	<data>/depositions/<local>/hooks/<name>/ hook workspaces (in/, out/)
//	<data>/sources/<name>/files/             files pulled by a source
//	<data>/sources/<name>/staging/<id>/      staged records awaiting deposition
//	<data>/sources/<name>/work/              source container workspace
type FileStorage struct {
	root string
}

// New builds a FileStorage rooted at the data directory.
func New(root string) *FileStorage {
	return &FileStorage{root: root}
}

// Root returns the data directory.
func (s *FileStorage) Root() string { return s.root }

// DepositionDir returns (and creates) the directory for a deposition.
func (s *FileStorage) DepositionDir(dep srn.SRN) (string, error) {
	dir := filepath.Join(s.root, "depositions", dep.Local)
	if err := os.MkdirAll(filepath.Join(dir, "files"), 0o755); err != nil {
		return "", errors.Internal("create deposition dir", err)
	}
	return dir, nil
}

// DepositionFilesDir returns the data-file directory for a deposition.
func (s *FileStorage) DepositionFilesDir(dep srn.SRN) (string, error) {
	dir, err := s.DepositionDir(dep)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "files"), nil
}

// HookWorkDir returns (and creates) the workspace for one hook run
// against a deposition. Hook outputs stay here as cold storage until
// record publication reads them.
func (s *FileStorage) HookWorkDir(dep srn.SRN, hookName string) (string, error) {
	if err := hook.ValidateIdentifier(hookName); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, "depositions", dep.Local, "hooks", hookName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Internal("create hook work dir", err)
	}
	return dir, nil
}

// HookFeaturesExist reports whether a hook produced a features.json for
// the deposition.
func (s *FileStorage) HookFeaturesExist(dep srn.SRN, hookName string) bool {
	if err := hook.ValidateIdentifier(hookName); err != nil {
		return false
	}
	path := filepath.Join(s.root, "depositions", dep.Local, "hooks", hookName, "out", "features.json")
	_, err := os.Stat(path)
	return err == nil
}

// ReadHookFeatures loads the features a hook wrote for a deposition. A
// single object is wrapped into a one-element list.
func (s *FileStorage) ReadHookFeatures(dep srn.SRN, hookName string) ([]map[string]interface{}, error) {
	if err := hook.ValidateIdentifier(hookName); err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, "depositions", dep.Local, "hooks", hookName, "out", "features.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Internal("read hook features", err)
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]interface{}
	if err := json.Unmarshal(raw, &single); err == nil {
		return []map[string]interface{}{single}, nil
	}
	return nil, errors.Validation(fmt.Sprintf("malformed features.json for hook %s", hookName))
}

// SourceFilesDir returns (and creates) the directory a source downloads
// files into.
func (s *FileStorage) SourceFilesDir(sourceName string) (string, error) {
	if err := hook.ValidateIdentifier(sourceName); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, "sources", sourceName, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Internal("create source files dir", err)
	}
	return dir, nil
}

// SourceWorkDir returns (and creates) the workspace for a source run.
func (s *FileStorage) SourceWorkDir(sourceName string) (string, error) {
	if err := hook.ValidateIdentifier(sourceName); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, "sources", sourceName, "work")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Internal("create source work dir", err)
	}
	return dir, nil
}

// StageSourceRecord writes one pulled record into the source's staging
// area and returns the staging directory.
func (s *FileStorage) StageSourceRecord(sourceName, sourceID string, record map[string]interface{}) (string, error) {
	if err := hook.ValidateIdentifier(sourceName); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, "sources", sourceName, "staging", sourceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Internal("create staging dir", err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", errors.Internal("marshal staged record", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "record.json"), raw, 0o644); err != nil {
		return "", errors.Internal("write staged record", err)
	}
	return dir, nil
}

// MoveSourceFilesToDeposition moves a staged record's files into the
// deposition's file directory. Missing staging content is a no-op so the
// handler stays idempotent under re-delivery.
func (s *FileStorage) MoveSourceFilesToDeposition(stagingDir string, dep srn.SRN) error {
	filesDir, err := s.DepositionFilesDir(dep)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Internal("read staging dir", err)
	}

	for _, entry := range entries {
		if entry.Name() == "record.json" {
			continue
		}
		src := filepath.Join(stagingDir, entry.Name())
		dst := filepath.Join(filesDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return errors.Internal("move staged file", err)
		}
	}
	return os.RemoveAll(stagingDir)
}
