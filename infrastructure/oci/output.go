package oci

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// parseProgress reads progress.jsonl from a hook's output directory.
// A missing file means no progress was reported; malformed lines are
// skipped so a crashing hook cannot corrupt the result.
func parseProgress(outDir string) []validation.ProgressEntry {
	raw, err := os.ReadFile(filepath.Join(outDir, "progress.jsonl"))
	if err != nil {
		return nil
	}

	var entries []validation.ProgressEntry
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry validation.ProgressEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Status == "" {
			entry.Status = "unknown"
		}
		entries = append(entries, entry)
	}
	return entries
}

// checkRejection returns the message of the most recent rejected progress
// entry, or "" when none exists.
func checkRejection(progress []validation.ProgressEntry) string {
	for i := len(progress) - 1; i >= 0; i-- {
		if progress[i].Status == "rejected" {
			if progress[i].Message != "" {
				return progress[i].Message
			}
			return "rejected"
		}
	}
	return ""
}

// collectFeatures reads features.json from a hook's output directory.
// A single object is wrapped into a one-element list; a missing file
// yields no features.
func collectFeatures(outDir string) ([]map[string]interface{}, error) {
	raw, err := os.ReadFile(filepath.Join(outDir, "features.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Internal("read features.json", err)
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var single map[string]interface{}
	if err := json.Unmarshal(raw, &single); err == nil {
		return []map[string]interface{}{single}, nil
	}

	return nil, errors.Validation("features.json is neither an object nor a list of objects")
}

// parseRecords reads records.jsonl from a source's output directory.
// Malformed lines are skipped.
func parseRecords(outDir string) []map[string]interface{} {
	raw, err := os.ReadFile(filepath.Join(outDir, "records.jsonl"))
	if err != nil {
		return nil
	}

	var records []map[string]interface{}
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records
}

// parseSession reads the opaque continuation state from session.json,
// or nil when absent or malformed.
func parseSession(outDir string) map[string]interface{} {
	raw, err := os.ReadFile(filepath.Join(outDir, "session.json"))
	if err != nil {
		return nil
	}
	var session map[string]interface{}
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil
	}
	return session
}
