package paths

import (
	"path/filepath"
	"strings"
)

// SlotKind identifies which artifact family a path belongs to.
type SlotKind int

// Artifact families, used by the watcher to target cache invalidation.
const (
	SlotUnknown SlotKind = iota
	SlotConfig
	SlotWorkspace
	SlotTopics
	SlotModel
	SlotVectors
	SlotEvaluation
	SlotExperiment
	SlotUserData
)

// Slot is a resolved artifact location: its family and, for per-column
// artifacts, the decoded column name.
type Slot struct {
	Kind   SlotKind
	Column string
}

// Resolve maps an absolute path under the data root to its project id and
// slot. Lock files, temp files, and paths outside the managed layout
// resolve to SlotUnknown.
func Resolve(dataDir, path string) (projectID string, slot Slot, ok bool) {
	rel, err := filepath.Rel(dataDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", Slot{}, false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "", Slot{}, false
	}

	projectID = parts[0]

	base := parts[len(parts)-1]
	if strings.HasSuffix(base, LockSuffix) || strings.Contains(base, tmpSuffix) {
		return projectID, Slot{Kind: SlotUnknown}, true
	}

	return projectID, resolveSlot(parts[1:]), true
}

// resolveSlot matches a project-relative path split against the known slots.
func resolveSlot(parts []string) Slot {
	switch parts[0] {
	case ConfigFile:
		return Slot{Kind: SlotConfig}
	case WorkspaceFile:
		return Slot{Kind: SlotWorkspace}
	case TopicsDir:
		return columnSlot(SlotTopics, strings.TrimSuffix(parts[len(parts)-1], ".json"))
	case ModelDir:
		if len(parts) < 2 {
			return Slot{Kind: SlotUnknown}
		}

		return columnSlot(SlotModel, parts[1])
	case EmbeddingDir:
		if len(parts) < 2 {
			return Slot{Kind: SlotUnknown}
		}

		return columnSlot(SlotVectors, parts[1])
	case EvaluationDir:
		return evaluationSlot(parts[len(parts)-1])
	case UserDataDir:
		return Slot{Kind: SlotUserData}
	}

	return Slot{Kind: SlotUnknown}
}

// evaluationSlot distinguishes evaluation and experiment artifacts, which
// share a directory and differ by filename prefix.
func evaluationSlot(base string) Slot {
	token := strings.TrimSuffix(base, ".json")

	switch {
	case strings.HasPrefix(token, evaluationPrefix):
		return columnSlot(SlotEvaluation, strings.TrimPrefix(token, evaluationPrefix))
	case strings.HasPrefix(token, experimentPrefix):
		return columnSlot(SlotExperiment, strings.TrimPrefix(token, experimentPrefix))
	}

	return Slot{Kind: SlotUnknown}
}

// columnSlot decodes a column token; undecodable tokens resolve to unknown.
func columnSlot(kind SlotKind, token string) Slot {
	column, err := DecodeColumn(token)
	if err != nil {
		return Slot{Kind: SlotUnknown}
	}

	return Slot{Kind: kind, Column: column}
}
