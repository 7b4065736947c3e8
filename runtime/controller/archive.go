package controller

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/workflow/nodes"
)

// archiveRecord is the immutable snapshot written when a task archives.
type archiveRecord struct {
	TaskID     string           `json:"task_id"`
	FinalState State            `json:"final_state"`
	Goal       string           `json:"goal"`
	Messages   []memory.Message `json:"messages"`
	LLMOutput  string           `json:"llm_output"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// writeArchive persists the archival snapshot. The record is write-once: a
// later run reusing the task id starts a new turn without touching it.
// Archival failures degrade with a warning.
func (c *Controller) writeArchive(ctx context.Context, r *run, state *nodes.State) {
	if c.archiveDir == "" {
		return
	}
	path := filepath.Join(c.archiveDir, r.taskID+".json")
	if _, err := os.Stat(path); err == nil {
		return
	}

	record := archiveRecord{
		TaskID:     r.taskID,
		FinalState: StateArchive,
		ArchivedAt: c.now().UTC(),
	}
	if state != nil {
		record.LLMOutput = state.Output
	}
	if doc, err := c.memory.Working().Load(ctx, r.taskID); err == nil {
		record.Goal = doc.Goal
		record.Messages = doc.Messages
	}

	if err := os.MkdirAll(c.archiveDir, 0o755); err != nil {
		c.logger.Warn(ctx, "controller: archive dir unavailable", "err", err.Error())
		return
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		c.logger.Warn(ctx, "controller: archive encode failed", "task_id", r.taskID, "err", err.Error())
		return
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			c.logger.Warn(ctx, "controller: archive write failed", "task_id", r.taskID, "err", err.Error())
		}
		return
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		c.logger.Warn(ctx, "controller: archive write failed", "task_id", r.taskID, "err", err.Error())
	}
}
