package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sunnywifi/ledgerline/backend/src/logger"
)

// AuditLog appends one JSON line per LLM round-trip so prompt/response pairs
// can be replayed when the parser misbehaves.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

type auditRecord struct {
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"`
	UserID       int64  `json:"user_id"`
	BatchID      string `json:"batch_id,omitempty"`
	SystemPrompt string `json:"system_prompt"`
	UserInput    string `json:"user_input"`
	Response     any    `json:"response"`
}

// Record writes one audit line. Failures are logged and swallowed: the audit
// trail must never fail a user request.
func (a *AuditLog) Record(kind string, userID int64, batchID, systemPrompt, userInput string, response any) {
	if a == nil || a.path == "" {
		return
	}

	entry := auditRecord{
		Timestamp:    time.Now().Format(time.RFC3339),
		Type:         kind,
		UserID:       userID,
		BatchID:      batchID,
		SystemPrompt: systemPrompt,
		UserInput:    userInput,
		Response:     response,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		logger.L.Warn("Audit log marshal failed", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		logger.L.Warn("Audit log directory creation failed", "error", err)
		return
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.L.Warn("Audit log open failed", "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		logger.L.Warn("Audit log write failed", "error", err)
	}
}
