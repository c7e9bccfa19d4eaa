// backend/src/services/interfaces.go
package services

import (
	"context"

	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// PromptContext carries the user vocabulary handed to the LLM so it grounds
// categories, payees and assets in what the user actually has.
type PromptContext struct {
	Categories []models.CategoryRef
	Payees     []string
	Assets     []string
}

// Parser turns raw user input (free text or an image) into candidate ledger
// entries. Implementations must degrade failures on the text path to a single
// low-confidence manual-entry placeholder instead of propagating transport
// errors.
type Parser interface {
	ParseText(ctx context.Context, userID int64, content string, pctx PromptContext) ([]models.ParsedEntry, error)
	ParseImage(ctx context.Context, userID int64, imageBase64, mimeType string, pctx PromptContext) ([]models.ParsedEntry, error)
}

// InstructionInterpreter turns a free-text editing command into a structured
// action list. An empty list means "could not understand" and is surfaced as
// a non-fatal failure by the caller.
type InstructionInterpreter interface {
	Interpret(ctx context.Context, instruction string, bctx models.BatchContext) ([]models.Action, error)
}
