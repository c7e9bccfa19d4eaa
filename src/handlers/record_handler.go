// backend/src/handlers/record_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
	"github.com/sunnywifi/ledgerline/backend/src/security/validation"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"github.com/sunnywifi/ledgerline/backend/src/utils"
)

// RecordHandler drives the staging pipeline: parse raw input into candidate
// entries, audit them against the ledger, hold them in a batch, and apply
// confirmation or correction actions.
type RecordHandler struct {
	parser      services.Parser
	interpreter services.InstructionInterpreter
	auditor     *services.Auditor
	staging     *services.StagingService
	batches     *services.BatchService
	cache       *cache.Cache
}

func NewRecordHandler(parser services.Parser, interpreter services.InstructionInterpreter, auditor *services.Auditor, staging *services.StagingService, batches *services.BatchService, c *cache.Cache) *RecordHandler {
	return &RecordHandler{
		parser:      parser,
		interpreter: interpreter,
		auditor:     auditor,
		staging:     staging,
		batches:     batches,
		cache:       c,
	}
}

// invalidateSummaryCache drops every cached summary for the user. Called after
// any mutation that lands entries in the ledger.
func invalidateSummaryCache(c *cache.Cache, userID int64) {
	if c == nil {
		return
	}
	prefix := fmt.Sprintf("summary:%d:", userID)
	for key := range c.Items() {
		if strings.HasPrefix(key, prefix) {
			c.Delete(key)
		}
	}
}

func (h *RecordHandler) promptContext(r *http.Request, userID int64) (services.PromptContext, error) {
	var pctx services.PromptContext

	categories, err := model.GetCategories(r.Context(), database.DB, userID)
	if err != nil {
		return pctx, err
	}
	for _, c := range categories {
		pctx.Categories = append(pctx.Categories, models.CategoryRef{
			Main:     c.MainName,
			Sub:      c.SubName,
			Keywords: c.Keywords,
		})
	}

	if pctx.Payees, err = model.PayeeNames(r.Context(), database.DB, userID); err != nil {
		return pctx, err
	}
	if pctx.Assets, err = model.AssetNames(r.Context(), database.DB, userID); err != nil {
		return pctx, err
	}
	return pctx, nil
}

type recordRequest struct {
	Content     string `json:"content"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

type rejectedEntry struct {
	Entry  models.ParsedEntry `json:"entry"`
	Reason string             `json:"reason"`
}

// SubmitRecordHandler parses raw text (or a receipt image) into candidate
// entries and stages them as a new pending batch. Entries that fail field
// validation are reported back and never staged.
func (h *RecordHandler) SubmitRecordHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.ImageBase64 == "" {
		utils.SendJSONError(w, services.CodeValidation, "content or image_base64 required", http.StatusBadRequest)
		return
	}

	pctx, err := h.promptContext(r, userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Loading prompt context failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "record submission failed", http.StatusInternalServerError)
		return
	}

	var entries []models.ParsedEntry
	if req.ImageBase64 != "" {
		entries, err = h.parser.ParseImage(r.Context(), userID, req.ImageBase64, req.MimeType, pctx)
	} else {
		entries, err = h.parser.ParseText(r.Context(), userID, req.Content, pctx)
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("Parsing failed", "error", err)
		utils.SendJSONError(w, services.CodeUpstreamFailure, "解析服务暂时不可用", http.StatusBadGateway)
		return
	}
	if len(entries) == 0 {
		utils.SendJSONError(w, services.CodeValidation, "未能从输入中识别出任何支出", http.StatusUnprocessableEntity)
		return
	}

	valid := make([]models.ParsedEntry, 0, len(entries))
	var rejected []rejectedEntry
	for _, e := range entries {
		e = validation.SanitizeEntry(e)
		if err := validation.ValidateEntry(e); err != nil {
			rejected = append(rejected, rejectedEntry{Entry: e, Reason: err.Error()})
			continue
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		utils.SendJSONError(w, services.CodeValidation, "所有解析结果均未通过校验", http.StatusUnprocessableEntity)
		return
	}

	valid, err = h.auditor.AuditBatch(r.Context(), userID, valid)
	if err != nil {
		logger.FromContext(r.Context()).Error("Duplicate audit failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "record submission failed", http.StatusInternalServerError)
		return
	}

	batchID, err := h.staging.CreateBatch(r.Context(), userID, valid)
	if err != nil {
		logger.FromContext(r.Context()).Error("Batch creation failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "record submission failed", http.StatusInternalServerError)
		return
	}

	bctx, err := h.staging.GetBatchContext(r.Context(), userID, batchID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Loading staged batch failed", "batchID", batchID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "record submission failed", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"batch_id": batchID,
		"items":    bctx.Items,
	}
	if len(rejected) > 0 {
		resp["rejected"] = rejected
	}
	utils.SendJSONSuccess(w, resp, "已暂存, 请确认")
}

// GetBatchHandler returns the current state of a staging batch. Unknown batch
// ids yield an empty item list rather than an error.
func (h *RecordHandler) GetBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	batchID := chi.URLParam(r, "batchID")

	bctx, err := h.staging.GetBatchContext(r.Context(), userID, batchID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Loading batch failed", "batchID", batchID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to load batch", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, map[string]any{
		"batch_id": batchID,
		"items":    bctx.Items,
	}, "")
}

type confirmRequest struct {
	BatchID string `json:"batch_id"`
	Action  string `json:"action"`
}

// ConfirmRecordHandler applies a whole-batch decision: confirm_all promotes
// every pending item to the ledger, reject_all discards them.
func (h *RecordHandler) ConfirmRecordHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BatchID == "" {
		utils.SendJSONError(w, services.CodeValidation, "batch_id required", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "confirm_all", "":
		count, err := h.batches.ConfirmAll(r.Context(), userID, req.BatchID)
		if err != nil {
			h.writeBatchError(w, r, err)
			return
		}
		invalidateSummaryCache(h.cache, userID)
		utils.SendJSONSuccess(w, map[string]any{"confirmed": count}, fmt.Sprintf("已记录 %d 笔支出", count))
	case "reject_all":
		if err := h.batches.RejectAll(r.Context(), userID, req.BatchID); err != nil {
			h.writeBatchError(w, r, err)
			return
		}
		utils.SendJSONSuccess(w, nil, "已取消本次记录")
	default:
		utils.SendJSONError(w, services.CodeValidation, "action must be confirm_all or reject_all", http.StatusBadRequest)
	}
}

type interactRequest struct {
	BatchID     string `json:"batch_id"`
	Instruction string `json:"instruction"`
}

// InteractRecordHandler interprets a free-text correction instruction against
// a pending batch and applies the resulting actions atomically. An
// instruction the interpreter cannot map to actions is a non-fatal outcome:
// the batch stays untouched and the user is asked to rephrase.
func (h *RecordHandler) InteractRecordHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	var req interactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BatchID == "" {
		utils.SendJSONError(w, services.CodeValidation, "batch_id required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		utils.SendJSONError(w, services.CodeValidation, "instruction required", http.StatusBadRequest)
		return
	}

	bctx, err := h.staging.GetBatchContext(r.Context(), userID, req.BatchID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Loading batch failed", "batchID", req.BatchID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to load batch", http.StatusInternalServerError)
		return
	}
	// A batch with no pending items still goes through the interpreter: the
	// resulting actions target already-resolved entries and no-op.
	actions, err := h.interpreter.Interpret(r.Context(), req.Instruction, bctx)
	if err != nil {
		logger.FromContext(r.Context()).Error("Instruction interpretation failed", "batchID", req.BatchID, "error", err)
		utils.SendJSONError(w, services.CodeUpstreamFailure, "解析服务暂时不可用", http.StatusBadGateway)
		return
	}
	if len(actions) == 0 {
		utils.SendJSONError(w, services.CodeInterpreterFailure, "未能理解您的指令, 请换个说法", http.StatusUnprocessableEntity)
		return
	}

	if err := h.batches.ApplyActions(r.Context(), userID, req.BatchID, actions); err != nil {
		h.writeBatchError(w, r, err)
		return
	}
	invalidateSummaryCache(h.cache, userID)

	bctx, err = h.staging.GetBatchContext(r.Context(), userID, req.BatchID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Reloading batch failed", "batchID", req.BatchID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to load batch", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, map[string]any{
		"batch_id": req.BatchID,
		"items":    bctx.Items,
		"applied":  len(actions),
	}, "已执行指令")
}

func (h *RecordHandler) writeBatchError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := services.AsAppError(err); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case services.CodeValidation:
			status = http.StatusBadRequest
		case services.CodeNotFound:
			status = http.StatusNotFound
		case services.CodeConflict:
			status = http.StatusConflict
		}
		utils.SendJSONError(w, appErr.Code, appErr.Message, status)
		return
	}
	if errors.Is(err, services.ErrBatchNotFound) {
		utils.SendJSONError(w, services.CodeNotFound, "batch not found", http.StatusNotFound)
		return
	}
	logger.FromContext(r.Context()).Error("Batch operation failed", "error", err)
	utils.SendJSONError(w, services.CodeInternal, "batch operation failed", http.StatusInternalServerError)
}
