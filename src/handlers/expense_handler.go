// backend/src/handlers/expense_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

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

type ExpenseHandler struct {
	cache *cache.Cache
}

func NewExpenseHandler(c *cache.Cache) *ExpenseHandler {
	return &ExpenseHandler{cache: c}
}

func filterFromQuery(r *http.Request) model.ExpenseFilter {
	q := r.URL.Query()
	return model.ExpenseFilter{
		StartDate:    q.Get("start_date"),
		EndDate:      q.Get("end_date"),
		MainCategory: q.Get("main_category"),
		Payee:        q.Get("payee"),
		Keyword:      q.Get("keyword"),
	}
}

// ListExpensesHandler returns a filtered, paginated ledger slice plus
// per-category totals over the same filter.
func (h *ExpenseHandler) ListExpensesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	filter := filterFromQuery(r)
	expenses, total, err := model.ListExpenses(r.Context(), database.DB, userID, filter, page, pageSize)
	if err != nil {
		logger.FromContext(r.Context()).Error("Listing expenses failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to list expenses", http.StatusInternalServerError)
		return
	}

	totals, err := model.CategoryTotals(r.Context(), database.DB, userID, filter)
	if err != nil {
		logger.FromContext(r.Context()).Error("Computing category totals failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to list expenses", http.StatusInternalServerError)
		return
	}

	utils.SendJSONSuccess(w, map[string]any{
		"expenses":        expenses,
		"total":           total,
		"page":            page,
		"page_size":       pageSize,
		"category_totals": totals,
	}, "")
}

// SummaryHandler returns month-to-date and year-to-date spend totals. Results
// are cached per user and month; any ledger mutation flushes the cache.
func (h *ExpenseHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().Format("2006-01")
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		utils.SendJSONError(w, services.CodeValidation, "month must be formatted YYYY-MM", http.StatusBadRequest)
		return
	}
	year := month[:4]

	cacheKey := fmt.Sprintf("summary:%d:%s", userID, month)
	if cached, found := h.cache.Get(cacheKey); found {
		utils.SendJSONSuccess(w, cached, "")
		return
	}

	monthTotal, err := model.SumForDatePrefix(r.Context(), database.DB, userID, month)
	if err != nil {
		logger.FromContext(r.Context()).Error("Summing month failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to compute summary", http.StatusInternalServerError)
		return
	}
	yearTotal, err := model.SumForDatePrefix(r.Context(), database.DB, userID, year)
	if err != nil {
		logger.FromContext(r.Context()).Error("Summing year failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to compute summary", http.StatusInternalServerError)
		return
	}

	summary := map[string]any{
		"month":       month,
		"month_total": monthTotal,
		"year":        year,
		"year_total":  yearTotal,
	}
	h.cache.Set(cacheKey, summary, cache.DefaultExpiration)
	utils.SendJSONSuccess(w, summary, "")
}

// UpdateExpenseHandler applies a partial edit to a ledger row. Edits never
// recompute the fingerprint: the row keeps its original dedup identity.
func (h *ExpenseHandler) UpdateExpenseHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "expenseID"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid expense id", http.StatusBadRequest)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var patch models.EntryPatch
	if err := dec.Decode(&patch); err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}
	if patch.Date != nil {
		if err := validation.ValidateEntryDate(*patch.Date); err != nil {
			utils.SendJSONError(w, services.CodeValidation, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if patch.Amount != nil {
		if err := validation.ValidateEntryAmount(*patch.Amount); err != nil {
			utils.SendJSONError(w, services.CodeValidation, err.Error(), http.StatusBadRequest)
			return
		}
	}

	expense, err := model.GetExpenseByID(r.Context(), database.DB, userID, id)
	if err != nil {
		utils.SendJSONError(w, services.CodeNotFound, "expense not found", http.StatusNotFound)
		return
	}
	if err := expense.ApplyPatch(r.Context(), database.DB, patch); err != nil {
		logger.FromContext(r.Context()).Error("Updating expense failed", "expenseID", id, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to update expense", http.StatusInternalServerError)
		return
	}

	invalidateSummaryCache(h.cache, userID)
	utils.SendJSONSuccess(w, expense, "updated")
}

// DeleteExpenseHandler removes a ledger row permanently.
func (h *ExpenseHandler) DeleteExpenseHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "expenseID"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid expense id", http.StatusBadRequest)
		return
	}

	affected, err := model.DeleteExpense(r.Context(), database.DB, userID, id)
	if err != nil {
		logger.FromContext(r.Context()).Error("Deleting expense failed", "expenseID", id, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to delete expense", http.StatusInternalServerError)
		return
	}
	if affected == 0 {
		utils.SendJSONError(w, services.CodeNotFound, "expense not found", http.StatusNotFound)
		return
	}

	invalidateSummaryCache(h.cache, userID)
	utils.SendJSONSuccess(w, nil, "deleted")
}
