// backend/src/handlers/export_handler.go
package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/security/validation"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"github.com/sunnywifi/ledgerline/backend/src/utils"
)

type ExportHandler struct{}

func NewExportHandler() *ExportHandler {
	return &ExportHandler{}
}

// ExportCSVHandler streams the filtered ledger as CSV. The UTF-8 BOM is
// written first so Excel opens the Chinese headers without mojibake, and
// every free-text cell is neutralized against spreadsheet formula injection.
func (h *ExportHandler) ExportCSVHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	filter := filterFromQuery(r)
	expenses, err := model.ListAllExpenses(r.Context(), database.DB, userID, filter)
	if err != nil {
		logger.FromContext(r.Context()).Error("Export query failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "export failed", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("expenses_%s.csv", time.Now().Format("200601021504"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("\uFEFF")); err != nil {
		return
	}

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"日期", "一级分类", "二级分类", "支出", "参与人", "备注"})

	for _, e := range expenses {
		who := e.Consumer
		if who == "" {
			who = e.Payee
		}
		_ = writer.Write([]string{
			e.Date,
			validation.SanitizeForFormulaInjection(e.MainCategory),
			validation.SanitizeForFormulaInjection(e.SubCategory),
			strconv.FormatFloat(e.Amount, 'f', 2, 64),
			validation.SanitizeForFormulaInjection(who),
			validation.SanitizeForFormulaInjection(e.Remark),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		logger.FromContext(r.Context()).Error("CSV write failed", "error", err)
	}
}
