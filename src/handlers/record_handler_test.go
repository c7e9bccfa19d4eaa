package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunnywifi/ledgerline/backend/src/config"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/handlers"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"github.com/sunnywifi/ledgerline/backend/src/testutil"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testAPI struct {
	router *chi.Mux
	userID int64
}

// newTestAPI wires the record/expense/export handlers against a throwaway
// database with a mock parser, bypassing auth by injecting the user id
// directly into the request context.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db := testutil.NewTestDB(t)
	database.DB = db
	userID := testutil.SeedUser(t, db, "alice")
	testutil.SeedCategory(t, db, userID, "餐饮", "外卖", "美团")
	testutil.SeedCategory(t, db, userID, "餐饮", "食材采购", "")
	testutil.SeedCategory(t, db, userID, "交通", "充值", "")
	testutil.SeedCategory(t, db, userID, "其他", "", "")

	cfg := &config.AppConfig{AppName: "ledgerline-test", LLMTimeout: time.Second}
	llmParser := services.NewLLMParser(cfg, services.NewAuditLog(""))
	summaryCache := cache.New(time.Minute, time.Minute)

	recordHandler := handlers.NewRecordHandler(
		llmParser,
		services.NewInstructionParser(llmParser),
		services.NewAuditor(db),
		services.NewStagingService(db),
		services.NewBatchService(db, services.NewCategoryLearner()),
		summaryCache,
	)
	expenseHandler := handlers.NewExpenseHandler(summaryCache)
	exportHandler := handlers.NewExportHandler()

	r := chi.NewRouter()
	r.Post("/api/record", recordHandler.SubmitRecordHandler)
	r.Get("/api/record/batch/{batchID}", recordHandler.GetBatchHandler)
	r.Post("/api/record/confirm", recordHandler.ConfirmRecordHandler)
	r.Post("/api/record/interact", recordHandler.InteractRecordHandler)
	r.Get("/api/expenses", expenseHandler.ListExpensesHandler)
	r.Get("/api/expenses/summary", expenseHandler.SummaryHandler)
	r.Put("/api/expenses/{expenseID}", expenseHandler.UpdateExpenseHandler)
	r.Get("/api/export/csv", exportHandler.ExportCSVHandler)

	return &testAPI{router: r, userID: userID}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(blob)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(handlers.ContextWithUserID(context.Background(), a.userID))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (a *testAPI) submit(t *testing.T, content string) (string, int) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/record", map[string]string{"content": content})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)

	var data struct {
		BatchID string `json:"batch_id"`
		Items   []struct {
			TempID int    `json:"temp_id"`
			Status string `json:"status"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.BatchID, len(data.Items)
}

func (a *testAPI) expenseCount(t *testing.T) int {
	t.Helper()
	expenses, err := model.ListAllExpenses(context.Background(), database.DB, a.userID, model.ExpenseFilter{})
	require.NoError(t, err)
	return len(expenses)
}

func TestRecordPipelineConfirmAll(t *testing.T) {
	api := newTestAPI(t)

	batchID, items := api.submit(t, "中午麦当劳35，下午买菜50.5，手机充值100")
	require.Equal(t, 3, items)
	require.Zero(t, api.expenseCount(t))

	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{
		"batch_id": batchID, "action": "confirm_all",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Contains(t, env.Message, "3")

	assert.Equal(t, 3, api.expenseCount(t))
}

func TestRecordPipelineRejectAll(t *testing.T) {
	api := newTestAPI(t)
	batchID, _ := api.submit(t, "买菜50.5")

	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{
		"batch_id": batchID, "action": "reject_all",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, api.expenseCount(t))
}

func TestRecordPipelineInteract(t *testing.T) {
	api := newTestAPI(t)
	batchID, _ := api.submit(t, "中午麦当劳35，下午买菜50.5，手机充值100")

	rec := api.do(t, http.MethodPost, "/api/record/interact", map[string]string{
		"batch_id": batchID, "instruction": "1和2确认，第3条改成120元",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, api.expenseCount(t))

	rec = api.do(t, http.MethodPost, "/api/record/interact", map[string]string{
		"batch_id": batchID, "instruction": "全部确认",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, api.expenseCount(t))

	// the modified entry landed with its patched values
	expenses, err := model.ListAllExpenses(context.Background(), database.DB, api.userID, model.ExpenseFilter{Keyword: "手机充值"})
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, 120.0, expenses[0].Amount)
	assert.Equal(t, "交通", expenses[0].MainCategory)
}

func TestInteractUnintelligibleInstructionIsNonFatal(t *testing.T) {
	api := newTestAPI(t)
	batchID, _ := api.submit(t, "买菜50.5")

	rec := api.do(t, http.MethodPost, "/api/record/interact", map[string]string{
		"batch_id": batchID, "instruction": "今天天气不错",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, services.CodeInterpreterFailure, env.Error.Code)

	// batch untouched, still confirmable
	rec = api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, api.expenseCount(t))
}

func TestInteractOnResolvedBatchStillRunsInterpreter(t *testing.T) {
	api := newTestAPI(t)
	batchID, _ := api.submit(t, "买菜50.5")

	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, api.expenseCount(t))

	// No pending items left: the instruction applies against resolved
	// entries and simply changes nothing.
	rec = api.do(t, http.MethodPost, "/api/record/interact", map[string]string{
		"batch_id": batchID, "instruction": "全部确认",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, api.expenseCount(t))
}

func TestUpdateExpenseRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	batchID, _ := api.submit(t, "买菜50.5")
	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusOK, rec.Code)

	expenses, err := model.ListAllExpenses(context.Background(), database.DB, api.userID, model.ExpenseFilter{})
	require.NoError(t, err)
	require.Len(t, expenses, 1)

	// Misspelled patch fields must be rejected, not silently dropped.
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/expenses/%d", expenses[0].ID),
		map[string]any{"amout": 120.0, "main_categry": "交通"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, services.CodeValidation, env.Error.Code)

	unchanged, err := model.GetExpenseByID(context.Background(), database.DB, api.userID, expenses[0].ID)
	require.NoError(t, err)
	assert.Equal(t, expenses[0].Amount, unchanged.Amount)
	assert.Equal(t, expenses[0].MainCategory, unchanged.MainCategory)
}

func TestSubmitUnparsableInputStagesManualEntry(t *testing.T) {
	api := newTestAPI(t)

	batchID, items := api.submit(t, "随便说点什么")
	require.Equal(t, 1, items)

	rec := api.do(t, http.MethodGet, "/api/record/batch/"+batchID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var data struct {
		Items []struct {
			Entry struct {
				Remark     string  `json:"remark"`
				Confidence float64 `json:"confidence"`
			} `json:"data"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Items, 1)
	assert.True(t, strings.HasPrefix(data.Items[0].Entry.Remark, "[解析失败] "))
	assert.Zero(t, data.Items[0].Entry.Confidence)
}

func TestDuplicateSubmissionIsFlaggedAndConflictsOnConfirm(t *testing.T) {
	api := newTestAPI(t)

	batchID, _ := api.submit(t, "买菜50.5")
	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusOK, rec.Code)

	// same text again: flagged as duplicate at staging time
	batchID, _ = api.submit(t, "买菜50.5")
	rec = api.do(t, http.MethodGet, "/api/record/batch/"+batchID, nil)
	env := decodeEnvelope(t, rec)
	var data struct {
		Items []struct {
			Entry struct {
				IsDuplicate bool `json:"is_duplicate"`
			} `json:"data"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Items, 1)
	assert.True(t, data.Items[0].Entry.IsDuplicate)

	// confirming it anyway hits the ledger's fingerprint uniqueness
	rec = api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusConflict, rec.Code)
	env = decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, services.CodeConflict, env.Error.Code)
	assert.Equal(t, 1, api.expenseCount(t))
}

func TestExportCSVHasBOMAndHeader(t *testing.T) {
	api := newTestAPI(t)

	batchID, _ := api.submit(t, "中午麦当劳35，下午买菜50.5，手机充值100")
	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/export/csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "\uFEFF"))
	assert.Contains(t, body, "日期,一级分类,二级分类,支出,参与人,备注")
	assert.Contains(t, body, "35.00")
	assert.Contains(t, body, "麦当劳")
}

func TestSummaryReflectsConfirmedExpenses(t *testing.T) {
	api := newTestAPI(t)

	batchID, _ := api.submit(t, "中午麦当劳35，下午买菜50.5，手机充值100")
	rec := api.do(t, http.MethodPost, "/api/record/confirm", map[string]string{"batch_id": batchID})
	require.Equal(t, http.StatusOK, rec.Code)

	month := time.Now().Format("2006-01")
	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/expenses/summary?month=%s", month), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var summary struct {
		MonthTotal float64 `json:"month_total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.InDelta(t, 185.50, summary.MonthTotal, 0.001)
}
