// backend/src/handlers/config_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/security/validation"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"github.com/sunnywifi/ledgerline/backend/src/utils"
)

type seedCategory struct {
	Main     string
	Sub      string
	Keywords string
}

// defaultCategories seeds a fresh account with a workable classification
// vocabulary. Keyword lists grow over time through correction learning.
var defaultCategories = []seedCategory{
	{"餐饮", "外卖", "美团,饿了么,外卖"},
	{"餐饮", "堂食", "餐厅,饭店"},
	{"餐饮", "食材采购", "买菜,超市,菜市场"},
	{"餐饮", "零食饮料", "零食,饮料,奶茶,咖啡"},
	{"交通", "交通工具", "打车,公交,地铁,打车,滴滴"},
	{"交通", "私家车", "加油,充电,停车,保养,洗车"},
	{"购物", "日用品", "日用品,纸巾,超市"},
	{"购物", "数码电器", "手机,电脑,家电,显卡"},
	{"购物", "服饰鞋包", "衣服,鞋子,包包"},
	{"居家", "生活缴费", "水电燃气,话费,物业,房租"},
	{"居家", "居家用品", "家具,家纺"},
	{"教育", "学杂费", "学费,补课,书本"},
	{"教育", "零花钱", "零花钱,压岁钱"},
	{"医疗", "医疗健康", "看病,挂号,买药,体检"},
	{"人情", "人情往来", "红包,礼金,礼物,送礼"},
	{"旅游", "旅游差旅", "机票,酒店,门票,火车,高铁"},
	{"休闲娱乐", "休闲娱乐", "电影,游戏,KTV,健身"},
	{"休闲娱乐", "兴趣爱好", "3D打印,摄影,模型"},
	{"个人护理", "个人护理", "理发,美容,护肤"},
	{"通讯", "通讯费", "话费,流量,宽带"},
	{"运动", "赛事活动", "马拉松,半马,全马,报名"},
	{"运动", "运动装备", "跑鞋,运动服"},
	{"其他", "未分类", ""},
}

// ConfigHandler manages the user's classification vocabulary: categories,
// payees and assets.
type ConfigHandler struct{}

func NewConfigHandler() *ConfigHandler {
	return &ConfigHandler{}
}

func (h *ConfigHandler) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	categories, err := model.GetCategories(r.Context(), database.DB, userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Listing categories failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to list categories", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, categories, "")
}

// InitCategoriesHandler seeds the default category set. A no-op when the
// user already has categories, so re-running it never duplicates rows.
func (h *ConfigHandler) InitCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	existing, err := model.GetCategories(r.Context(), database.DB, userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Checking categories failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to seed categories", http.StatusInternalServerError)
		return
	}
	if len(existing) > 0 {
		utils.SendJSONSuccess(w, nil, "分类已存在, 未重复生成")
		return
	}

	tx, err := database.DB.BeginTx(r.Context(), nil)
	if err != nil {
		utils.SendJSONError(w, services.CodeInternal, "failed to seed categories", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	for _, seed := range defaultCategories {
		c := &model.Category{UserID: userID, MainName: seed.Main, SubName: seed.Sub, Keywords: seed.Keywords}
		if err := c.Create(r.Context(), tx); err != nil {
			logger.FromContext(r.Context()).Error("Seeding category failed", "main", seed.Main, "sub", seed.Sub, "error", err)
			utils.SendJSONError(w, services.CodeInternal, "failed to seed categories", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		utils.SendJSONError(w, services.CodeInternal, "failed to seed categories", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, nil, "初始分类已生成")
}

type configItemRequest struct {
	Name string `json:"name"`
}

func decodeItemName(r *http.Request) (string, error) {
	var req configItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	name := validation.SanitizeText(strings.TrimSpace(req.Name))
	if err := validation.ValidateStringNotEmpty(name, "name"); err != nil {
		return "", err
	}
	if err := validation.ValidateStringMaxLength(name, 100, "name"); err != nil {
		return "", err
	}
	return name, nil
}

func (h *ConfigHandler) listNamedItems(w http.ResponseWriter, r *http.Request, list func() ([]model.NamedItem, error), label string) {
	items, err := list()
	if err != nil {
		logger.FromContext(r.Context()).Error("Listing "+label+" failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to list "+label, http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, items, "")
}

func (h *ConfigHandler) ListPayeesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	h.listNamedItems(w, r, func() ([]model.NamedItem, error) {
		return model.ListPayees(r.Context(), database.DB, userID)
	}, "payees")
}

func (h *ConfigHandler) AddPayeeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	name, err := decodeItemName(r)
	if err != nil {
		utils.SendJSONError(w, services.CodeValidation, "name required", http.StatusBadRequest)
		return
	}
	item := &model.NamedItem{UserID: userID, Name: name}
	if err := model.CreatePayee(r.Context(), database.DB, item); err != nil {
		if model.IsUniqueConstraintErr(err) {
			utils.SendJSONError(w, services.CodeConflict, "该成员已存在", http.StatusConflict)
			return
		}
		logger.FromContext(r.Context()).Error("Creating payee failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to add payee", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, item, "添加成功")
}

func (h *ConfigHandler) DeletePayeeHandler(w http.ResponseWriter, r *http.Request) {
	h.deleteNamedItem(w, r, "payeeID", model.DeletePayee)
}

func (h *ConfigHandler) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	h.listNamedItems(w, r, func() ([]model.NamedItem, error) {
		return model.ListAssets(r.Context(), database.DB, userID)
	}, "assets")
}

func (h *ConfigHandler) AddAssetHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	name, err := decodeItemName(r)
	if err != nil {
		utils.SendJSONError(w, services.CodeValidation, "name required", http.StatusBadRequest)
		return
	}
	item := &model.NamedItem{UserID: userID, Name: name}
	if err := model.CreateAsset(r.Context(), database.DB, item); err != nil {
		if model.IsUniqueConstraintErr(err) {
			utils.SendJSONError(w, services.CodeConflict, "该资产已存在", http.StatusConflict)
			return
		}
		logger.FromContext(r.Context()).Error("Creating asset failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to add asset", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, item, "添加成功")
}

func (h *ConfigHandler) DeleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	h.deleteNamedItem(w, r, "assetID", model.DeleteAsset)
}

func (h *ConfigHandler) deleteNamedItem(w http.ResponseWriter, r *http.Request, param string, del func(ctx context.Context, db model.DBTX, userID, id int64) (int64, error)) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid id", http.StatusBadRequest)
		return
	}
	affected, err := del(r.Context(), database.DB, userID, id)
	if err != nil {
		logger.FromContext(r.Context()).Error("Deleting item failed", "id", id, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "failed to delete item", http.StatusInternalServerError)
		return
	}
	if affected == 0 {
		utils.SendJSONError(w, services.CodeNotFound, "item not found", http.StatusNotFound)
		return
	}
	utils.SendJSONSuccess(w, nil, "已删除")
}
