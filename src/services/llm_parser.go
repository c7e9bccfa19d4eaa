package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sunnywifi/ledgerline/backend/src/config"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// LLMParser talks to an OpenRouter-compatible chat-completions endpoint to
// turn free-form expense descriptions into candidate entries. With no API key
// configured it runs in a deterministic mock mode, which is what local
// development and the test suite use.
type LLMParser struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	appName string
	audit   *AuditLog
	mock    bool
}

func NewLLMParser(cfg *config.AppConfig, audit *AuditLog) *LLMParser {
	mock := cfg.OpenRouterAPIKey == "" || strings.Contains(cfg.OpenRouterAPIKey, "xxxxx")
	if mock {
		logger.L.Warn("No LLM API key configured; parser running in mock mode")
	}
	return &LLMParser{
		client:  &http.Client{Timeout: cfg.LLMTimeout},
		baseURL: strings.TrimRight(cfg.OpenRouterBaseURL, "/"),
		apiKey:  cfg.OpenRouterAPIKey,
		model:   cfg.OpenRouterModel,
		appName: cfg.AppName,
		audit:   audit,
		mock:    mock,
	}
}

// IsMock reports whether the parser is in mock mode.
func (p *LLMParser) IsMock() bool { return p.mock }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// completeJSON runs one chat completion and returns the raw JSON content of
// the first choice.
func (p *LLMParser) completeJSON(ctx context.Context, systemPrompt string, userContent any, temperature float64) (string, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: temperature,
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("X-Title", p.appName)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (p *LLMParser) buildSystemPrompt(pctx PromptContext) string {
	categoriesJSON, _ := json.Marshal(pctx.Categories)
	payeesJSON, _ := json.Marshal(pctx.Payees)
	assetsJSON, _ := json.Marshal(pctx.Assets)

	return fmt.Sprintf(`你是一个记账助手。请将用户输入解析为 JSON 对象，包含 items 列表。
每个条目包含: date (YYYY-MM-DD), amount (数字), main_category, sub_category,
payee, remark, consumer, is_essential (0/1), linked_asset, confidence (0.0-1.0)。

今天的日期: %s
用户的分类列表: %s
用户的家庭成员: %s
用户的资产账户: %s

只使用用户已有的分类；无法归类时使用 "其他"/"未分类"。`,
		time.Now().Format("2006-01-02"), categoriesJSON, payeesJSON, assetsJSON)
}

type parseResult struct {
	Items []models.ParsedEntry `json:"items"`
}

// manualEntry is the degraded single-item fallback: zero amount, zero
// confidence, the raw input preserved in a flagged remark. The staging
// pipeline treats it like any other candidate.
func manualEntry(content string) []models.ParsedEntry {
	remark := content
	if len([]rune(remark)) > 50 {
		remark = string([]rune(remark)[:50])
	}
	return []models.ParsedEntry{{
		Date:         time.Now().Format("2006-01-02"),
		Amount:       0,
		MainCategory: "其他",
		SubCategory:  "未分类",
		Remark:       "[解析失败] " + remark,
		Confidence:   0,
	}}
}

// ParseText parses a free-text expense description. Transport or decode
// failures never propagate: they degrade to the manual-entry placeholder so
// the staging flow always has something to show the user.
func (p *LLMParser) ParseText(ctx context.Context, userID int64, content string, pctx PromptContext) ([]models.ParsedEntry, error) {
	if p.mock {
		return p.mockParse(content), nil
	}

	systemPrompt := p.buildSystemPrompt(pctx)
	raw, err := p.completeJSON(ctx, systemPrompt, content, 0.1)
	if err != nil {
		logger.FromContext(ctx).Error("LLM text parse failed, degrading to manual entry", "error", err)
		return manualEntry(content), nil
	}

	var result parseResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.FromContext(ctx).Error("LLM returned unparsable JSON, degrading to manual entry", "error", err)
		return manualEntry(content), nil
	}

	p.audit.Record("text_parse", userID, "", systemPrompt, content, result)
	return result.Items, nil
}

// ParseImage parses a bill screenshot. Unlike the text path, failures return
// an empty list: a remark cannot capture image content, so there is no useful
// placeholder.
func (p *LLMParser) ParseImage(ctx context.Context, userID int64, imageBase64, mimeType string, pctx PromptContext) ([]models.ParsedEntry, error) {
	if p.mock {
		return nil, nil
	}

	systemPrompt := p.buildSystemPrompt(pctx)
	userContent := []map[string]any{
		{"type": "text", "text": "请解析这张账单截图中的所有消费记录。"},
		{"type": "image_url", "image_url": map[string]string{
			"url": fmt.Sprintf("data:%s;base64,%s", mimeType, imageBase64),
		}},
	}

	raw, err := p.completeJSON(ctx, systemPrompt, userContent, 0)
	if err != nil {
		logger.FromContext(ctx).Error("LLM image parse failed", "error", err)
		return nil, nil
	}

	var result parseResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.FromContext(ctx).Error("LLM returned unparsable JSON for image", "error", err)
		return nil, nil
	}

	p.audit.Record("image_parse", userID, "", systemPrompt, "[IMAGE_BASE64_TRUNCATED]", result)
	return result.Items, nil
}

// mockParse mirrors the fixtures the end-to-end flow expects.
func (p *LLMParser) mockParse(content string) []models.ParsedEntry {
	today := time.Now().Format("2006-01-02")
	if strings.Contains(content, "麦当劳") {
		return []models.ParsedEntry{
			{Date: today, Amount: 35.00, MainCategory: "餐饮", SubCategory: "外卖", Remark: "麦当劳", Confidence: 1.0},
			{Date: today, Amount: 50.50, MainCategory: "餐饮", SubCategory: "食材采购", Remark: "买菜", Confidence: 1.0},
			{Date: today, Amount: 100.00, MainCategory: "其他", Remark: "手机充值", Confidence: 1.0},
		}
	}
	if strings.Contains(content, "买菜") {
		return []models.ParsedEntry{
			{Date: today, Amount: 50.5, MainCategory: "餐饮", SubCategory: "食材采购", Remark: "买菜", Confidence: 1.0},
		}
	}
	return manualEntry(content)
}
