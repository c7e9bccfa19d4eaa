package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// InstructionParser resolves a free-text editing command against a batch
// context into a structured action list, via the shared LLM client. An empty
// result means the instruction was not understood; that is a non-fatal
// outcome, never an error.
type InstructionParser struct {
	llm *LLMParser
}

func NewInstructionParser(llm *LLMParser) *InstructionParser {
	return &InstructionParser{llm: llm}
}

type instructionResult struct {
	Actions []models.Action `json:"actions"`
}

func (p *InstructionParser) buildSystemPrompt(bctx models.BatchContext) string {
	itemsJSON, _ := json.MarshalIndent(bctx.Items, "", "  ")
	categoriesJSON, _ := json.Marshal(bctx.Categories)
	payeesJSON, _ := json.Marshal(bctx.Payees)
	assetsJSON, _ := json.Marshal(bctx.Assets)

	return fmt.Sprintf(`你是一个记账指令解析助手。用户正在查看一个包含多个待确认账单条目的批次。
你的任务是解析用户的自然语言指令，并将其转换为结构化的操作序列。

## 当前批次内容 (batch_id: %s):
%s

## 用户的分类列表:
%s

## 用户的家庭成员 (消费人):
%s

## 用户的资产账户:
%s

## 输出要求
必须返回一个 JSON 对象，包含 actions 列表。每个 action 的 type 为
"confirm"、"modify"、"delete" 或 "cancel_all"；confirm/modify/delete 带
targets (temp_id 数组)；modify 另带 modifications 对象，其字段仅限
date、amount、main_category、sub_category、payee、remark、consumer、
is_essential、linked_asset。

## 注意事项
1. 如果用户说"1和2确认"，type为"confirm"，targets为[1, 2]。
2. 如果用户说"全部确认"，type为"confirm"，targets包含所有 pending 条目的编号。
3. 如果指令模糊，请尝试给出最可能的解析。`,
		bctx.BatchID, itemsJSON, categoriesJSON, payeesJSON, assetsJSON)
}

// Interpret turns the instruction into an action list. Failures and
// unintelligible instructions both come back as an empty list.
func (p *InstructionParser) Interpret(ctx context.Context, instruction string, bctx models.BatchContext) ([]models.Action, error) {
	if p.llm.IsMock() {
		return p.mockInterpret(instruction, bctx), nil
	}

	systemPrompt := p.buildSystemPrompt(bctx)
	raw, err := p.llm.completeJSON(ctx, systemPrompt, instruction, 0)
	if err != nil {
		logger.FromContext(ctx).Error("Instruction interpretation failed", "error", err)
		return nil, nil
	}

	actions, err := decodeInstructionResult(raw)
	if err != nil {
		logger.FromContext(ctx).Error("Instruction interpreter returned unparsable JSON", "error", err)
		return nil, nil
	}

	p.llm.audit.Record("instruction_parse", 0, bctx.BatchID, systemPrompt, instruction, instructionResult{Actions: actions})
	return actions, nil
}

// decodeInstructionResult decodes the model's action list strictly. Unknown
// field names anywhere in the payload are an error, so a misspelled
// modification key surfaces as an unintelligible instruction instead of
// silently applying nothing.
func decodeInstructionResult(raw string) ([]models.Action, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var result instructionResult
	if err := dec.Decode(&result); err != nil {
		return nil, err
	}
	return result.Actions, nil
}

// mockInterpret covers the fixed phrases the interactive flow is exercised
// with in development and tests.
func (p *InstructionParser) mockInterpret(instruction string, bctx models.BatchContext) []models.Action {
	if strings.Contains(instruction, "全部确认") {
		return []models.Action{{Type: models.ActionConfirm, Targets: bctx.PendingTempIDs()}}
	}
	if strings.Contains(instruction, "1和2确认") {
		amount := 120.0
		mainCategory := "交通"
		subCategory := "充值"
		return []models.Action{
			{Type: models.ActionConfirm, Targets: []int{1, 2}},
			{Type: models.ActionModify, Targets: []int{3}, Modifications: &models.EntryPatch{
				Amount:       &amount,
				MainCategory: &mainCategory,
				SubCategory:  &subCategory,
			}},
		}
	}
	return nil
}
