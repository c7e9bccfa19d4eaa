package models

import "fmt"

// ActionType enumerates the closed set of batch actions. Anything outside
// this set is rejected up front rather than silently dropped.
type ActionType string

const (
	ActionConfirm   ActionType = "confirm"
	ActionModify    ActionType = "modify"
	ActionDelete    ActionType = "delete"
	ActionCancelAll ActionType = "cancel_all"
)

// Action is one step of an instruction-derived action list. Targets holds
// batch-local temp ids; Modifications is only set for modify actions.
type Action struct {
	Type          ActionType  `json:"type"`
	Targets       []int       `json:"targets,omitempty"`
	Modifications *EntryPatch `json:"modifications,omitempty"`
}

// Validate rejects unknown action types and modify actions without a patch.
func (a Action) Validate() error {
	switch a.Type {
	case ActionConfirm, ActionDelete, ActionCancelAll:
		return nil
	case ActionModify:
		if a.Modifications == nil {
			return fmt.Errorf("modify action requires modifications")
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// EntryPatch is a structural patch over a ParsedEntry: every field is
// optional and only non-nil fields are applied. Boundaries that accept a
// patch decode it with DisallowUnknownFields, so a misspelled field name is
// rejected instead of being silently dropped.
type EntryPatch struct {
	Date         *string  `json:"date,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	MainCategory *string  `json:"main_category,omitempty"`
	SubCategory  *string  `json:"sub_category,omitempty"`
	Payee        *string  `json:"payee,omitempty"`
	Remark       *string  `json:"remark,omitempty"`
	Consumer     *string  `json:"consumer,omitempty"`
	IsEssential  *int     `json:"is_essential,omitempty"`
	LinkedAsset  *string  `json:"linked_asset,omitempty"`
}

// Apply overlays the patch onto e. The caller is responsible for recomputing
// the fingerprint afterwards, since date/amount/remark/payee may change.
func (p *EntryPatch) Apply(e *ParsedEntry) {
	if p == nil {
		return
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.MainCategory != nil {
		e.MainCategory = *p.MainCategory
	}
	if p.SubCategory != nil {
		e.SubCategory = *p.SubCategory
	}
	if p.Payee != nil {
		e.Payee = *p.Payee
	}
	if p.Remark != nil {
		e.Remark = *p.Remark
	}
	if p.Consumer != nil {
		e.Consumer = *p.Consumer
	}
	if p.IsEssential != nil {
		e.IsEssential = *p.IsEssential
	}
	if p.LinkedAsset != nil {
		e.LinkedAsset = *p.LinkedAsset
	}
}
