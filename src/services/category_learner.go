package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sunnywifi/ledgerline/backend/src/model"
)

// CategoryLearner feeds confirmed remarks back into the category keyword
// index so the parser recognizes them next time.
type CategoryLearner struct{}

func NewCategoryLearner() *CategoryLearner {
	return &CategoryLearner{}
}

// LearnFromCorrection appends the trimmed remark to the keyword set of the
// (user, mainName, subName) category. No-op when remark or mainName is empty,
// when the category does not exist (categories are never auto-created here,
// to keep typos out of the keyword index), or when the keyword is already
// present, so repeated identical corrections are idempotent. Matching is
// exact and case-sensitive.
func (l *CategoryLearner) LearnFromCorrection(ctx context.Context, db model.DBTX, userID int64, remark, mainName, subName string) error {
	if remark == "" || mainName == "" {
		return nil
	}

	category, err := model.GetCategoryByName(ctx, db, userID, mainName, subName)
	if err != nil {
		return fmt.Errorf("learner: category lookup failed: %w", err)
	}
	if category == nil {
		return nil
	}

	cleanRemark := strings.TrimSpace(remark)
	if cleanRemark == "" {
		return nil
	}

	keywords := category.KeywordList()
	for _, kw := range keywords {
		if kw == cleanRemark {
			return nil
		}
	}
	keywords = append(keywords, cleanRemark)

	if err := category.UpdateKeywords(ctx, db, strings.Join(keywords, ",")); err != nil {
		return fmt.Errorf("learner: keyword update failed: %w", err)
	}
	return nil
}
