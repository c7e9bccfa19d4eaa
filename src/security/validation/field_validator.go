// backend/src/security/validation/field_validator.go
package validation

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// ErrValidationFailed is the sentinel wrapped by every field validation error.
var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	MaxRemarkLength       = 255
	MaxCategoryNameLength = 50
	MaxNameLength         = 50
	entryDateLayout       = "2006-01-02"
)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateEntryDate checks the YYYY-MM-DD calendar day format.
func ValidateEntryDate(date string) error {
	if _, err := time.Parse(entryDateLayout, date); err != nil {
		return fmt.Errorf("%w: date %q is not a valid YYYY-MM-DD day", ErrValidationFailed, date)
	}
	return nil
}

// ValidateEntryAmount rejects negative and non-finite amounts.
func ValidateEntryAmount(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidationFailed)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount > 1e12 {
		return fmt.Errorf("%w: amount is not a sensible number", ErrValidationFailed)
	}
	return nil
}

// ValidateEntry checks a candidate entry before it enters the staging area.
func ValidateEntry(e models.ParsedEntry) error {
	if err := ValidateEntryDate(e.Date); err != nil {
		return err
	}
	if err := ValidateEntryAmount(e.Amount); err != nil {
		return err
	}
	if err := ValidateStringNotEmpty(e.MainCategory, "main_category"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(e.MainCategory, MaxCategoryNameLength, "main_category"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(e.Remark, MaxRemarkLength, "remark"); err != nil {
		return err
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0.0 and 1.0", ErrValidationFailed)
	}
	return nil
}

// SanitizeEntry strips HTML and unprintable characters from every free-text
// field of a candidate entry. Applied to everything the parser returns.
func SanitizeEntry(e models.ParsedEntry) models.ParsedEntry {
	clean := func(s string) string {
		return strings.TrimSpace(StripUnprintable(SanitizeText(s)))
	}
	e.MainCategory = clean(e.MainCategory)
	e.SubCategory = clean(e.SubCategory)
	e.Payee = clean(e.Payee)
	e.Remark = clean(e.Remark)
	e.Consumer = clean(e.Consumer)
	e.LinkedAsset = clean(e.LinkedAsset)
	return e
}
