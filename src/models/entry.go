package models

import "encoding/json"

// EntrySchemaVersion is written into every serialized ParsedEntry. Decoding
// ignores unknown fields, so older staged rows keep deserializing after new
// optional fields are added; the version tag records which writer produced
// the blob.
const EntrySchemaVersion = 1

// ParsedEntry is a candidate expense line proposed by the LLM parser. It is
// mutable while its owning staging item is pending and is promoted verbatim
// into an Expense row on confirmation.
type ParsedEntry struct {
	SchemaVersion int     `json:"schema_version"`
	TempID        int     `json:"temp_id,omitempty"` // 1-based position inside the batch
	Date          string  `json:"date"`              // YYYY-MM-DD
	Amount        float64 `json:"amount"`
	MainCategory  string  `json:"main_category"`
	SubCategory   string  `json:"sub_category,omitempty"`
	Payee         string  `json:"payee,omitempty"`
	Remark        string  `json:"remark,omitempty"`
	Consumer      string  `json:"consumer,omitempty"`
	IsEssential   int     `json:"is_essential"`
	LinkedAsset   string  `json:"linked_asset,omitempty"`
	Confidence    float64 `json:"confidence"`
	IsDuplicate   bool    `json:"is_duplicate"`
	Fingerprint   string  `json:"fingerprint,omitempty"`
}

// MarshalEntry serializes an entry with the current schema version stamped in.
func MarshalEntry(e ParsedEntry) ([]byte, error) {
	e.SchemaVersion = EntrySchemaVersion
	return json.Marshal(e)
}

// UnmarshalEntry deserializes a staged entry blob. Blobs written by older
// versions (including version 0, before the tag existed) decode fine because
// every added field is optional.
func UnmarshalEntry(data []byte) (ParsedEntry, error) {
	var e ParsedEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return ParsedEntry{}, err
	}
	return e, nil
}

// CategoryRef is the (main, sub) pair handed to the LLM for grounding.
type CategoryRef struct {
	Main     string `json:"main"`
	Sub      string `json:"sub"`
	Keywords string `json:"keywords,omitempty"`
}

// BatchItem is one staging row inside a batch context.
type BatchItem struct {
	TempID int         `json:"temp_id"`
	Status string      `json:"status"`
	Entry  ParsedEntry `json:"data"`
}

// BatchContext is everything the instruction interpreter (and the frontend)
// needs to resolve references like "the second one": the items with their
// current status plus the user's vocabulary.
type BatchContext struct {
	BatchID    string        `json:"batch_id"`
	Items      []BatchItem   `json:"items"`
	Categories []CategoryRef `json:"categories"`
	Payees     []string      `json:"payees,omitempty"`
	Assets     []string      `json:"assets,omitempty"`
}

// PendingTempIDs returns the temp ids of all still-pending items, in order.
func (c BatchContext) PendingTempIDs() []int {
	var ids []int
	for _, item := range c.Items {
		if item.Status == "pending" {
			ids = append(ids, item.TempID)
		}
	}
	return ids
}
