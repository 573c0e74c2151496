package types

import "github.com/uptrace/bun"

// CaseNumberCounter is the counter row that case numbers are allocated from.
const CaseNumberCounter = "case_number"

// Counter is a named monotonically increasing value.
type Counter struct {
	bun.BaseModel `bun:"table:moderation_counters,alias:mcn"`

	ID    string `bun:",pk"`      // Counter name
	Value int64  `bun:",notnull"` // Last value handed out
}
