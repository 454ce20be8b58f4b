package models

// EntrySortField is a column ledger entries can be ordered by.
type EntrySortField string

const (
	SortByCreatedAt EntrySortField = "created_at"
	SortByAmount    EntrySortField = "amount"
	SortByKind      EntrySortField = "kind"
	SortByLevel     EntrySortField = "level"
)

func (f EntrySortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByAmount, SortByKind, SortByLevel:
		return true
	}
	return false
}

// EntryQuery selects one page of an account's ledger entries. Ties on the
// sort field are broken by creation order in the same direction.
type EntryQuery struct {
	SortBy EntrySortField
	Desc   bool
	Limit  int
	Offset int
}
