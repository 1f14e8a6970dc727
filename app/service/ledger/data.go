package ledger

type Category string

const (
	CategoryWildlife Category = "wildlife"
	CategoryPolice   Category = "police"
	CategoryWater    Category = "water"
	CategoryFire     Category = "fire"
	CategoryMedical  Category = "medical"

	// CategoryUnknown is the holding pen for reports that could not be
	// routed to a department. Nothing is ever silently dropped.
	CategoryUnknown Category = "unknown"
)

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Categories lists every ledger shard, holding pen included.
func Categories() []Category {
	return []Category{
		CategoryWildlife,
		CategoryPolice,
		CategoryWater,
		CategoryFire,
		CategoryMedical,
		CategoryUnknown,
	}
}

func (c Category) Known() bool {
	switch c {
	case CategoryWildlife, CategoryPolice, CategoryWater, CategoryFire, CategoryMedical:
		return true
	}

	return false
}

// Case is a single emergency report. A case may belong to several
// departments at once (Categories is a membership set, not a single key).
type Case struct {
	CaseNumber string     `json:"case_number"`
	Categories []Category `json:"categories,omitempty"`
	Location   string     `json:"location"`
	Situation  string     `json:"situation"`
	Dispatch   string     `json:"dispatch"`
	OpenStatus string     `json:"open_status"`
	// Severity is the stack rank within a department, 1 is most urgent
	Severity int `json:"severity"`
}

// Storage persists one category sequence at a time so that merges on
// unrelated departments never contend on a shared document.
type Storage interface {
	Load() (map[Category][]Case, error)
	Save(category Category, cases []Case) error
}
