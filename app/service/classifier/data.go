package classifier

import (
	"emergencyline/app/service/ledger"
	"encoding/json"
	"strings"
)

const (
	// severity ordinals, 1 is most urgent
	MinPriority = 1
	MaxPriority = 5
)

// Analysis is the structured outcome of one classification turn.
type Analysis struct {
	// Categories names every department the incident is relevant to,
	// primary first. Never empty; unknown when undetermined.
	Categories []ledger.Category

	// Priority is clamped into [MinPriority, MaxPriority].
	Priority int

	MissingCriticalInfo []string
	NextQuestion        string
	ShouldContinue      bool

	CaseNumber string
	Location   string
	Situation  string
	Dispatch   string
}

func (a *Analysis) Category() ledger.Category {
	return a.Categories[0]
}

// Wire shape of the model reply: the nested analysis/conversation
// document the system prompt asks for.
type wireResponse struct {
	Analysis     wireAnalysis     `json:"analysis"`
	Conversation wireConversation `json:"conversation"`
}

type wireAnalysis struct {
	Category   categoryList  `json:"category"`
	Priority   *int          `json:"priority"`
	CaseNumber string        `json:"case_number"`
	KnownInfo  wireKnownInfo `json:"current_known_info"`
}

type wireKnownInfo struct {
	Location            string   `json:"location"`
	Situation           string   `json:"situation"`
	Dispatch            string   `json:"dispatch"`
	MissingCriticalInfo []string `json:"missing_critical_info"`
}

type wireConversation struct {
	NextQuestion     string `json:"next_question"`
	ResponseToCaller string `json:"response_to_caller"`
	ShouldContinue   *bool  `json:"should_continue"`
}

// categoryList tolerates both a single category string and a list,
// models emit either for multi-department incidents.
type categoryList []ledger.Category

func (c *categoryList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = parseCategories([]string{single})
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}

	*c = parseCategories(many)

	return nil
}

func parseCategories(raw []string) []ledger.Category {
	var result []ledger.Category

	for _, name := range raw {
		category := ledger.Category(strings.ToLower(strings.TrimSpace(name)))
		if !category.Known() {
			continue
		}

		if !containsCategory(result, category) {
			result = append(result, category)
		}
	}

	return result
}

func containsCategory(list []ledger.Category, category ledger.Category) bool {
	for _, c := range list {
		if c == category {
			return true
		}
	}

	return false
}
