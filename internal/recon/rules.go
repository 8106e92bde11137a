package recon

import "strings"

// maxRuleSuggestions caps how many rule hits are surfaced per entry.
const maxRuleSuggestions = 3

// MatchRules filters the active rules that apply to an entry: same
// direction, non-empty match text contained in the description
// (case-insensitive), amount within the optional bounds. At most
// maxRuleSuggestions rules are returned, in the order given.
func MatchRules(entry StatementEntry, rules []Rule) []Rule {
	desc := strings.ToLower(entry.Description)
	var out []Rule
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if r.Direction != entry.Direction {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(r.MatchText))
		if text == "" || !strings.Contains(desc, text) {
			continue
		}
		if r.MinAmountCents != nil && entry.AmountCents < *r.MinAmountCents {
			continue
		}
		if r.MaxAmountCents != nil && entry.AmountCents > *r.MaxAmountCents {
			continue
		}
		out = append(out, r)
		if len(out) == maxRuleSuggestions {
			break
		}
	}
	return out
}
