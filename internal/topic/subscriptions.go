package topic

// DeriveFilters returns the MQTT subscription filters needed to receive
// every topic a binding set matches. A binding's pattern string is
// already a valid MQTT filter (its '+'/'#' wildcards carry over
// unchanged), so subscribing directly to each bound pattern is
// sufficient to keep broker-level subscriptions in lockstep with
// validation.bindings: an operator who adds a binding gets its coverage
// for free, instead of also having to update a separate filter list.
func DeriveFilters(bindings []Binding) []string {
	seen := make(map[string]bool, len(bindings))
	filters := make([]string, 0, len(bindings))
	for _, b := range bindings {
		raw := b.Pattern.String()
		if seen[raw] {
			continue
		}
		seen[raw] = true
		filters = append(filters, raw)
	}
	return filters
}

// MergeFilters unions one or more filter lists, preserving first-seen
// order and dropping duplicates. Used to combine binding-derived
// filters with any additional filters an operator configured directly.
// Messages received on a topic that no binding matches are still
// rejected by Matcher.Match.
func MergeFilters(lists ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, list := range lists {
		for _, f := range list {
			if seen[f] {
				continue
			}
			seen[f] = true
			merged = append(merged, f)
		}
	}
	return merged
}
