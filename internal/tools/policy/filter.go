// Package policy resolves which tools a sub-agent is permitted to call.
package policy

import "strings"

// ReadOnly lists the built-in tools considered side-effect free. A sub-agent
// spawned via explore_context may only be given a tool_filter drawn from
// this set; parallel_execute sub-agents are unrestricted.
var ReadOnly = map[string]bool{
	"read":         true,
	"grep":         true,
	"glob":         true,
	"list":         true,
	"web_search":   true,
	"web_fetch":    true,
	"memory_query": true,
}

// Normalize lowercases and trims a tool name for comparison.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsReadOnly reports whether a tool name belongs to the read-only set.
func IsReadOnly(name string) bool {
	return ReadOnly[Normalize(name)]
}

// ValidateExploreFilter checks that every entry in a tool_filter requested
// for explore_context is a read-only tool. It returns the offending names,
// if any, so the caller can reject the spawn request.
func ValidateExploreFilter(filter []string) (violations []string) {
	for _, name := range filter {
		if !IsReadOnly(name) {
			violations = append(violations, name)
		}
	}
	return violations
}

// Filter narrows a set of available tool names down to an explicit allow
// list. A nil or empty filter means "no restriction" and returns available
// unchanged; an empty-but-non-nil filter from the caller should be treated
// as "no restriction" by passing filter as nil.
func Filter(available []string, filter []string) []string {
	if len(filter) == 0 {
		return available
	}
	allowed := make(map[string]bool, len(filter))
	for _, name := range filter {
		allowed[Normalize(name)] = true
	}
	out := make([]string, 0, len(available))
	for _, name := range available {
		if allowed[Normalize(name)] {
			out = append(out, name)
		}
	}
	return out
}
