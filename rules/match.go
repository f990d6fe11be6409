package rules

import (
	"strings"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

// Triggers reports whether rule is a candidate for report: it is active, has
// at least two items, and its first item is a trigger on the report id. The
// filter is compared, case-insensitively, only when both sides carry one.
func Triggers(rule *model.Rule, report model.Report) bool {
	if !rule.IsActive || len(rule.Items) < 2 {
		return false
	}
	trig, ok := rule.Trigger()
	if !ok || trig.ReportID != report.ID {
		return false
	}
	if trig.Filter != "" && report.Filter != "" {
		return strings.EqualFold(trig.Filter, report.Filter)
	}
	return true
}

// MatchingRules returns the rules triggered by report, in input order.
func MatchingRules(rules []*model.Rule, report model.Report) []*model.Rule {
	var out []*model.Rule
	for _, r := range rules {
		if Triggers(r, report) {
			out = append(out, r)
		}
	}
	return out
}
