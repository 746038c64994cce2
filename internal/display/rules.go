package display

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	"dbrewind/internal/mapper"
)

// RenderRuleSets prints the inferred mapping rules for every shared table,
// one table per section, with unresolved fields flagged below the table.
func (r *Renderer) RenderRuleSets(sets *mapper.VersionRuleSets) {
	r.heading(fmt.Sprintf("Field mapping: v%s -> v%s (coverage %.0f%%)",
		sets.SourceVersion, sets.TargetVersion, sets.Coverage()*100))

	tables := make([]string, 0, len(sets.Tables))
	for name := range sets.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	for _, name := range tables {
		r.println()
		r.printf("table %s\n", name)
		r.renderRuleSet(sets.Tables[name])
	}
}

func (r *Renderer) renderRuleSet(rs *mapper.RuleSet) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Target Field", "Rule", "Source", "Detail", "Confidence"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	fields := make([]string, 0, len(rs.Rules))
	for field := range rs.Rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		rule := rs.Rules[field]
		table.Append([]string{
			field,
			string(rule.Kind),
			rule.SourceField,
			ruleDetail(&rule),
			confidenceCell(&rule),
		})
	}
	table.Render()

	for _, field := range rs.Gaps() {
		r.printf("  %s %s has no mapping\n", r.sprint(colorWarn, "!"), field)
	}
}

func ruleDetail(rule *mapper.Rule) string {
	switch rule.Kind {
	case mapper.RuleTypeCoerce:
		return rule.CoercionID
	case mapper.RuleDefaultFill:
		if rule.Default == nil {
			return "null"
		}
		return fmt.Sprintf("%v", rule.Default)
	default:
		return ""
	}
}

func confidenceCell(rule *mapper.Rule) string {
	if rule.Confidence == 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", rule.Confidence)
}
