package pipeline

import (
	"fmt"
	"regexp"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
)

// compiledAddFieldRule is an AddFieldRule with its regex pre-compiled,
// matching Design Note 2: "represent each rule as a declarative
// {key, match_regex, template, default} struct and evaluate at runtime;
// do not compile to native code."
type compiledAddFieldRule struct {
	key        string
	matchField string
	matchRe    *regexp.Regexp
	template   string
	def        string
}

func compileAddFieldRules(rules []config.AddFieldRule) ([]compiledAddFieldRule, error) {
	out := make([]compiledAddFieldRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.MatchRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling add_field_rule %q: %w", r.Key, err)
		}
		out = append(out, compiledAddFieldRule{
			key:        r.Key,
			matchField: r.MatchField,
			matchRe:    re,
			template:   r.Template,
			def:        r.Default,
		})
	}
	return out, nil
}

// apply evaluates rule against ev per spec.md §4.7: "regex match on a
// referenced field -> substitute into a template; optional default."
func (r compiledAddFieldRule) apply(ev *event.Event) {
	field, _ := ev.Fields[r.matchField].(string)
	m := r.matchRe.FindStringSubmatch(field)
	if m == nil {
		if r.def != "" {
			ev.Fields[r.key] = r.def
		}
		return
	}
	ev.Fields[r.key] = expandTemplate(r.template, m)
}

// expandTemplate substitutes $0 through $9 in template with m's
// submatches. Only one digit after the $ is read, so $10 expands as $1
// followed by a literal 0; ${n} and named-group placeholders are not
// expanded.
func expandTemplate(template string, m []string) string {
	var dst []byte
	for i := 0; i < len(template); i++ {
		if template[i] == '$' && i+1 < len(template) && template[i+1] >= '0' && template[i+1] <= '9' {
			idx := int(template[i+1] - '0')
			if idx < len(m) {
				dst = append(dst, m[idx]...)
			}
			i++
			continue
		}
		dst = append(dst, template[i])
	}
	return string(dst)
}
