package htmldoc

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// declaration is one `property: value` pair.
type declaration struct {
	prop      string
	value     string
	important bool
}

// parseDeclarations parses a declaration block or a style attribute. A block
// that does not parse yields no declarations.
func parseDeclarations(block string) []declaration {
	if strings.TrimSpace(block) == "" {
		return nil
	}
	decls, err := parser.ParseDeclarations(block)
	if err != nil {
		return nil
	}
	return convert(decls)
}

func convert(decls []*css.Declaration) []declaration {
	out := make([]declaration, 0, len(decls))
	for _, d := range decls {
		prop := strings.ToLower(strings.TrimSpace(d.Property))
		value := strings.TrimSpace(d.Value)
		if prop == "" || value == "" {
			continue
		}
		out = append(out, declaration{prop: prop, value: value, important: d.Important})
	}
	return out
}

type rule struct {
	sel   cascadia.Sel
	spec  cascadia.Specificity
	decls []declaration
	order int
}

// parseSheet extracts the top-level style rules of a stylesheet. At-rules,
// sheets that do not parse and selectors cascadia cannot parse are skipped.
func parseSheet(text string, order *int) []rule {
	sheet, err := parser.Parse(text)
	if err != nil {
		return nil
	}
	var rules []rule
	for _, r := range sheet.Rules {
		if r.Kind != css.QualifiedRule {
			continue
		}
		decls := convert(r.Declarations)
		if len(decls) == 0 {
			continue
		}
		for _, part := range r.Selectors {
			sel, err := cascadia.Parse(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			*order++
			rules = append(rules, rule{sel: sel, spec: sel.Specificity(), decls: decls, order: *order})
		}
	}
	return rules
}

// candidate is a declared value competing in the cascade.
type candidate struct {
	value     string
	important bool
	inline    bool
	spec      cascadia.Specificity
	order     int
	set       bool
}

func (c candidate) beats(o candidate) bool {
	if !o.set {
		return true
	}
	if c.important != o.important {
		return c.important
	}
	if c.inline != o.inline {
		return c.inline
	}
	if c.spec != o.spec {
		return o.spec.Less(c.spec)
	}
	return c.order > o.order
}

// cascade resolves the declared value of props for n from rules and the
// inline style. The background shorthand feeds background-color.
func cascade(n *html.Node, rules []rule, props ...string) map[string]string {
	best := make(map[string]candidate, len(props))
	want := make(map[string]bool, len(props))
	for _, p := range props {
		want[p] = true
	}

	offer := func(d declaration, c candidate) {
		prop, value := d.prop, d.value
		if prop == "background" {
			prop, value = "background-color", shorthandColor(value)
			if value == "" {
				return
			}
		}
		if !want[prop] {
			return
		}
		c.value = value
		c.important = d.important
		c.set = true
		if c.beats(best[prop]) {
			best[prop] = c
		}
	}

	for _, r := range rules {
		if !r.sel.Match(n) {
			continue
		}
		for _, d := range r.decls {
			offer(d, candidate{spec: r.spec, order: r.order})
		}
	}
	for _, d := range parseDeclarations(attr(n, "style")) {
		offer(d, candidate{inline: true})
	}

	out := make(map[string]string, len(best))
	for p, c := range best {
		out[p] = c.value
	}
	return out
}

// shorthandColor picks the color component out of a background shorthand.
func shorthandColor(v string) string {
	lower := strings.ToLower(v)
	for _, fn := range []string{"rgba(", "rgb("} {
		if i := strings.Index(lower, fn); i >= 0 {
			if j := strings.IndexByte(lower[i:], ')'); j >= 0 {
				return v[i : i+j+1]
			}
		}
	}
	for _, f := range strings.Fields(v) {
		if strings.HasPrefix(f, "#") || f == "transparent" {
			return f
		}
	}
	return ""
}
