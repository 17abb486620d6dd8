package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.starlark.net/syntax"
)

// maxSuggestDistance is the edit-distance cutoff for "did you mean"
// suggestions. Anything farther away produces no suggestion rather than a
// noisy wrong one.
const maxSuggestDistance = 3

// Surface is the provider of the live SDK name sets. The script SDK
// implements it by introspecting its own module members, so the gate tracks
// SDK evolution without a hardcoded list.
type Surface interface {
	AIMethods() []string
	IntegrationNames() []string
}

// Correctness is the non-blocking gate: it checks call sites against the SDK
// surface and flags the patterns that silently break the extraction contract.
// Every finding here is medium or low severity; the pipeline warns and
// continues.
type Correctness struct {
	surface      Surface
	aiMethods    map[string]struct{}
	integrations map[string]struct{}
}

func NewCorrectness(surface Surface) *Correctness {
	g := &Correctness{surface: surface}
	g.Refresh()
	return g
}

// Refresh re-snapshots the SDK surface so long-lived processes do not drift
// from the live name set.
func (g *Correctness) Refresh() {
	g.aiMethods = toSet(g.surface.AIMethods())
	g.integrations = toSet(g.surface.IntegrationNames())
}

// Check returns warnings for unknown SDK methods, unknown integration names,
// and integrations initialized inside function bodies.
func (g *Correctness) Check(file *syntax.File) []Issue {
	var issues []Issue

	syntax.Walk(file, func(n syntax.Node) bool {
		switch node := n.(type) {
		case *syntax.CallExpr:
			issues = append(issues, g.checkAICall(node)...)
		case *syntax.DotExpr:
			issues = append(issues, g.checkIntegrationName(node)...)
		case *syntax.DefStmt:
			issues = append(issues, g.checkInitScope(node)...)
		}
		return true
	})

	return issues
}

func (g *Correctness) checkAICall(call *syntax.CallExpr) []Issue {
	name := dottedName(call.Fn)
	if !strings.HasPrefix(name, "ai.") {
		return nil
	}
	method := strings.TrimPrefix(name, "ai.")
	if strings.Contains(method, ".") {
		return nil
	}
	if _, ok := g.aiMethods[method]; ok {
		return nil
	}

	start, _ := call.Span()
	return []Issue{{
		Severity: SeverityMedium,
		Code:     "UNKNOWN_AI_METHOD",
		Message:  fmt.Sprintf("unknown method 'ai.%s'", method),
		FixHint:  g.hint("ai.", method, g.aiMethods),
		Line:     int(start.Line),
		Col:      int(start.Col),
	}}
}

func (g *Correctness) checkIntegrationName(dot *syntax.DotExpr) []Issue {
	base, ok := dot.X.(*syntax.Ident)
	if !ok || base.Name != "integrations" {
		return nil
	}
	name := dot.Name.Name
	if _, ok := g.integrations[name]; ok {
		return nil
	}

	start, _ := dot.Span()
	return []Issue{{
		Severity: SeverityMedium,
		Code:     "UNKNOWN_INTEGRATION",
		Message:  fmt.Sprintf("unknown integration 'integrations.%s'", name),
		FixHint:  g.hint("integrations.", name, g.integrations),
		Line:     int(start.Line),
		Col:      int(start.Col),
	}}
}

// checkInitScope flags integrations.<name>.init() inside a def body. The
// extractor only observes module-level side effects, so an init buried in a
// function registers nothing and its credentials are never injected.
func (g *Correctness) checkInitScope(def *syntax.DefStmt) []Issue {
	var issues []Issue
	for _, stmt := range def.Body {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			call, ok := n.(*syntax.CallExpr)
			if !ok {
				return true
			}
			name := dottedName(call.Fn)
			if strings.HasPrefix(name, "integrations.") && strings.HasSuffix(name, ".init") {
				start, _ := call.Span()
				issues = append(issues, Issue{
					Severity: SeverityMedium,
					Code:     "INTEGRATION_IN_FUNCTION",
					Message:  fmt.Sprintf("%s called inside function %q", name, def.Name.Name),
					FixHint:  "Move the init() call to module level so the platform can see it and inject credentials.",
					Line:     int(start.Line),
					Col:      int(start.Col),
				})
			}
			return true
		})
	}
	return issues
}

// hint computes the closest valid name within the edit-distance cutoff, or
// falls back to listing the valid names.
func (g *Correctness) hint(prefix, name string, valid map[string]struct{}) string {
	if best := Suggest(name, keys(valid)); best != "" {
		return fmt.Sprintf("Did you mean '%s%s'?", prefix, best)
	}
	return "Valid names: " + strings.Join(keys(valid), ", ")
}

// Suggest returns the candidate with the smallest edit distance from name,
// or "" if nothing is within the cutoff.
func Suggest(name string, candidates []string) string {
	best := ""
	bestDistance := maxSuggestDistance + 1

	for _, candidate := range candidates {
		distance := levenshtein.ComputeDistance(name, candidate)
		if distance < bestDistance {
			bestDistance = distance
			best = candidate
		}
	}
	return best
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
