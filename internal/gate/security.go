package gate

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// RuleKind selects how a security rule matches the syntax tree.
type RuleKind int

const (
	// RuleLoad matches load() of a named module.
	RuleLoad RuleKind = iota
	// RuleCall matches a call whose dotted name equals the rule name.
	RuleCall
	// RuleCallPrefix matches a call whose dotted name starts with the rule
	// name plus a dot (os -> os.system, os.popen, ...).
	RuleCallPrefix
	// RuleFileWrite matches a call to the named function whose mode argument
	// requests write or append access.
	RuleFileWrite
)

// SecurityRule is one declarative deny-list entry. The walker interprets the
// rule set; adding a rule never touches the walking logic.
type SecurityRule struct {
	Kind     RuleKind
	Name     string
	Severity Severity
	Code     string
	Message  string
}

// DefaultSecurityRules is the deny list applied to every script: process and
// OS access, raw sockets, dynamic evaluation, and file writes.
func DefaultSecurityRules() []SecurityRule {
	rules := []SecurityRule{
		{RuleCall, "eval", SeverityCritical, "DYNAMIC_EVAL", "call to dynamic evaluation primitive 'eval'"},
		{RuleCall, "exec", SeverityCritical, "DYNAMIC_EVAL", "call to dynamic evaluation primitive 'exec'"},
		{RuleCall, "compile", SeverityCritical, "DYNAMIC_EVAL", "call to dynamic evaluation primitive 'compile'"},
		{RuleCall, "__import__", SeverityCritical, "DYNAMIC_IMPORT", "call to dynamic import primitive '__import__'"},
		{RuleFileWrite, "open", SeverityCritical, "FILE_WRITE", "file opened for writing"},
		{RuleCall, "open", SeverityHigh, "FILE_ACCESS", "direct file access is not available to scripts"},
		{RuleCall, "write_file", SeverityCritical, "FILE_WRITE", "file write call"},
	}
	for _, mod := range []string{"os", "sys", "subprocess", "socket", "shutil", "ctypes", "importlib", "io", "pathlib"} {
		rules = append(rules,
			SecurityRule{RuleLoad, mod, SeverityCritical, "DENIED_IMPORT",
				fmt.Sprintf("load of denied module %q", mod)},
			SecurityRule{RuleCallPrefix, mod, SeverityCritical, "DENIED_MODULE_CALL",
				fmt.Sprintf("call into denied module %q", mod)},
		)
	}
	return rules
}

// Security is the blocking gate. Matching is purely structural over the
// parsed syntax tree; untrusted code is never imported or executed here.
type Security struct {
	rules []SecurityRule
}

func NewSecurity(rules []SecurityRule) *Security {
	if rules == nil {
		rules = DefaultSecurityRules()
	}
	return &Security{rules: rules}
}

// Check walks the tree and returns every finding, not just the first, so the
// author can fix them all in one pass.
func (g *Security) Check(file *syntax.File) []Issue {
	var issues []Issue

	syntax.Walk(file, func(n syntax.Node) bool {
		switch node := n.(type) {
		case *syntax.LoadStmt:
			issues = append(issues, g.checkLoad(node)...)
		case *syntax.CallExpr:
			issues = append(issues, g.checkCall(node)...)
		}
		return true
	})

	return issues
}

func (g *Security) checkLoad(node *syntax.LoadStmt) []Issue {
	module := node.ModuleName()
	var issues []Issue
	for _, rule := range g.rules {
		if rule.Kind == RuleLoad && rule.Name == module {
			issues = append(issues, issueAt(rule, node))
		}
	}
	return issues
}

func (g *Security) checkCall(node *syntax.CallExpr) []Issue {
	name := dottedName(node.Fn)
	if name == "" {
		return nil
	}

	var issues []Issue
	for _, rule := range g.rules {
		switch rule.Kind {
		case RuleCall:
			if name == rule.Name {
				issues = append(issues, issueAt(rule, node))
			}
		case RuleCallPrefix:
			if strings.HasPrefix(name, rule.Name+".") {
				issues = append(issues, issueAt(rule, node))
			}
		case RuleFileWrite:
			if name == rule.Name && hasWriteMode(node) {
				issues = append(issues, issueAt(rule, node))
			}
		}
	}
	return issues
}

// dottedName flattens an Ident or DotExpr chain ("integrations.gmail.init")
// into its source form; non-name callees return "".
func dottedName(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Ident:
		return e.Name
	case *syntax.DotExpr:
		base := dottedName(e.X)
		if base == "" {
			return ""
		}
		return base + "." + e.Name.Name
	default:
		return ""
	}
}

// hasWriteMode reports whether a call carries a string mode argument
// containing 'w', 'a', or '+'.
func hasWriteMode(call *syntax.CallExpr) bool {
	for _, arg := range call.Args {
		expr := arg
		if bin, ok := arg.(*syntax.BinaryExpr); ok && bin.Op == syntax.EQ {
			// keyword argument mode="w"
			expr = bin.Y
		}
		lit, ok := expr.(*syntax.Literal)
		if !ok || lit.Token != syntax.STRING {
			continue
		}
		mode, ok := lit.Value.(string)
		if !ok {
			continue
		}
		if strings.ContainsAny(mode, "wa+") && len(mode) <= 3 {
			return true
		}
	}
	return false
}

func issueAt(rule SecurityRule, node syntax.Node) Issue {
	start, _ := node.Span()
	return Issue{
		Severity: rule.Severity,
		Code:     rule.Code,
		Message:  rule.Message,
		FixHint:  "Remove the flagged construct; scripts interact with the outside world only through the platform SDK.",
		Line:     int(start.Line),
		Col:      int(start.Col),
	}
}
