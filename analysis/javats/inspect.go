package javats

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/draftcode/ijaas/analysis"
	sitter "github.com/smacker/go-tree-sitter"
)

// Inspection rule names.
const (
	RuleSyntaxError     = "SyntaxError"
	RuleMissingToken    = "MissingToken"
	RuleUnusedImport    = "UnusedImport"
	RuleEmptyCatchBlock = "EmptyCatchBlock"
)

// javadocRef matches the types Javadoc tags refer to.
var javadocRef = regexp.MustCompile(`(?:\{@link(?:plain)?|@see|@throws|@exception)\s+([A-Za-z_$][\w$]*)`)

func element(n *sitter.Node) *analysis.SourceElement {
	return &analysis.SourceElement{
		TextRange: analysis.TextRange{Start: int(n.StartByte()), End: int(n.EndByte())},
	}
}

func (e *Engine) RunInspections(ctx context.Context, h analysis.Handle) ([]analysis.Finding, error) {
	d, err := e.get(h)
	if err != nil {
		return nil, err
	}
	root := d.tree.RootNode()
	findings := []analysis.Finding{}
	walk(root, func(n *sitter.Node) bool {
		switch {
		case n.Type() == "ERROR":
			findings = append(findings, analysis.Finding{
				Rule:          RuleSyntaxError,
				HighlightType: analysis.HighlightError,
				Message:       syntaxMessage(n, d.text),
				Start:         element(n),
			})
			return false
		case n.IsMissing():
			findings = append(findings, analysis.Finding{
				Rule:          RuleMissingToken,
				HighlightType: analysis.HighlightGenericError,
				Message:       missingMessage(n),
				Start:         element(n),
			})
			return false
		case n.Type() == "catch_clause":
			if f, ok := emptyCatch(n); ok {
				findings = append(findings, f)
			}
		}
		return true
	})
	findings = append(findings, unusedImports(d)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

func syntaxMessage(n *sitter.Node, src []byte) string {
	leaf := n
	for leaf.ChildCount() > 0 {
		leaf = leaf.Child(0)
	}
	token := strings.TrimSpace(leaf.Content(src))
	if token == "" {
		return "Syntax error"
	}
	return fmt.Sprintf("Unexpected '%s'", token)
}

func missingMessage(n *sitter.Node) string {
	if n.IsNamed() {
		return fmt.Sprintf("%s expected", strings.ReplaceAll(n.Type(), "_", " "))
	}
	return fmt.Sprintf("'%s' expected", n.Type())
}

func emptyCatch(n *sitter.Node) (analysis.Finding, bool) {
	body := n.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() > 0 || body.HasError() {
		return analysis.Finding{}, false
	}
	keyword := n.Child(0)
	return analysis.Finding{
		Rule:          RuleEmptyCatchBlock,
		HighlightType: analysis.HighlightWeakWarning,
		Message:       "Empty 'catch' block",
		Start:         element(keyword),
		End:           element(body),
	}, true
}

func unusedImports(d *document) []analysis.Finding {
	used := map[string]bool{}
	walk(d.tree.RootNode(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_declaration", "package_declaration":
			return false
		case "identifier", "type_identifier":
			used[n.Content(d.text)] = true
		case "block_comment", "comment":
			for _, m := range javadocRef.FindAllStringSubmatch(n.Content(d.text), -1) {
				used[m[1]] = true
			}
		}
		return true
	})
	var out []analysis.Finding
	for _, imp := range d.unit.imports {
		if imp.wildcard || used[imp.simple()] {
			continue
		}
		out = append(out, analysis.Finding{
			Rule:          RuleUnusedImport,
			HighlightType: analysis.HighlightUnusedSymbol,
			Message:       "Unused import statement",
			Start: &analysis.SourceElement{
				TextRange: analysis.TextRange{Start: imp.start, End: imp.end},
			},
		})
	}
	return out
}
