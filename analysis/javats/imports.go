package javats

import (
	"context"

	"github.com/draftcode/ijaas/analysis"
	sitter "github.com/smacker/go-tree-sitter"
)

// ImportCandidates returns, for every type name used in h that nothing in
// scope declares, the qualified names of indexed types it could refer to.
// Names appear in the order they are first used.
func (e *Engine) ImportCandidates(ctx context.Context, h analysis.Handle) ([][]string, error) {
	d, err := e.get(h)
	if err != nil {
		return nil, err
	}
	s := e.scope(d)
	var unresolved []string
	seen := map[string]bool{}
	walk(s.root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_declaration", "package_declaration":
			return false
		case "scoped_type_identifier":
			// Qualified names need no import.
			return false
		case "type_identifier":
			s.checkUnresolved(n, seen, &unresolved)
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := [][]string{}
	for _, name := range unresolved {
		names := []string{}
		for _, t := range s.index.Lookup(name) {
			names = append(names, t.qualified)
		}
		out = append(out, names)
	}
	return out, nil
}

func (s *scope) checkUnresolved(n *sitter.Node, seen map[string]bool, unresolved *[]string) {
	name := n.Content(s.doc.text)
	if seen[name] || declaresName(n) {
		return
	}
	seen[name] = true
	if s.imported(name) || s.typeParams(int(n.StartByte()))[name] || s.lookupType(name, false) != nil {
		return
	}
	*unresolved = append(*unresolved, name)
}
