package javats

import (
	"context"
	"strings"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/errdefs"
	sitter "github.com/smacker/go-tree-sitter"
)

var keywords = []string{
	"abstract", "assert", "boolean", "break", "byte", "case", "catch", "char",
	"class", "continue", "default", "do", "double", "else", "enum", "extends",
	"false", "final", "finally", "float", "for", "if", "implements", "import",
	"instanceof", "int", "interface", "long", "new", "null", "package",
	"private", "protected", "public", "return", "short", "static", "super",
	"switch", "synchronized", "this", "throw", "throws", "true", "try", "var",
	"void", "volatile", "while",
}

func isIdentPart(b byte) bool {
	return b == '_' || b == '$' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= 0x80
}

func (e *Engine) CompleteAt(ctx context.Context, h analysis.Handle, offset int) ([]analysis.Candidate, error) {
	d, err := e.get(h)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > len(d.text) {
		return nil, errdefs.Validationf("offset %d is outside of %s (length %d)", offset, d.url, len(d.text))
	}
	s := e.scope(d)

	start := offset
	for start > 0 && isIdentPart(d.text[start-1]) {
		start--
	}
	prefix := string(d.text[start:offset])

	var cands []analysis.Candidate
	if dot := receiverDot(d.text, start); dot >= 0 {
		cands = s.memberCandidates(dot, offset)
	} else {
		cands = s.scopeCandidates(offset, prefix)
	}

	out := []analysis.Candidate{}
	seen := map[string]bool{}
	for _, c := range cands {
		if !strings.HasPrefix(c.LookupString, prefix) {
			continue
		}
		key := c.Kind.String() + "\x00" + c.LookupString + "\x00" + c.TailText
		if seen[key] {
			continue
		}
		seen[key] = true
		c.PrefixLength = len(prefix)
		out = append(out, c)
	}
	e.log.V(7).Info("completed", "url", d.url, "offset", offset, "prefix", prefix, "candidates", len(out))
	return out, nil
}

// receiverDot returns the offset of the '.' that precedes the identifier
// starting at start, or -1.
func receiverDot(text []byte, start int) int {
	i := start - 1
	for i >= 0 && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
		i--
	}
	if i < 0 || text[i] != '.' {
		return -1
	}
	j := i - 1
	for j >= 0 && (text[j] == ' ' || text[j] == '\t') {
		j--
	}
	// A number literal like 1. is not a receiver.
	if j < 0 || text[j] >= '0' && text[j] <= '9' && !isIdentPart(prev(text, j)) {
		return -1
	}
	return i
}

func prev(text []byte, i int) byte {
	for i > 0 && text[i-1] >= '0' && text[i-1] <= '9' {
		i--
	}
	if i == 0 {
		return 0
	}
	return text[i-1]
}

var receiverNodes = map[string]bool{
	"identifier":                 true,
	"type_identifier":            true,
	"this":                       true,
	"super":                      true,
	"string_literal":             true,
	"field_access":               true,
	"method_invocation":          true,
	"argument_list":              true,
	"parenthesized_expression":   true,
	"object_creation_expression": true,
	"array_access":               true,
	"cast_expression":            true,
}

// receiver returns the expression that ends right before the '.' at dot.
func (s *scope) receiver(dot int) *sitter.Node {
	end := dot
	for end > 0 && (s.doc.text[end-1] == ' ' || s.doc.text[end-1] == '\t') {
		end--
	}
	if end == 0 {
		return nil
	}
	n := nodeAt(s.root, end-1)
	for p := n.Parent(); p != nil && int(p.EndByte()) == end && receiverNodes[p.Type()]; p = n.Parent() {
		n = p
	}
	if n.Type() == "argument_list" {
		n = n.Parent()
	}
	return n
}

func (s *scope) memberCandidates(dot, offset int) []analysis.Candidate {
	recv := s.receiver(dot)
	typ, static := s.exprType(recv)
	if typ == "" {
		// Broken code around the cursor; fall back to the identifier text.
		name := identifierBefore(s.doc.text, dot)
		typ, static = s.nameType(name, offset)
	}
	owner := s.resolveType(typ)
	if owner == nil {
		return nil
	}
	var out []analysis.Candidate
	for _, m := range s.members(owner) {
		if m.kind == memberConstructor {
			continue
		}
		if static && !m.static {
			continue
		}
		out = append(out, memberCandidate(m))
	}
	if static {
		for _, t := range owner.nested {
			out = append(out, typeCandidate(t.name, owner.qualified, t))
		}
	}
	return out
}

func identifierBefore(text []byte, end int) string {
	for end > 0 && (text[end-1] == ' ' || text[end-1] == '\t') {
		end--
	}
	start := end
	for start > 0 && isIdentPart(text[start-1]) {
		start--
	}
	return string(text[start:end])
}

func (s *scope) scopeCandidates(offset int, prefix string) []analysis.Candidate {
	var out []analysis.Candidate
	for _, l := range s.locals(offset) {
		out = append(out, analysis.Candidate{
			LookupString: l.name,
			Kind:         analysis.KindVariable,
			Category:     "local variable",
			TypeText:     l.typ,
			Declaration:  &analysis.Declaration{Name: l.name},
		})
	}
	for _, t := range s.doc.unit.enclosing(offset) {
		for _, m := range s.members(t) {
			if m.kind == memberConstructor {
				continue
			}
			out = append(out, memberCandidate(m))
		}
	}

	u := s.doc.unit
	for _, t := range u.all() {
		out = append(out, typeCandidate(t.name, packageOf(t.qualified), t))
	}
	for tp := range s.typeParams(offset) {
		out = append(out, analysis.Candidate{
			LookupString: tp,
			Kind:         analysis.KindType,
			Category:     "type parameter",
			Declaration:  &analysis.Declaration{Name: tp},
		})
	}
	for _, imp := range u.imports {
		if imp.wildcard || imp.static {
			continue
		}
		out = append(out, typeCandidate(imp.simple(), packageOf(imp.name), s.index.Qualified(imp.name)))
	}
	if prefix != "" {
		for name := range javaLang {
			out = append(out, typeCandidate(name, "java.lang", nil))
		}
		for _, name := range s.index.Names() {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			for _, t := range s.index.Lookup(name) {
				out = append(out, typeCandidate(t.name, packageOf(t.qualified), t))
			}
		}
	}
	for _, kw := range keywords {
		out = append(out, analysis.Candidate{
			LookupString: kw,
			Kind:         analysis.KindKeyword,
			Category:     "keyword",
			Declaration:  &analysis.Declaration{Name: kw},
		})
	}
	return out
}

func memberCandidate(m *member) analysis.Candidate {
	decl := &analysis.Declaration{
		Name:       m.name,
		TypeParams: m.typeParams,
		ReturnType: m.typ,
		Params:     m.params,
		Throws:     m.throws,
		DocComment: m.doc,
	}
	if !m.callable() {
		return analysis.Candidate{
			LookupString: m.name,
			Kind:         analysis.KindVariable,
			Category:     "field",
			TypeText:     m.typ,
			Declaration:  decl,
		}
	}
	params := make([]string, 0, len(m.params))
	for _, p := range m.params {
		params = append(params, strings.TrimSpace(p.Type+" "+p.Name))
	}
	return analysis.Candidate{
		LookupString: m.name,
		Kind:         analysis.KindCallable,
		Category:     "method",
		TypeText:     m.typ,
		TailText:     "(" + strings.Join(params, ", ") + ")",
		Declaration:  decl,
	}
}

// typeCandidate proposes name; t is nil for types outside the index.
func typeCandidate(name, container string, t *typeDecl) analysis.Candidate {
	c := analysis.Candidate{
		LookupString: name,
		Kind:         analysis.KindType,
		Category:     "class",
		Declaration:  &analysis.Declaration{Name: name},
	}
	if container != "" {
		c.TailText = " (" + container + ")"
	}
	if t != nil {
		c.Category = t.kind
		if len(t.typeParams) > 0 {
			c.Declaration.TypeParams = "<" + strings.Join(t.typeParams, ", ") + ">"
		}
	}
	return c
}
