package javats

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// scope answers name lookups for one document.
type scope struct {
	index *Index
	doc   *document
	root  *sitter.Node
}

func (e *Engine) scope(d *document) *scope {
	return &scope{index: e.index, doc: d, root: d.tree.RootNode()}
}

type local struct {
	name   string
	typ    string
	offset int
}

func same(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// nodeAt returns the deepest node that contains offset.
func nodeAt(root *sitter.Node, offset int) *sitter.Node {
	n := root
	for {
		var next *sitter.Node
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if c == nil {
				continue
			}
			if int(c.StartByte()) <= offset && offset < int(c.EndByte()) {
				next = c
				break
			}
		}
		if next == nil {
			return n
		}
		n = next
	}
}

func isIdentifier(n *sitter.Node) bool {
	return n != nil && (n.Type() == "identifier" || n.Type() == "type_identifier")
}

// identifierAt returns the identifier under offset, or the one that ends
// right at offset.
func identifierAt(root *sitter.Node, offset int) *sitter.Node {
	if n := nodeAt(root, offset); isIdentifier(n) {
		return n
	}
	if offset > 0 {
		if n := nodeAt(root, offset-1); isIdentifier(n) {
			return n
		}
	}
	return nil
}

var declarationNames = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
	"method_declaration":          true,
	"constructor_declaration":     true,
	"variable_declarator":         true,
	"formal_parameter":            true,
	"catch_formal_parameter":      true,
	"enhanced_for_statement":      true,
	"enum_constant":               true,
	"resource":                    true,
}

// declaresName reports whether id is the name of the declaration it is part
// of, rather than a reference.
func declaresName(id *sitter.Node) bool {
	parent := id.Parent()
	if parent == nil || !declarationNames[parent.Type()] {
		return false
	}
	return same(parent.ChildByFieldName("name"), id)
}

func walk(n *sitter.Node, fn func(n *sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

// locals returns the local variables and parameters visible at offset,
// innermost first.
func (s *scope) locals(offset int) []local {
	src := s.doc.text
	var out []local
	declarators := func(decl *sitter.Node) {
		typ := ""
		if t := decl.ChildByFieldName("type"); t != nil {
			typ = t.Content(src)
		}
		for i := int(decl.NamedChildCount()) - 1; i >= 0; i-- {
			d := decl.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			if name := d.ChildByFieldName("name"); name != nil {
				out = append(out, local{name: name.Content(src), typ: typ, offset: int(name.StartByte())})
			}
		}
	}
	params := func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "identifier" {
			out = append(out, local{name: n.Content(src), offset: int(n.StartByte())})
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			p := n.NamedChild(i)
			switch p.Type() {
			case "identifier":
				out = append(out, local{name: p.Content(src), offset: int(p.StartByte())})
			case "formal_parameter":
				name := p.ChildByFieldName("name")
				typ := p.ChildByFieldName("type")
				if name != nil && typ != nil {
					out = append(out, local{name: name.Content(src), typ: typ.Content(src), offset: int(name.StartByte())})
				}
			case "spread_parameter":
				var l local
				for j := 0; j < int(p.NamedChildCount()); j++ {
					c := p.NamedChild(j)
					if c.Type() == "variable_declarator" {
						if name := c.ChildByFieldName("name"); name != nil {
							l.name = name.Content(src)
							l.offset = int(name.StartByte())
						}
					} else if c.Type() != "modifiers" && l.typ == "" {
						l.typ = c.Content(src) + "[]"
					}
				}
				if l.name != "" {
					out = append(out, l)
				}
			}
		}
	}

	for a := nodeAt(s.root, offset); a != nil; a = a.Parent() {
		switch a.Type() {
		case "block", "constructor_body", "switch_block_statement_group", "ERROR":
			for i := int(a.NamedChildCount()) - 1; i >= 0; i-- {
				c := a.NamedChild(i)
				if c.Type() == "local_variable_declaration" && int(c.EndByte()) <= offset {
					declarators(c)
				}
			}
		case "method_declaration", "constructor_declaration", "compact_constructor_declaration":
			params(a.ChildByFieldName("parameters"))
		case "lambda_expression":
			params(a.ChildByFieldName("parameters"))
		case "enhanced_for_statement":
			name := a.ChildByFieldName("name")
			typ := a.ChildByFieldName("type")
			if name != nil && typ != nil {
				out = append(out, local{name: name.Content(src), typ: typ.Content(src), offset: int(name.StartByte())})
			}
		case "for_statement":
			for i := 0; i < int(a.NamedChildCount()); i++ {
				if c := a.NamedChild(i); c.Type() == "local_variable_declaration" {
					declarators(c)
				}
			}
		case "catch_clause":
			for i := 0; i < int(a.NamedChildCount()); i++ {
				c := a.NamedChild(i)
				if c.Type() != "catch_formal_parameter" {
					continue
				}
				l := local{}
				for j := 0; j < int(c.NamedChildCount()); j++ {
					if t := c.NamedChild(j); t.Type() == "catch_type" {
						l.typ = t.Content(src)
					}
				}
				if name := c.ChildByFieldName("name"); name != nil {
					l.name = name.Content(src)
					l.offset = int(name.StartByte())
					out = append(out, l)
				}
			}
		case "try_with_resources_statement":
			walk(a.ChildByFieldName("resources"), func(n *sitter.Node) bool {
				if n.Type() != "resource" {
					return true
				}
				name := n.ChildByFieldName("name")
				typ := n.ChildByFieldName("type")
				if name != nil && typ != nil && int(n.EndByte()) <= offset {
					out = append(out, local{name: name.Content(src), typ: typ.Content(src), offset: int(name.StartByte())})
				}
				return false
			})
		}
	}
	return out
}

func (s *scope) local(name string, offset int) (local, bool) {
	for _, l := range s.locals(offset) {
		if l.name == name {
			return l, true
		}
	}
	return local{}, false
}

// typeParams returns the type variables declared around offset.
func (s *scope) typeParams(offset int) map[string]bool {
	out := map[string]bool{}
	for a := nodeAt(s.root, offset); a != nil; a = a.Parent() {
		for i := 0; i < int(a.NamedChildCount()); i++ {
			tps := a.NamedChild(i)
			if tps.Type() != "type_parameters" {
				continue
			}
			for j := 0; j < int(tps.NamedChildCount()); j++ {
				tp := tps.NamedChild(j)
				for k := 0; k < int(tp.NamedChildCount()); k++ {
					if id := tp.NamedChild(k); isIdentifier(id) {
						out[id.Content(s.doc.text)] = true
						break
					}
				}
			}
		}
	}
	return out
}

// lookupType finds the declaration of the simple type name. When lenient,
// a type anywhere in the index is accepted as a last resort.
func (s *scope) lookupType(name string, lenient bool) *typeDecl {
	u := s.doc.unit
	for _, t := range u.all() {
		if t.name == name {
			return t
		}
	}
	for _, imp := range u.imports {
		if !imp.static && !imp.wildcard && imp.simple() == name {
			if t := s.index.Qualified(imp.name); t != nil {
				return t
			}
		}
	}
	if t := s.index.Qualified(qualify(u.pkg, name)); t != nil {
		return t
	}
	for _, imp := range u.imports {
		if imp.wildcard && !imp.static {
			if t := s.index.Qualified(imp.name + "." + name); t != nil {
				return t
			}
		}
	}
	if t := s.index.Qualified("java.lang." + name); t != nil {
		return t
	}
	if lenient {
		if ts := s.index.Lookup(name); len(ts) > 0 {
			return ts[0]
		}
	}
	return nil
}

// resolveType finds the declaration of a type as written in source.
func (s *scope) resolveType(typ string) *typeDecl {
	raw := strings.TrimSpace(typ)
	if i := strings.IndexAny(raw, "<["); i >= 0 {
		raw = raw[:i]
	}
	if strings.Contains(raw, ".") {
		if t := s.index.Qualified(raw); t != nil {
			return t
		}
	}
	if raw == "" {
		return nil
	}
	return s.lookupType(simpleType(raw), true)
}

// imported reports whether name is brought into scope without being
// declared in the index.
func (s *scope) imported(name string) bool {
	if javaLang[name] {
		return true
	}
	for _, imp := range s.doc.unit.imports {
		if !imp.wildcard && imp.simple() == name {
			return true
		}
	}
	return false
}

// members returns the members of t and its supertypes. Members of t hide
// inherited members with the same signature.
func (s *scope) members(t *typeDecl) []*member {
	var out []*member
	seen := map[string]bool{}
	visited := map[*typeDecl]bool{}
	var visit func(t *typeDecl)
	visit = func(t *typeDecl) {
		if t == nil || visited[t] {
			return
		}
		visited[t] = true
		for _, m := range t.members {
			key := signature(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
		if t.superclass != "" {
			visit(s.lookupType(t.superclass, true))
		}
		for _, i := range t.interfaces {
			visit(s.lookupType(i, true))
		}
	}
	visit(t)
	return out
}

func signature(m *member) string {
	var b strings.Builder
	b.WriteString(m.name)
	if m.callable() {
		b.WriteByte('(')
		for _, p := range m.params {
			b.WriteString(simpleType(p.Type))
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
	return b.String()
}

func (s *scope) field(owners []*typeDecl, name string) *member {
	for _, t := range owners {
		for _, m := range s.members(t) {
			if !m.callable() && m.name == name {
				return m
			}
		}
	}
	return nil
}

func (s *scope) method(owners []*typeDecl, name string) *member {
	for _, t := range owners {
		for _, m := range s.members(t) {
			if m.kind == memberMethod && m.name == name {
				return m
			}
		}
	}
	return nil
}

// exprType returns the declared type of the expression n as written in
// source. static is set when n names a type rather than a value.
func (s *scope) exprType(n *sitter.Node) (typ string, static bool) {
	if n == nil {
		return "", false
	}
	src := s.doc.text
	offset := int(n.StartByte())
	switch n.Type() {
	case "identifier", "type_identifier":
		return s.nameType(n.Content(src), offset)
	case "this":
		if t := s.doc.unit.innermost(offset); t != nil {
			return t.name, false
		}
	case "super":
		if t := s.doc.unit.innermost(offset); t != nil {
			return t.superclass, false
		}
	case "field_access":
		objType, _ := s.exprType(n.ChildByFieldName("object"))
		owner := s.resolveType(objType)
		field := n.ChildByFieldName("field")
		if owner != nil && field != nil {
			name := field.Content(src)
			if m := s.field([]*typeDecl{owner}, name); m != nil {
				return m.typ, false
			}
			for _, nested := range owner.nested {
				if nested.name == name {
					return nested.name, true
				}
			}
		}
	case "method_invocation":
		name := n.ChildByFieldName("name")
		if name == nil {
			return "", false
		}
		owners := s.doc.unit.enclosing(offset)
		if obj := n.ChildByFieldName("object"); obj != nil {
			objType, _ := s.exprType(obj)
			owners = nil
			if t := s.resolveType(objType); t != nil {
				owners = append(owners, t)
			}
		}
		if m := s.method(owners, name.Content(src)); m != nil {
			return m.typ, false
		}
	case "object_creation_expression", "cast_expression":
		if t := n.ChildByFieldName("type"); t != nil {
			return t.Content(src), false
		}
	case "array_access":
		typ, _ := s.exprType(n.ChildByFieldName("array"))
		return strings.TrimSuffix(strings.TrimSpace(typ), "[]"), false
	case "string_literal":
		return "String", false
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return s.exprType(n.NamedChild(0))
		}
	}
	return "", false
}

// nameType returns the type of the variable or type called name at offset.
func (s *scope) nameType(name string, offset int) (typ string, static bool) {
	if name == "" {
		return "", false
	}
	if l, ok := s.local(name, offset); ok {
		return l.typ, false
	}
	if m := s.field(s.doc.unit.enclosing(offset), name); m != nil {
		return m.typ, false
	}
	if t := s.lookupType(name, true); t != nil {
		return t.name, true
	}
	if javaLang[name] {
		return name, true
	}
	return "", false
}

func qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}
