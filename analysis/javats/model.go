package javats

import (
	"strings"

	"github.com/draftcode/ijaas/analysis"
	sitter "github.com/smacker/go-tree-sitter"
)

type memberKind int

const (
	memberField memberKind = iota
	memberMethod
	memberConstructor
	memberEnumConstant
)

// unit is what one compilation unit declares.
type unit struct {
	url     string
	pkg     string
	imports []importDecl
	types   []*typeDecl
}

type importDecl struct {
	name     string
	static   bool
	wildcard bool
	start    int
	end      int
}

// simple is the name an import brings into scope.
func (i importDecl) simple() string {
	return lastSegment(i.name)
}

type typeDecl struct {
	name       string
	qualified  string
	kind       string
	typeParams []string
	superclass string
	interfaces []string
	url        string
	offset     int
	start      int
	end        int
	pkg        string
	members    []*member
	nested     []*typeDecl
}

type member struct {
	name       string
	kind       memberKind
	typ        string
	typeParams string
	params     []analysis.Param
	throws     []string
	doc        string
	static     bool
	offset     int
	owner      *typeDecl
}

func (m *member) callable() bool {
	return m.kind == memberMethod || m.kind == memberConstructor
}

// all returns the types of u, nested ones included, outermost first.
func (u *unit) all() []*typeDecl {
	var out []*typeDecl
	var walk func(ts []*typeDecl)
	walk = func(ts []*typeDecl) {
		for _, t := range ts {
			out = append(out, t)
			walk(t.nested)
		}
	}
	walk(u.types)
	return out
}

// innermost returns the innermost type whose declaration contains offset.
func (u *unit) innermost(offset int) *typeDecl {
	var found *typeDecl
	for _, t := range u.all() {
		if t.start <= offset && offset <= t.end {
			if found == nil || t.start >= found.start {
				found = t
			}
		}
	}
	return found
}

// enclosing returns the types containing offset, innermost first.
func (u *unit) enclosing(offset int) []*typeDecl {
	var out []*typeDecl
	for _, t := range u.all() {
		if t.start <= offset && offset <= t.end {
			out = append([]*typeDecl{t}, out...)
		}
	}
	return out
}

var typeDeclarations = map[string]string{
	"class_declaration":           "class",
	"interface_declaration":       "interface",
	"enum_declaration":            "enum",
	"record_declaration":          "record",
	"annotation_type_declaration": "annotation",
}

func extract(root *sitter.Node, src []byte, url string) *unit {
	u := &unit{url: url}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "package_declaration":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				n := child.NamedChild(j)
				if n.Type() == "scoped_identifier" || n.Type() == "identifier" {
					u.pkg = n.Content(src)
				}
			}
		case "import_declaration":
			if imp, ok := extractImport(child, src); ok {
				u.imports = append(u.imports, imp)
			}
		default:
			if _, ok := typeDeclarations[child.Type()]; ok {
				u.types = append(u.types, extractType(child, src, url, u.pkg, ""))
			}
		}
	}
	return u
}

func extractImport(n *sitter.Node, src []byte) (importDecl, bool) {
	imp := importDecl{start: int(n.StartByte()), end: int(n.EndByte())}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			imp.static = true
		case "asterisk":
			imp.wildcard = true
		case "scoped_identifier", "identifier":
			imp.name = c.Content(src)
		}
	}
	return imp, imp.name != ""
}

func extractType(n *sitter.Node, src []byte, url, pkg, outer string) *typeDecl {
	t := &typeDecl{
		kind:  typeDeclarations[n.Type()],
		url:   url,
		pkg:   pkg,
		start: int(n.StartByte()),
		end:   int(n.EndByte()),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		t.name = name.Content(src)
		t.offset = int(name.StartByte())
	}
	switch {
	case outer != "":
		t.qualified = outer + "." + t.name
	case pkg != "":
		t.qualified = pkg + "." + t.name
	default:
		t.qualified = t.name
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "type_parameters":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				tp := c.NamedChild(j)
				if tp.Type() != "type_parameter" {
					continue
				}
				for k := 0; k < int(tp.NamedChildCount()); k++ {
					id := tp.NamedChild(k)
					if id.Type() == "type_identifier" || id.Type() == "identifier" {
						t.typeParams = append(t.typeParams, id.Content(src))
						break
					}
				}
			}
		case "superclass":
			if c.NamedChildCount() > 0 {
				t.superclass = simpleType(c.NamedChild(0).Content(src))
			}
		case "super_interfaces", "extends_interfaces":
			t.interfaces = append(t.interfaces, typeList(c, src)...)
		}
	}

	if params := n.ChildByFieldName("parameters"); params != nil && t.kind == "record" {
		for _, p := range extractParams(params, src) {
			t.members = append(t.members,
				&member{name: p.Name, kind: memberField, typ: p.Type, offset: t.offset, owner: t},
				&member{name: p.Name, kind: memberMethod, typ: p.Type, offset: t.offset, owner: t},
			)
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		extractBody(t, body, src)
	}
	return t
}

func typeList(n *sitter.Node, src []byte) []string {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "type_list" {
			out = append(out, typeList(c, src)...)
			continue
		}
		out = append(out, simpleType(c.Content(src)))
	}
	return out
}

func extractBody(t *typeDecl, body *sitter.Node, src []byte) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		switch c.Type() {
		case "enum_constant":
			if name := c.ChildByFieldName("name"); name != nil {
				t.members = append(t.members, &member{
					name:   name.Content(src),
					kind:   memberEnumConstant,
					typ:    t.name,
					static: true,
					offset: int(name.StartByte()),
					owner:  t,
				})
			}
		case "enum_body_declarations":
			extractBody(t, c, src)
		case "field_declaration", "constant_declaration":
			typ := ""
			if tn := c.ChildByFieldName("type"); tn != nil {
				typ = tn.Content(src)
			}
			static := hasModifier(c, src, "static") || c.Type() == "constant_declaration" || t.kind == "interface"
			for j := 0; j < int(c.NamedChildCount()); j++ {
				d := c.NamedChild(j)
				if d.Type() != "variable_declarator" {
					continue
				}
				if name := d.ChildByFieldName("name"); name != nil {
					t.members = append(t.members, &member{
						name:   name.Content(src),
						kind:   memberField,
						typ:    typ,
						static: static,
						doc:    docComment(c, src),
						offset: int(name.StartByte()),
						owner:  t,
					})
				}
			}
		case "method_declaration", "constructor_declaration":
			t.members = append(t.members, extractMethod(t, c, src))
		default:
			if _, ok := typeDeclarations[c.Type()]; ok {
				t.nested = append(t.nested, extractType(c, src, t.url, t.pkg, t.qualified))
			}
		}
	}
}

func extractMethod(t *typeDecl, n *sitter.Node, src []byte) *member {
	m := &member{
		kind:   memberMethod,
		static: hasModifier(n, src, "static"),
		doc:    docComment(n, src),
		owner:  t,
	}
	if n.Type() == "constructor_declaration" {
		m.kind = memberConstructor
	}
	if name := n.ChildByFieldName("name"); name != nil {
		m.name = name.Content(src)
		m.offset = int(name.StartByte())
	}
	if typ := n.ChildByFieldName("type"); typ != nil {
		m.typ = typ.Content(src)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		m.params = extractParams(params, src)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "type_parameters":
			m.typeParams = c.Content(src)
		case "throws":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				m.throws = append(m.throws, c.NamedChild(j).Content(src))
			}
		}
	}
	return m
}

func extractParams(n *sitter.Node, src []byte) []analysis.Param {
	params := []analysis.Param{}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "formal_parameter":
			p := analysis.Param{}
			if typ := c.ChildByFieldName("type"); typ != nil {
				p.Type = typ.Content(src)
			}
			if name := c.ChildByFieldName("name"); name != nil {
				p.Name = name.Content(src)
			}
			params = append(params, p)
		case "spread_parameter":
			p := analysis.Param{}
			for j := 0; j < int(c.NamedChildCount()); j++ {
				s := c.NamedChild(j)
				switch {
				case s.Type() == "variable_declarator":
					if name := s.ChildByFieldName("name"); name != nil {
						p.Name = name.Content(src)
					}
				case s.Type() != "modifiers" && p.Type == "":
					p.Type = s.Content(src) + "..."
				}
			}
			params = append(params, p)
		}
	}
	return params
}

func hasModifier(n *sitter.Node, src []byte, modifier string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(c.ChildCount()); j++ {
			if c.Child(j).Content(src) == modifier {
				return true
			}
		}
	}
	return false
}

func isComment(n *sitter.Node) bool {
	switch n.Type() {
	case "comment", "block_comment", "line_comment":
		return true
	}
	return false
}

// docComment returns the /** */ comment right before n, if any.
func docComment(n *sitter.Node, src []byte) string {
	prev := n.PrevSibling()
	if prev == nil || !isComment(prev) {
		return ""
	}
	text := prev.Content(src)
	if !strings.HasPrefix(text, "/**") {
		return ""
	}
	return text
}

// simpleType reduces a type as written to the simple name of its class:
// java.util.List<String>[] becomes List.
func simpleType(typ string) string {
	typ = strings.TrimSpace(typ)
	if i := strings.IndexAny(typ, "<["); i >= 0 {
		typ = typ[:i]
	}
	typ = strings.TrimSuffix(typ, "...")
	return lastSegment(strings.TrimSpace(typ))
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func packageOf(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[:i]
	}
	return ""
}
