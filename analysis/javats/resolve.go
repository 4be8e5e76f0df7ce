package javats

import (
	"context"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/errdefs"
	sitter "github.com/smacker/go-tree-sitter"
)

func typeElement(t *typeDecl) analysis.Element {
	return analysis.Element{URL: diskURL(t.url), Offset: t.offset, Name: t.name}
}

func memberElement(m *member) analysis.Element {
	return analysis.Element{URL: diskURL(m.owner.url), Offset: m.offset, Name: m.name}
}

func (e *Engine) ResolveReferenceAt(ctx context.Context, h analysis.Handle, offset int) (analysis.Element, bool, error) {
	d, err := e.get(h)
	if err != nil {
		return analysis.Element{}, false, err
	}
	if offset < 0 || offset > len(d.text) {
		return analysis.Element{}, false, errdefs.Validationf("offset %d is outside of %s (length %d)", offset, d.url, len(d.text))
	}
	s := e.scope(d)
	id := identifierAt(s.root, offset)
	if id == nil || declaresName(id) {
		return analysis.Element{}, false, nil
	}
	el, ok := s.resolve(id)
	return el, ok, nil
}

func (s *scope) resolve(id *sitter.Node) (analysis.Element, bool) {
	src := s.doc.text
	name := id.Content(src)
	offset := int(id.StartByte())
	parent := id.Parent()

	if q := importedName(id, src); q != "" {
		if t := s.index.Qualified(q); t != nil {
			return typeElement(t), true
		}
		return analysis.Element{}, false
	}

	if parent != nil {
		switch parent.Type() {
		case "method_invocation":
			if !same(parent.ChildByFieldName("name"), id) {
				break
			}
			owners := s.doc.unit.enclosing(offset)
			if obj := parent.ChildByFieldName("object"); obj != nil {
				typ, _ := s.exprType(obj)
				owners = nil
				if t := s.resolveType(typ); t != nil {
					owners = append(owners, t)
				}
			}
			if m := s.method(owners, name); m != nil {
				return memberElement(m), true
			}
			return analysis.Element{}, false
		case "field_access":
			if !same(parent.ChildByFieldName("field"), id) {
				break
			}
			typ, _ := s.exprType(parent.ChildByFieldName("object"))
			t := s.resolveType(typ)
			if t == nil {
				return analysis.Element{}, false
			}
			if m := s.field([]*typeDecl{t}, name); m != nil {
				return memberElement(m), true
			}
			for _, nested := range t.nested {
				if nested.name == name {
					return typeElement(nested), true
				}
			}
			return analysis.Element{}, false
		}
	}

	if id.Type() == "identifier" {
		if l, ok := s.local(name, offset); ok {
			return analysis.Element{URL: diskURL(s.doc.url), Offset: l.offset, Name: l.name}, true
		}
		if m := s.field(s.doc.unit.enclosing(offset), name); m != nil {
			return memberElement(m), true
		}
	}
	if t := s.lookupType(name, true); t != nil {
		return typeElement(t), true
	}
	return analysis.Element{}, false
}

// importedName returns the qualified name id ends, when id is part of an
// import or package declaration.
func importedName(id *sitter.Node, src []byte) string {
	inImport := false
	for a := id.Parent(); a != nil; a = a.Parent() {
		if a.Type() == "import_declaration" || a.Type() == "package_declaration" {
			inImport = true
			break
		}
		if a.Type() != "scoped_identifier" {
			return ""
		}
	}
	if !inImport {
		return ""
	}
	// The prefix of the scoped name up to and including id.
	n := id
	for p := id.Parent(); p != nil && p.Type() == "scoped_identifier"; p = p.Parent() {
		if p.EndByte() != id.EndByte() {
			break
		}
		n = p
	}
	return n.Content(src)
}

var elementNodes = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
	"method_declaration":          true,
	"constructor_declaration":     true,
	"variable_declarator":         true,
	"formal_parameter":            true,
	"enum_constant":               true,
}

func (e *Engine) ElementAt(ctx context.Context, h analysis.Handle, offset int) (analysis.Element, bool, error) {
	d, err := e.get(h)
	if err != nil {
		return analysis.Element{}, false, err
	}
	if offset < 0 || offset > len(d.text) {
		return analysis.Element{}, false, errdefs.Validationf("offset %d is outside of %s (length %d)", offset, d.url, len(d.text))
	}
	for a := nodeAt(d.tree.RootNode(), offset); a != nil; a = a.Parent() {
		if !elementNodes[a.Type()] {
			continue
		}
		if name := a.ChildByFieldName("name"); name != nil {
			return analysis.Element{URL: diskURL(d.url), Offset: int(name.StartByte()), Name: name.Content(d.text)}, true, nil
		}
	}
	return analysis.Element{}, false, nil
}
