package javats

import (
	"sort"
	"sync"
)

// javaLang are the java.lang types that are always in scope.
var javaLang = map[string]bool{
	"Appendable": true, "AutoCloseable": true, "Boolean": true, "Byte": true,
	"CharSequence": true, "Character": true, "Class": true, "ClassLoader": true,
	"Cloneable": true, "Comparable": true, "Deprecated": true, "Double": true,
	"Enum": true, "Error": true, "Exception": true, "Float": true,
	"FunctionalInterface": true, "IllegalArgumentException": true,
	"IllegalStateException": true, "IndexOutOfBoundsException": true,
	"Integer": true, "InterruptedException": true, "Iterable": true,
	"Long": true, "Math": true, "NullPointerException": true, "Number": true,
	"Object": true, "Override": true, "Process": true, "Record": true,
	"Runnable": true, "Runtime": true, "RuntimeException": true, "Short": true,
	"StringBuilder": true, "String": true, "SuppressWarnings": true,
	"System": true, "Thread": true, "Throwable": true,
	"UnsupportedOperationException": true, "Void": true,
}

// Index maps type names to their declarations across indexed files.
type Index struct {
	mu        sync.RWMutex
	byName    map[string][]*typeDecl
	qualified map[string]*typeDecl
	byURL     map[string]*unit
}

func NewIndex() *Index {
	return &Index{
		byName:    map[string][]*typeDecl{},
		qualified: map[string]*typeDecl{},
		byURL:     map[string]*unit{},
	}
}

// Add records the types of u, replacing whatever was known about u.url.
func (ix *Index) Add(u *unit) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.byURL[u.url]; ok {
		for _, t := range old.all() {
			ix.remove(t)
		}
	}
	ix.byURL[u.url] = u
	for _, t := range u.all() {
		if t.name == "" {
			continue
		}
		ix.byName[t.name] = append(ix.byName[t.name], t)
		ix.qualified[t.qualified] = t
	}
}

func (ix *Index) remove(t *typeDecl) {
	decls := ix.byName[t.name]
	for i, d := range decls {
		if d == t {
			decls = append(decls[:i:i], decls[i+1:]...)
			break
		}
	}
	if len(decls) == 0 {
		delete(ix.byName, t.name)
	} else {
		ix.byName[t.name] = decls
	}
	if ix.qualified[t.qualified] == t {
		delete(ix.qualified, t.qualified)
	}
}

// Lookup returns the types named simple, ordered by qualified name.
func (ix *Index) Lookup(simple string) []*typeDecl {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := append([]*typeDecl(nil), ix.byName[simple]...)
	sort.Slice(out, func(i, j int) bool { return out[i].qualified < out[j].qualified })
	return out
}

func (ix *Index) Qualified(name string) *typeDecl {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.qualified[name]
}

// Names returns the simple names known to the index, sorted.
func (ix *Index) Names() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.byName))
	for n := range ix.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len is the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byURL)
}
