// Package ident implements the identifier table: a two-way mapping
// between textual names and small, dense integer ids.
//
// Both the compiler and the interpreter address names by id rather than
// by string comparison — locals, constants, and method selectors are
// all interned once and then compared as plain integers on the hot
// path. A Table is safe for reuse across an entire process lifetime;
// interning is idempotent and order-independent.
package ident

// ID is an opaque, dense integer produced by Table.Intern. Two names
// intern to the same ID iff they are textually identical.
type ID uint32

// Table interns names to ids and back.
//
// Table is not safe for concurrent use; the VM is single-threaded per
// spec.md §5 and never shares a Table across goroutines.
type Table struct {
	byName map[string]ID
	byID   []string
}

// New creates an empty identifier table.
func New() *Table {
	return &Table{
		byName: make(map[string]ID),
	}
}

// Intern returns the id for name, assigning a fresh one on first sight.
// Calling Intern twice with the same name always returns the same id.
func (t *Table) Intern(name string) ID {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := ID(len(t.byID))
	t.byName[name] = id
	t.byID = append(t.byID, name)
	return id
}

// NameOf returns the name that interned to id. It panics if id was
// never produced by this table — a caller holding an ID it didn't get
// from Intern is a programmer error.
func (t *Table) NameOf(id ID) string {
	if int(id) >= len(t.byID) {
		panic("ident: id not present in table")
	}
	return t.byID[id]
}

// Len reports how many distinct names have been interned.
func (t *Table) Len() int {
	return len(t.byID)
}
