package chidb

import (
	"github.com/armon/go-radix"
)

// SchemaEntry is one row of the schema table: a table or index and the
// root page of its B-tree.
type SchemaEntry struct {
	Type     string // "table" or "index"
	Name     string
	Assoc    string // table this index is on (equal to Name for tables)
	RootPage uint32
	SQL      string
}

// Schema is the in-memory mirror of the schema table, rebuilt from disk
// after every successful CREATE TABLE. Entries are indexed by name
// in a radix tree, which also gives prefix lookups for free should a
// future front-end want tab completion over table names.
type Schema struct {
	bt      *BTree
	rootPg  uint32
	byName  *radix.Tree
	entries []SchemaEntry

	needsReload bool
}

// LoadSchema walks the schema table rooted at rootPage and builds an
// in-memory Schema from its rows.
func LoadSchema(bt *BTree, rootPage uint32) (*Schema, error) {
	s := &Schema{bt: bt, rootPg: rootPage, byName: radix.New()}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// MarkDirty flags the schema for reload on next access, mirroring the
// original engine's need_refresh flag after a successful CREATE TABLE.
func (s *Schema) MarkDirty() {
	s.needsReload = true
}

func (s *Schema) reload() error {
	cur, err := NewCursor(s.bt, s.rootPg)
	if err != nil {
		return err
	}

	entries := make([]SchemaEntry, 0)
	byName := radix.New()

	err = cur.Rewind()
	for err == nil {
		cell := cur.Current()
		values, unpackErr := Unpack(cell.Payload())
		if unpackErr != nil {
			return unpackErr
		}
		if len(values) != 5 {
			return newErr(CodeCorruptHeader, "schema row has %d columns, want 5", len(values))
		}

		entry := SchemaEntry{
			Type:     values[0].Text,
			Name:     values[1].Text,
			Assoc:    values[2].Text,
			RootPage: uint32(values[3].Int),
			SQL:      values[4].Text,
		}
		entries = append(entries, entry)
		byName.Insert(entry.Name, entry)

		err = cur.Next()
	}
	if err != ErrCantMove && err != ErrEmpty {
		return err
	}

	s.entries = entries
	s.byName = byName
	s.needsReload = false
	return nil
}

func (s *Schema) ensureFresh() error {
	if s.needsReload {
		return s.reload()
	}
	return nil
}

// Lookup returns the schema entry for name, or ok=false if none exists.
func (s *Schema) Lookup(name string) (SchemaEntry, bool) {
	if err := s.ensureFresh(); err != nil {
		return SchemaEntry{}, false
	}
	v, ok := s.byName.Get(name)
	if !ok {
		return SchemaEntry{}, false
	}
	return v.(SchemaEntry), true
}

// Count returns the number of entries currently in the schema table,
// used by the code generator to compute a fresh schema row's own key.
func (s *Schema) Count() int {
	if err := s.ensureFresh(); err != nil {
		return len(s.entries)
	}
	return len(s.entries)
}

// Entries returns a copy of all current schema entries.
func (s *Schema) Entries() []SchemaEntry {
	if err := s.ensureFresh(); err != nil {
		return nil
	}
	out := make([]SchemaEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
