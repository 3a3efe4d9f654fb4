// Package mapping converts raw ALM test entities into ordered, flat rows
// according to a configurable field mapping.
package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// DescriptionKey is the ALM field whose value is stored as HTML and is
// reduced to plain text before export.
const DescriptionKey = "description"

var (
	// ErrEmptyMapping is returned when a mapping has no entries.
	ErrEmptyMapping = errors.New("field mapping is empty")

	// ErrDuplicateColumn is returned when two entries share a display name.
	ErrDuplicateColumn = errors.New("duplicate column in field mapping")
)

// Entry pairs an output column with the ALM field it is read from.
type Entry struct {
	// Column is the human-readable header written to the export.
	Column string

	// Key is the ALM field name (e.g. "user-12", "name", "description").
	Key string
}

// FieldMapping is an ordered, immutable list of column/field pairs.
// Column order defines the output column order.
type FieldMapping struct {
	entries []Entry
}

// New builds a FieldMapping from entries, keeping their order.
// Column names must be non-empty and unique.
func New(entries ...Entry) (FieldMapping, error) {
	if len(entries) == 0 {
		return FieldMapping{}, ErrEmptyMapping
	}

	seen := make(map[string]struct{}, len(entries))
	copied := make([]Entry, 0, len(entries))
	for i, e := range entries {
		column := strings.TrimSpace(e.Column)
		key := strings.TrimSpace(e.Key)
		if column == "" {
			return FieldMapping{}, fmt.Errorf("entry %d: column name is required", i)
		}
		if key == "" {
			return FieldMapping{}, fmt.Errorf("entry %d (%s): field key is required", i, column)
		}
		if _, dup := seen[column]; dup {
			return FieldMapping{}, fmt.Errorf("%w: %q", ErrDuplicateColumn, column)
		}
		seen[column] = struct{}{}
		copied = append(copied, Entry{Column: column, Key: key})
	}

	return FieldMapping{entries: copied}, nil
}

// MustNew is like New but panics on error. Intended for package-level defaults and tests.
func MustNew(entries ...Entry) FieldMapping {
	m, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// Len returns the number of columns.
func (m FieldMapping) Len() int {
	return len(m.entries)
}

// IsZero reports whether the mapping has no entries.
func (m FieldMapping) IsZero() bool {
	return len(m.entries) == 0
}

// Entries returns a copy of the entries in column order.
func (m FieldMapping) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Columns returns the display names in column order.
func (m FieldMapping) Columns() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Column
	}
	return out
}

// Header returns the display names as a row, ready for a tabular sink.
func (m FieldMapping) Header() []any {
	out := make([]any, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Column
	}
	return out
}

// DefaultVersion identifies the revision of the built-in mapping.
// Bump it whenever defaultEntries changes.
const DefaultVersion = 1

var defaultEntries = []Entry{
	{Column: "Feature code", Key: "user-12"},
	{Column: "Test case ID", Key: "user-10"},
	{Column: "Test name", Key: "name"},
	{Column: "Creation date", Key: "creation-time"},
	{Column: "Type", Key: "subtype-id"},
	{Column: "Test mode", Key: "user-09"},
	{Column: "Test level", Key: "user-06"},
	{Column: "Test execution time", Key: "user-13"},
	{Column: "Requirement ID", Key: "user-14"},
	{Column: "Config interface", Key: "user-01"},
	{Column: "IP version", Key: "user-05"},
	{Column: "LAN interface", Key: "user-02"},
	{Column: "ALM internal ID", Key: "id"},
	{Column: "WAN connection", Key: "user-04"},
	{Column: "WAN mode", Key: "user-03"},
	{Column: "Test title", Key: "user-16"},
	{Column: "Test type", Key: "user-15"},
	{Column: "Owner", Key: "owner"},
	{Column: "Description", Key: DescriptionKey},
}

// Default returns the built-in mapping used when no mapping is configured.
func Default() FieldMapping {
	return MustNew(defaultEntries...)
}
