package mapping

// Value is a single entry of an ALM field value list.
type Value struct {
	Text string
	Null bool
}

// Field is one named field of a test entity.
type Field struct {
	Name   string
	Values []Value
}

// RawRecord is a test entity as returned by the ALM REST API.
type RawRecord struct {
	Fields []Field
}

// MappedRow holds one cell per mapping entry, in mapping order.
// A cell is either a string or nil when the field was absent.
type MappedRow []any

// scalars collects the fields that carry exactly one non-null value.
// Multi-valued and null fields are dropped.
func (r RawRecord) scalars() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		if len(f.Values) != 1 || f.Values[0].Null {
			continue
		}
		out[f.Name] = f.Values[0].Text
	}
	return out
}

// MapRecord flattens raw into a row shaped by m. It never fails: anything
// missing or ambiguous becomes a nil cell.
func MapRecord(raw RawRecord, m FieldMapping) MappedRow {
	values := raw.scalars()

	row := make(MappedRow, len(m.entries))
	for i, e := range m.entries {
		v, ok := values[e.Key]
		if !ok {
			continue
		}
		if e.Key == DescriptionKey {
			v = HTMLToText(v)
		}
		row[i] = v
	}
	return row
}

// MapRecords maps every record in order.
func MapRecords(raws []RawRecord, m FieldMapping) []MappedRow {
	rows := make([]MappedRow, 0, len(raws))
	for _, raw := range raws {
		rows = append(rows, MapRecord(raw, m))
	}
	return rows
}
