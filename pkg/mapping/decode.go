package mapping

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrMalformedPage is returned when a page body is not an ALM entity collection.
var ErrMalformedPage = errors.New("malformed entity collection")

// ParseEntities decodes the "entities" array of an ALM collection response.
//
// Expected shape:
//
//	{"entities": [{"Fields": [{"Name": "id", "values": [{"value": "42"}]}]}]}
func ParseEntities(body []byte) ([]RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedPage
	}

	entities := gjson.GetBytes(body, "entities")
	if !entities.IsArray() {
		return nil, ErrMalformedPage
	}

	var records []RawRecord
	entities.ForEach(func(_, entity gjson.Result) bool {
		records = append(records, parseEntity(entity))
		return true
	})
	if records == nil {
		records = []RawRecord{}
	}
	return records, nil
}

func parseEntity(entity gjson.Result) RawRecord {
	var rec RawRecord
	entity.Get("Fields").ForEach(func(_, field gjson.Result) bool {
		f := Field{Name: field.Get("Name").String()}
		field.Get("values").ForEach(func(_, v gjson.Result) bool {
			value := v.Get("value")
			if !value.Exists() || value.Type == gjson.Null {
				f.Values = append(f.Values, Value{Null: true})
			} else {
				f.Values = append(f.Values, Value{Text: value.String()})
			}
			return true
		})
		rec.Fields = append(rec.Fields, f)
		return true
	})
	return rec
}
