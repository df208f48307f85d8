package store

import "encoding/json"

// ToDoc round-trips a typed domain struct through JSON into a generic
// Document and stamps its primary key into "_id". This is the facade's only
// concession to static typing: callers work with Go structs (Order, Pool,
// ...) and the facade still only ever sees keyed documents.
func ToDoc(id string, v interface{}) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	doc["_id"] = id
	return doc, nil
}

// FromDoc decodes a Document back into a typed domain struct.
func FromDoc[T any](doc Document) (*T, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
