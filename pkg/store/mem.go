package store

import (
	"fmt"
	"sort"
)

// MemStore is an in-memory Store used by component unit tests and by the
// executor's warmup path in tests that don't need real persistence.
type MemStore struct {
	guard
	colls map[string]map[string]Document
}

func NewMemStore() *MemStore {
	return &MemStore{colls: make(map[string]map[string]Document)}
}

func (s *MemStore) coll(name string) map[string]Document {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]Document)
		s.colls[name] = c
	}
	return c
}

func (s *MemStore) FindOne(collection string, query M) (Document, bool, error) {
	s.lock()
	defer s.unlock()
	for _, doc := range s.coll(collection) {
		if Matches(doc, query) {
			return CloneDoc(doc), true, nil
		}
	}
	return nil, false, nil
}

func (s *MemStore) Find(collection string, query M) ([]Document, error) {
	s.lock()
	defer s.unlock()
	var out []Document
	for _, doc := range s.coll(collection) {
		if Matches(doc, query) {
			out = append(out, CloneDoc(doc))
		}
	}
	return out, nil
}

func (s *MemStore) InsertOne(collection string, doc Document) error {
	s.lock()
	defer s.unlock()
	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("store: document missing _id")
	}
	c := s.coll(collection)
	if _, exists := c[id]; exists {
		return fmt.Errorf("store: duplicate key %s in %s", id, collection)
	}
	c[id] = CloneDoc(doc)
	return nil
}

func (s *MemStore) UpdateOne(collection string, query M, upd Update) (bool, error) {
	s.lock()
	defer s.unlock()
	c := s.coll(collection)
	for id, doc := range c {
		if Matches(doc, query) {
			c[id] = ApplyUpdate(doc, upd)
			return true, nil
		}
	}
	return false, nil
}

// docIDPair couples a document with its collection key so a sort-then-pick
// can recover which key to write back to.
type docIDPair struct {
	id  string
	doc Document
}

func (s *MemStore) FindOneAndUpdate(collection string, query M, upd Update, opts FindOneAndUpdateOptions) (Document, bool, error) {
	s.lock()
	defer s.unlock()
	c := s.coll(collection)
	var candidates []docIDPair
	for id, doc := range c {
		if Matches(doc, query) {
			candidates = append(candidates, docIDPair{id, doc})
		}
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	if opts.Sort != nil {
		spec := opts.Sort
		sort.SliceStable(candidates, func(i, j int) bool {
			vi := getPath(candidates[i].doc, spec.Field)
			vj := getPath(candidates[j].doc, spec.Field)
			if spec.Ascending {
				return lessVal(vi, vj)
			}
			return lessVal(vj, vi)
		})
	}
	chosen := candidates[0]
	updated := ApplyUpdate(chosen.doc, upd)
	c[chosen.id] = updated
	return CloneDoc(updated), true, nil
}

func (s *MemStore) UpdateMany(collection string, query M, upd Update) (int, error) {
	s.lock()
	defer s.unlock()
	c := s.coll(collection)
	n := 0
	for id, doc := range c {
		if Matches(doc, query) {
			c[id] = ApplyUpdate(doc, upd)
			n++
		}
	}
	return n, nil
}
