package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the durable Store implementation, grounded on
// pkg/storage/pebble_store.go's per-entity JSON persistence generalized to
// one generic codec keyed by "<collection>/<id>". Snapshot persistence
// (spec.md §4.2) is pebble's own WAL/sync durability — no bespoke snapshot
// format is layered on top.
type PebbleStore struct {
	guard
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func docKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func collPrefix(collection string) []byte {
	return []byte(collection + "/")
}

func upperBound(prefix []byte) []byte {
	up := make([]byte, len(prefix))
	copy(up, prefix)
	for i := len(up) - 1; i >= 0; i-- {
		up[i]++
		if up[i] != 0 {
			return up[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) scan(collection string) ([]docIDPair, error) {
	prefix := collPrefix(collection)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []docIDPair
	for iter.First(); iter.Valid(); iter.Next() {
		var doc Document
		if err := json.Unmarshal(iter.Value(), &doc); err != nil {
			continue
		}
		id, _ := doc["_id"].(string)
		out = append(out, docIDPair{id, doc})
	}
	return out, iter.Error()
}

func (s *PebbleStore) persist(collection string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal %s document: %w", collection, err)
	}
	id, _ := doc["_id"].(string)
	return s.db.Set(docKey(collection, id), data, pebble.Sync)
}

func (s *PebbleStore) FindOne(collection string, query M) (Document, bool, error) {
	s.lock()
	defer s.unlock()
	pairs, err := s.scan(collection)
	if err != nil {
		return nil, false, err
	}
	for _, p := range pairs {
		if Matches(p.doc, query) {
			return p.doc, true, nil
		}
	}
	return nil, false, nil
}

func (s *PebbleStore) Find(collection string, query M) ([]Document, error) {
	s.lock()
	defer s.unlock()
	pairs, err := s.scan(collection)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, p := range pairs {
		if Matches(p.doc, query) {
			out = append(out, p.doc)
		}
	}
	return out, nil
}

func (s *PebbleStore) InsertOne(collection string, doc Document) error {
	s.lock()
	defer s.unlock()
	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("store: document missing _id")
	}
	if _, closer, err := s.db.Get(docKey(collection, id)); err == nil {
		closer.Close()
		return fmt.Errorf("store: duplicate key %s in %s", id, collection)
	}
	return s.persist(collection, doc)
}

func (s *PebbleStore) UpdateOne(collection string, query M, upd Update) (bool, error) {
	s.lock()
	defer s.unlock()
	pairs, err := s.scan(collection)
	if err != nil {
		return false, err
	}
	for _, p := range pairs {
		if Matches(p.doc, query) {
			updated := ApplyUpdate(p.doc, upd)
			return true, s.persist(collection, updated)
		}
	}
	return false, nil
}

func (s *PebbleStore) FindOneAndUpdate(collection string, query M, upd Update, opts FindOneAndUpdateOptions) (Document, bool, error) {
	s.lock()
	defer s.unlock()
	pairs, err := s.scan(collection)
	if err != nil {
		return nil, false, err
	}
	var candidates []docIDPair
	for _, p := range pairs {
		if Matches(p.doc, query) {
			candidates = append(candidates, p)
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
	if err := s.persist(collection, updated); err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (s *PebbleStore) UpdateMany(collection string, query M, upd Update) (int, error) {
	s.lock()
	defer s.unlock()
	pairs, err := s.scan(collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pairs {
		if Matches(p.doc, query) {
			updated := ApplyUpdate(p.doc, upd)
			if err := s.persist(collection, updated); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

var _ Store = (*PebbleStore)(nil)
var _ Store = (*MemStore)(nil)
