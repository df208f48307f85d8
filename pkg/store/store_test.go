package store

import "testing"

func TestMatchesOperators(t *testing.T) {
	doc := Document{"_id": "a1", "status": "pending", "attempts": "2", "createdAt": "2026-01-01T00:00:00Z"}

	if !Matches(doc, M{"status": "pending"}) {
		t.Fatal("equality match failed")
	}
	if Matches(doc, M{"status": "done"}) {
		t.Fatal("equality should not match")
	}
	if !Matches(doc, M{"status": In{Values: []interface{}{"pending", "processing"}}}) {
		t.Fatal("$in should match")
	}
	if Matches(doc, M{"status": In{Values: []interface{}{"done"}}}) {
		t.Fatal("$in should not match")
	}
	if !Matches(doc, M{"attempts": Lt{Value: "3"}}) {
		t.Fatal("$lt should match numeric string")
	}
	if Matches(doc, M{"attempts": Lt{Value: "2"}}) {
		t.Fatal("$lt should not match equal value")
	}
	or := M{"$or": []M{{"status": "done"}, {"status": "pending"}}}
	if !Matches(doc, or) {
		t.Fatal("$or should match one clause")
	}
}

func TestApplyUpdateSetAndIncNested(t *testing.T) {
	doc := Document{"_id": "acct1", "balances": Document{"MRY": "100"}}
	doc = ApplyUpdate(doc, Update{Inc: map[string]interface{}{"balances.MRY": "50"}})
	bal := getPath(doc, "balances.MRY")
	if bal != "150" {
		t.Fatalf("expected 150, got %v", bal)
	}
	doc = ApplyUpdate(doc, Update{Set: map[string]interface{}{"balances.TESTS": "10"}})
	if getPath(doc, "balances.TESTS") != "10" {
		t.Fatalf("expected set to create nested field")
	}
}

func TestMemStoreFindOneAndUpdateSortPicksOldest(t *testing.T) {
	s := NewMemStore()
	docs := []Document{
		{"_id": "j3", "status": "pending", "createdAt": "2026-01-03T00:00:00Z"},
		{"_id": "j1", "status": "pending", "createdAt": "2026-01-01T00:00:00Z"},
		{"_id": "j2", "status": "pending", "createdAt": "2026-01-02T00:00:00Z"},
	}
	for _, d := range docs {
		if err := s.InsertOne("withdrawals", d); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, ok, err := s.FindOneAndUpdate("withdrawals", M{"status": "pending"},
		Update{Set: map[string]interface{}{"status": "processing"}},
		FindOneAndUpdateOptions{Sort: &SortSpec{Field: "createdAt", Ascending: true}})
	if err != nil || !ok {
		t.Fatalf("findOneAndUpdate failed: %v %v", ok, err)
	}
	if got["_id"] != "j1" {
		t.Fatalf("expected oldest job j1, got %v", got["_id"])
	}
	if got["status"] != "processing" {
		t.Fatalf("expected status flipped to processing")
	}

	// j1 is no longer pending, so the next pick-oldest call should return j2.
	got2, ok, err := s.FindOneAndUpdate("withdrawals", M{"status": "pending"},
		Update{Set: map[string]interface{}{"status": "processing"}},
		FindOneAndUpdateOptions{Sort: &SortSpec{Field: "createdAt", Ascending: true}})
	if err != nil || !ok {
		t.Fatalf("second findOneAndUpdate failed: %v %v", ok, err)
	}
	if got2["_id"] != "j2" {
		t.Fatalf("expected j2 next, got %v", got2["_id"])
	}
}

func TestInsertOneDuplicateKeyRejected(t *testing.T) {
	s := NewMemStore()
	doc := Document{"_id": "acct1", "name": "alice"}
	if err := s.InsertOne("accounts", doc); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := s.InsertOne("accounts", doc); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
