package settings

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type memStore struct {
	values map[string]string
	saves  int
}

func newMemStore(overrides map[string]string) *memStore {
	values := Defaults()
	for k, v := range overrides {
		values[k] = v
	}
	return &memStore{values: values}
}

func (m *memStore) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memStore) Set(key, value string) { m.values[key] = value }

func (m *memStore) Save(context.Context) error {
	m.saves++
	return nil
}

func mustSettings(t *testing.T, store Store, adminIDs []string) *Settings {
	t.Helper()
	s, err := New(store, adminIDs, zap.NewNop())
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	return s
}

func TestNewMissingKeyFails(t *testing.T) {
	store := newMemStore(nil)
	delete(store.values, KeyMaxBanDays)

	_, err := New(store, nil, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	if !strings.Contains(err.Error(), KeyMaxBanDays) {
		t.Fatalf("error should name the missing key, got %q", err)
	}
}

func TestNewMalformedValueFails(t *testing.T) {
	store := newMemStore(map[string]string{KeyMinGroupSize: "many"})

	_, err := New(store, nil, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for malformed value")
	}
	if !strings.Contains(err.Error(), KeyMinGroupSize) {
		t.Fatalf("error should name the key, got %q", err)
	}
}

func TestNormalization(t *testing.T) {
	store := newMemStore(map[string]string{
		KeyManageGroup: "not-a-number",
		KeyManageUsers: `["123", "abc", "456"]`,
	})
	s := mustSettings(t, store, []string{"oops", "789"})

	if s.ManageGroup() != "" {
		t.Fatalf("non-numeric manage_group should normalize to empty, got %q", s.ManageGroup())
	}
	if s.AdminID() != "789" {
		t.Fatalf("expected primary admin 789, got %q", s.AdminID())
	}
	for _, id := range []string{"123", "456", "789"} {
		if !s.IsManageUser(id) {
			t.Fatalf("expected %s to be an approver", id)
		}
	}
	if s.IsManageUser("abc") {
		t.Fatal("non-digit approver should be dropped")
	}

	// Normalized values must be written back to the store.
	if v, _ := store.Get(KeyManageGroup); v != "" {
		t.Fatalf("store should hold normalized manage_group, got %q", v)
	}
	if v, _ := store.Get(KeyManageUsers); !strings.Contains(v, "789") {
		t.Fatalf("store should hold admin in manage_users, got %q", v)
	}
}

func TestMissingReviewDestination(t *testing.T) {
	s := mustSettings(t, newMemStore(nil), nil)
	if !s.MissingReviewDestination() {
		t.Fatal("expected missing review destination")
	}

	s = mustSettings(t, newMemStore(nil), []string{"100"})
	if s.MissingReviewDestination() {
		t.Fatal("admin list should provide a destination")
	}

	s = mustSettings(t, newMemStore(map[string]string{KeyManageGroup: "200"}), nil)
	if s.MissingReviewDestination() {
		t.Fatal("manage group should provide a destination")
	}
}

func TestBlacklistMutations(t *testing.T) {
	store := newMemStore(nil)
	s := mustSettings(t, store, nil)

	if !s.AddBlackGroup("222") {
		t.Fatal("first add should report a change")
	}
	if s.AddBlackGroup("222") {
		t.Fatal("second add should be a no-op")
	}
	if !s.IsBlackGroup("222") {
		t.Fatal("group should be blacklisted")
	}
	if v, _ := store.Get(KeyGroupBlacklist); !strings.Contains(v, "222") {
		t.Fatalf("mutation should write through to the store, got %q", v)
	}

	if !s.RemoveBlackGroup("222") {
		t.Fatal("remove should report a change")
	}
	if s.RemoveBlackGroup("222") {
		t.Fatal("removing again should be a no-op")
	}
	if s.IsBlackGroup("222") {
		t.Fatal("group should no longer be blacklisted")
	}

	if s.AddBlackUser("not-digits") {
		t.Fatal("non-digit IDs must be rejected")
	}
}

func TestMaxDuration(t *testing.T) {
	s := mustSettings(t, newMemStore(map[string]string{KeyMaxBanDays: "2"}), nil)
	if got := s.MaxDuration(); got != 2*86400 {
		t.Fatalf("expected %d seconds, got %d", 2*86400, got)
	}
}

func TestSaveDelegatesToStore(t *testing.T) {
	store := newMemStore(nil)
	s := mustSettings(t, store, nil)

	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected one save, got %d", store.saves)
	}
}
