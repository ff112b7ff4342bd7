package mutation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
	"schedulers.app/internal/obs"
)

type widget struct{}

func (widget) EntityType() string { return "widget" }
func (widget) Table() string      { return "widgets" }
func (widget) AllowedFields() Fields {
	return Fields{
		"name":   RequiredText(20),
		"count":  IntField(0, 10),
		"status": EnumField("open", "closed"),
	}
}
func (widget) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (widget) StampColumns() (string, string) { return "updated_at", "updated_by" }

type account struct{}

func (account) EntityType() string       { return "account" }
func (account) Table() string            { return "accounts" }
func (account) AllowedFields() Fields    { return Fields{"role": EnumField("a", "b"), "email": TextField(50)} }
func (account) EditorRoles() []auth.Role { return auth.AdminRoles }
func (account) UniqueFields() []string   { return []string{"email"} }
func (account) GuardMutation(actor auth.Principal, id int64, requested map[string]any) error {
	return auth.GuardSelfMutation(actor, id, requested)
}
func (account) GuardColumn() string { return "tier" }
func (account) GuardTarget(_ auth.Principal, current any, requested map[string]any) error {
	if current == "locked" {
		return fmt.Errorf("%w: account is locked", auth.ErrForbidden)
	}
	return nil
}

type fakeExecutor struct {
	mu        sync.Mutex
	rows      map[string]map[int64]bool
	tiers     map[int64]string
	applied   []ChangeSet
	err       error
	columnErr error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		rows: map[string]map[int64]bool{
			"widgets":  {1: true, 42: true},
			"accounts": {7: true, 8: true, 9: true},
		},
		tiers: map[int64]string{7: "basic", 8: "basic", 9: "locked"},
	}
}

func (f *fakeExecutor) Exists(_ context.Context, table string, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[table][id], nil
}

func (f *fakeExecutor) Column(_ context.Context, table string, id int64, column string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.columnErr != nil {
		return nil, f.columnErr
	}
	if !f.rows[table][id] {
		return nil, auth.ErrNotFound
	}
	return f.tiers[id], nil
}

func (f *fakeExecutor) Apply(_ context.Context, cs ChangeSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.rows[cs.Table][cs.ID] {
		return auth.ErrNotFound
	}
	f.applied = append(f.applied, cs)
	return nil
}

func (f *fakeExecutor) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func newTestEngine(t *testing.T) (*Engine, *fakeExecutor, *audit.MemoryStore) {
	t.Helper()
	reg, err := NewRegistry(widget{}, account{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := newFakeExecutor()
	store := audit.NewMemoryStore()
	at := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	eng, err := NewEngine(reg, exec,
		WithRecorder(audit.NewRecorder(store, audit.WithLogger(obs.Discard()))),
		WithLogger(obs.Discard()),
		WithClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng, exec, store
}

func expectErr(t *testing.T, err, want error, msg string) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("%s: expected %v, got %v", msg, want, err)
	}
}

var (
	admin    = auth.Principal{ID: 7, Role: auth.RoleAdmin, Active: true}
	official = auth.Principal{ID: 9, Role: auth.RoleOfficial, Active: true}
)

func TestMutateAppliesOnlyAllowedFields(t *testing.T) {
	eng, exec, store := newTestEngine(t)

	cs, err := eng.Mutate(context.Background(), "widget", 42, admin, map[string]any{
		"status":        "Closed",
		"unknown_field": "x",
		"id":            99,
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if exec.appliedCount() != 1 {
		t.Fatalf("expected one write, got %d", exec.appliedCount())
	}
	if !reflect.DeepEqual(cs.Fields(), []string{"status"}) {
		t.Fatalf("fields = %v", cs.Fields())
	}
	if v, _ := cs.Value("status"); v != "closed" {
		t.Fatalf("status = %v", v)
	}
	if cs.StampAt != "updated_at" || cs.ActorID != 7 {
		t.Fatalf("unexpected stamps %+v", cs)
	}

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != "update_widget" || e.ResourceID != "42" || e.Detail != "fields=status" {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestMutateNoValidFields(t *testing.T) {
	eng, exec, _ := newTestEngine(t)

	_, err := eng.Mutate(context.Background(), "widget", 42, admin, map[string]any{"bogus": 1})
	expectErr(t, err, ErrNoValidFields, "unknown key only")
	_, err = eng.Mutate(context.Background(), "widget", 42, admin, map[string]any{})
	expectErr(t, err, ErrNoValidFields, "empty payload")
	if exec.appliedCount() != 0 {
		t.Fatal("nothing may be written")
	}
}

func TestMutateMissingEntity(t *testing.T) {
	eng, exec, _ := newTestEngine(t)

	for name, fields := range map[string]map[string]any{
		"valid payload":   {"status": "open"},
		"empty payload":   {"bogus": "x"},
		"invalid payload": {"count": "many"},
	} {
		_, err := eng.Mutate(context.Background(), "widget", 1000, admin, fields)
		expectErr(t, err, auth.ErrNotFound, name)
	}
	_, err := eng.Mutate(context.Background(), "widget", 0, admin, map[string]any{"status": "open"})
	expectErr(t, err, auth.ErrNotFound, "zero id")
	_, err = eng.Mutate(context.Background(), "account", 1000, admin, map[string]any{"role": "b"})
	expectErr(t, err, auth.ErrNotFound, "missing id on a guarded entity")
	if exec.appliedCount() != 0 {
		t.Fatal("nothing may be written")
	}
}

func TestMutateValidation(t *testing.T) {
	eng, exec, _ := newTestEngine(t)

	cases := map[string]map[string]any{
		"out of bounds":   {"count": 11},
		"fractional":      {"count": 2.5},
		"bad enum":        {"status": "archived"},
		"too long":        {"name": "abcdefghijklmnopqrstuvwxyz"},
		"empty required":  {"name": "   "},
		"null required":   {"name": nil},
		"mixed valid bad": {"status": "open", "count": -1},
	}
	for name, fields := range cases {
		_, err := eng.Mutate(context.Background(), "widget", 42, admin, fields)
		expectErr(t, err, auth.ErrInvalidInput, name)
	}
	if exec.appliedCount() != 0 {
		t.Fatal("nothing may be written when any value is invalid")
	}
}

func TestMutateSanitizesText(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cs, err := eng.Mutate(context.Background(), "widget", 1, admin, map[string]any{"name": " <b>Ref\x00</b> "})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if v, _ := cs.Value("name"); v != "bRef/b" {
		t.Fatalf("name = %q", v)
	}
}

func TestMutateAuthorization(t *testing.T) {
	eng, exec, store := newTestEngine(t)

	_, err := eng.Mutate(context.Background(), "widget", 42, official, map[string]any{"status": "open"})
	expectErr(t, err, auth.ErrForbidden, "official")

	inactive := admin
	inactive.Active = false
	_, err = eng.Mutate(context.Background(), "widget", 42, inactive, map[string]any{"status": "open"})
	expectErr(t, err, auth.ErrForbidden, "inactive admin")

	if exec.appliedCount() != 0 {
		t.Fatal("nothing may be written")
	}
	want := []string{audit.ActionAccessForbidden, audit.ActionAccessForbidden}
	if !reflect.DeepEqual(store.Actions(), want) {
		t.Fatalf("actions = %v, want %v", store.Actions(), want)
	}
}

func TestMutateSelfGuard(t *testing.T) {
	eng, exec, _ := newTestEngine(t)

	_, err := eng.Mutate(context.Background(), "account", 7, admin, map[string]any{"role": "b"})
	expectErr(t, err, auth.ErrForbidden, "own role")
	_, err = eng.Mutate(context.Background(), "account", 7, admin, map[string]any{"is_active": false})
	expectErr(t, err, auth.ErrForbidden, "guard runs before the allow-list")

	cs, err := eng.Mutate(context.Background(), "account", 8, admin, map[string]any{"role": "b"})
	if err != nil {
		t.Fatalf("peer update: %v", err)
	}
	if !reflect.DeepEqual(cs.Unique, []string{"email"}) || exec.appliedCount() != 1 {
		t.Fatalf("unexpected result %+v (writes %d)", cs, exec.appliedCount())
	}
}

func TestMutateTargetGuard(t *testing.T) {
	eng, exec, store := newTestEngine(t)

	_, err := eng.Mutate(context.Background(), "account", 9, admin, map[string]any{"email": "x@example.com"})
	expectErr(t, err, auth.ErrForbidden, "stored column vetoes")
	if exec.appliedCount() != 0 {
		t.Fatal("vetoed request must not write")
	}
	if got := store.Actions(); len(got) != 1 || got[0] != audit.ActionAccessForbidden {
		t.Fatalf("expected access_forbidden audit, got %v", got)
	}

	exec.columnErr = errors.New("connection reset")
	_, err = eng.Mutate(context.Background(), "account", 8, admin, map[string]any{"email": "x@example.com"})
	expectErr(t, err, auth.ErrServiceUnavailable, "lookup failure")
}

func TestMutateExecutorErrors(t *testing.T) {
	eng, exec, _ := newTestEngine(t)

	exec.err = auth.ErrConflict
	_, err := eng.Mutate(context.Background(), "account", 8, admin, map[string]any{"email": "dup@example.com"})
	expectErr(t, err, auth.ErrConflict, "conflict")

	exec.err = errors.New("connection reset")
	_, err = eng.Mutate(context.Background(), "account", 8, admin, map[string]any{"email": "x@example.com"})
	expectErr(t, err, auth.ErrServiceUnavailable, "storage failure")
}

func TestMutateUnknownEntity(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.Mutate(context.Background(), "spaceship", 1, admin, map[string]any{"name": "x"})
	expectErr(t, err, ErrUnknownEntity, "unknown type")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(widget{}, widget{}); err == nil {
		t.Fatal("expected duplicate error")
	}

	reg, err := NewRegistry(account{}, widget{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if !reflect.DeepEqual(reg.Types(), []string{"account", "widget"}) {
		t.Fatalf("types = %v", reg.Types())
	}
}
