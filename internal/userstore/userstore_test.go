// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package userstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgwarden/internal/testutil"

	"golang.org/x/tools/txtar"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "users.json"), t.Logf)
}

func openTestdata(t *testing.T) *Store {
	t.Helper()
	ar, err := txtar.ParseFile(filepath.Join("testdata", "users.txtar"))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	testutil.ExtractTxtar(t, ar, dir)
	return Open(filepath.Join(dir, "users.json"), t.Logf)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	testutil.AssertEqual(t, s.Stats(), Stats{})
	testutil.AssertEqual(t, s.Status(123), StatusUnknown)
	testutil.AssertEqual(t, s.IsAllowed(123), false)
}

func TestOpenCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte("nonsense"), 0o644); err != nil {
		t.Fatal(err)
	}

	var logged strings.Builder
	logf := func(format string, args ...any) { fmt.Fprintf(&logged, format, args...) }

	s := Open(path, logf)
	testutil.AssertEqual(t, s.Stats(), Stats{})
	if !strings.Contains(logged.String(), "starting fresh") {
		t.Fatalf("expected a parse failure to be logged, got %q", logged.String())
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	s := testStore(t)

	rec, created, err := s.Register(555, "Eve", "eve")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, created, true)
	testutil.AssertEqual(t, rec, Record{FirstName: "Eve", Username: "eve", Status: StatusPending})
	testutil.AssertEqual(t, s.Status(555), StatusPending)

	// Re-registration returns the existing record unchanged.
	rec2, created, err := s.Register(555, "Eve Again", "eve2")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, created, false)
	testutil.AssertEqual(t, rec2, rec)

	// And never resets a decided status back to pending.
	if _, err := s.Decide(555, StatusAllowed); err != nil {
		t.Fatal(err)
	}
	_, created, err = s.Register(555, "Eve", "eve")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, created, false)
	testutil.AssertEqual(t, s.Status(555), StatusAllowed)
}

func TestRegisterMissingUsername(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	rec, _, err := s.Register(1, "Frank", "")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Username, "not provided")
}

func TestDecide(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	if _, _, err := s.Register(1, "A", "a"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Decide(1, StatusAllowed)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Status, StatusAllowed)
	testutil.AssertEqual(t, s.IsAllowed(1), true)

	rec, err = s.Decide(1, StatusRejected)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Status, StatusRejected)
	testutil.AssertEqual(t, s.IsAllowed(1), false)

	if _, err := s.Decide(1, StatusPending); err == nil {
		t.Fatal("expected an error for an invalid decision")
	}
}

func TestDecideUnknownUser(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "users.json")
	s := Open(path, t.Logf)

	_, err := s.Decide(42, StatusAllowed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	// No mutation, no file written.
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no store file to be written, got %v", err)
	}
}

func TestBan(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	if _, _, err := s.Register(1, "A", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Decide(1, StatusAllowed); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Ban(1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Status, StatusRejected)
	testutil.AssertEqual(t, s.IsAllowed(1), false)
}

func TestAssignGroup(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	if _, _, err := s.Register(1, "A", "a"); err != nil {
		t.Fatal(err)
	}

	// Pending users can't be grouped.
	if err := s.AssignGroup(1, "friends"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("want ErrNotAllowed, got %v", err)
	}
	if err := s.AssignGroup(42, "friends"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	rec, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Group, "")

	if _, err := s.Decide(1, StatusAllowed); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignGroup(1, "friends"); err != nil {
		t.Fatal(err)
	}
	// Move overwrites.
	if err := s.AssignGroup(1, "family"); err != nil {
		t.Fatal(err)
	}
	rec, err = s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Group, "family")

	if err := s.RemoveFromGroup(1); err != nil {
		t.Fatal(err)
	}
	rec, err = s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.Group, "")
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	if _, _, err := s.Register(1, "A", "a"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Delete(1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.FirstName, "A")
	testutil.AssertEqual(t, s.Status(1), StatusUnknown)

	if _, err := s.Delete(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	s := openTestdata(t)
	testutil.AssertEqual(t, s.Stats(), Stats{Allowed: 2, Pending: 1, Rejected: 1, Total: 4})
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	s := openTestdata(t)

	ids := func(users []User) []int64 {
		var ids []int64
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		return ids
	}

	// Insertion order of the file is preserved.
	testutil.AssertEqual(t, ids(s.Allowed("")), []int64{100, 400})
	testutil.AssertEqual(t, ids(s.Allowed("all")), []int64{100, 400})
	testutil.AssertEqual(t, ids(s.Allowed("friends")), []int64{100})
	testutil.AssertEqual(t, ids(s.Allowed("nosuch")), []int64(nil))
}

func TestGroups(t *testing.T) {
	t.Parallel()

	s := openTestdata(t)
	if err := s.AssignGroup(400, "friends"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.Groups(), []Group{{Name: "friends", Members: 2}})
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ar, err := txtar.ParseFile(filepath.Join("testdata", "users.txtar"))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	testutil.ExtractTxtar(t, ar, dir)
	path := filepath.Join(dir, "users.json")

	orig, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	s := Open(path, t.Logf)
	saved, err := s.JSON()
	if err != nil {
		t.Fatal(err)
	}

	// No field is silently lost on a load/save cycle.
	testutil.AssertEqual(t,
		testutil.UnmarshalJSON[map[string]Record](t, saved),
		testutil.UnmarshalJSON[map[string]Record](t, orig),
	)
}

func TestSavePreservesNonASCII(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "users.json")
	s := Open(path, t.Logf)
	if _, _, err := s.Register(200, "Боб", ""); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Боб") {
		t.Fatalf("expected the saved file to preserve non-ASCII characters:\n%s", data)
	}
}
