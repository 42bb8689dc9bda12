// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package userstore persists the users known to the bot and their access
// status.
//
// State is kept in a single JSON file keyed by stringified user ID. The file
// is read once at startup and rewritten in full on every mutation.
package userstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"

	"tgwarden/internal/atomicio"
	"tgwarden/internal/logger"
	"tgwarden/internal/util/syncx"
)

// Status is the access status of a user.
type Status string

// Possible access statuses.
const (
	StatusPending  Status = "pending"
	StatusAllowed  Status = "allowed"
	StatusRejected Status = "rejected"
	// StatusUnknown is reported for users that have no record. It is never
	// stored.
	StatusUnknown Status = "unknown"
)

// Record describes a single user.
type Record struct {
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
	Status    Status `json:"status"`
	Group     string `json:"group,omitempty"`
}

// User is a record together with the user ID it is keyed by.
type User struct {
	ID int64
	Record
}

// Stats summarizes the store contents.
type Stats struct {
	Allowed  int `json:"allowed"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Group is a distinct group label together with its member count.
type Group struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Errors returned by store operations.
var (
	ErrNotFound   = errors.New("user not found")
	ErrNotAllowed = errors.New("user is not allowed")
)

// users is the store contents. order tracks insertion order of the map keys,
// which the file format and listings preserve.
type users struct {
	records map[int64]*Record
	order   []int64
}

// Store is a collection of user records backed by a file.
//
// All operations are safe for concurrent use. Every mutation rewrites the
// backing file before returning.
type Store struct {
	path  string
	logf  logger.Logf
	users *syncx.Protected[*users]
}

// Open loads the store from the file at path. A missing or unparsable file is
// treated as an empty store and never fails the caller.
func Open(path string, logf logger.Logf) *Store {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	u := &users{records: make(map[int64]*Record)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		logf("userstore: reading %s: %v", path, err)
	default:
		if u, err = unmarshalUsers(data); err != nil {
			logf("userstore: parsing %s: %v, starting fresh", path, err)
			u = &users{records: make(map[int64]*Record)}
		}
	}

	return &Store{path: path, logf: logf, users: syncx.Protect(u)}
}

func unmarshalUsers(data []byte) (*users, error) {
	u := &users{records: make(map[int64]*Record)}

	// A plain map loses the key order of the file, so walk the object
	// token by token.
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("want a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("want a string key, got %v", tok)
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("user ID %q: %v", key, err)
		}
		rec := new(Record)
		if err := dec.Decode(rec); err != nil {
			return nil, fmt.Errorf("user %d: %v", id, err)
		}
		if _, dup := u.records[id]; !dup {
			u.order = append(u.order, id)
		}
		u.records[id] = rec
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return u, nil
}

func marshalUsers(u *users) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('{')
	for i, id := range u.order {
		if i > 0 {
			compact.WriteByte(',')
		}
		fmt.Fprintf(&compact, "%q:", strconv.FormatInt(id, 10))
		enc := json.NewEncoder(&compact)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(u.records[id]); err != nil {
			return nil, err
		}
		// Encode appends a newline, drop it.
		compact.Truncate(compact.Len() - 1)
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (s *Store) save(u *users) error {
	data, err := marshalUsers(u)
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.path, data, 0o644)
}

// Register creates a pending record for the user unless one already exists.
// It reports whether a new record was created; an existing record is returned
// unchanged, whatever its status.
func (s *Store) Register(id int64, firstName, username string) (rec Record, created bool, err error) {
	if username == "" {
		username = "not provided"
	}
	s.users.Access(func(u *users) {
		if existing, ok := u.records[id]; ok {
			rec = *existing
			return
		}
		u.records[id] = &Record{
			FirstName: firstName,
			Username:  username,
			Status:    StatusPending,
		}
		u.order = append(u.order, id)
		rec = *u.records[id]
		created = true
		err = s.save(u)
	})
	return rec, created, err
}

// Decide sets the access status of an existing user to allowed or rejected.
// It returns ErrNotFound for an unknown user and mutates nothing on failure.
func (s *Store) Decide(id int64, status Status) (rec Record, err error) {
	if status != StatusAllowed && status != StatusRejected {
		return Record{}, fmt.Errorf("invalid decision %q", status)
	}
	s.users.Access(func(u *users) {
		existing, ok := u.records[id]
		if !ok {
			err = ErrNotFound
			return
		}
		existing.Status = status
		rec = *existing
		err = s.save(u)
	})
	return rec, err
}

// Ban rejects the user from any status, including allowed.
func (s *Store) Ban(id int64) (Record, error) {
	return s.Decide(id, StatusRejected)
}

// IsAllowed reports whether the user has an allowed record.
func (s *Store) IsAllowed(id int64) bool {
	return s.Status(id) == StatusAllowed
}

// Status classifies the user. Unknown users get StatusUnknown; records with a
// missing or unrecognized status count as rejected.
func (s *Store) Status(id int64) Status {
	var status Status
	s.users.ReadAccess(func(u *users) {
		rec, ok := u.records[id]
		if !ok {
			status = StatusUnknown
			return
		}
		switch rec.Status {
		case StatusAllowed, StatusPending:
			status = rec.Status
		default:
			status = StatusRejected
		}
	})
	return status
}

// Get returns the record of the user, or ErrNotFound.
func (s *Store) Get(id int64) (Record, error) {
	var (
		rec Record
		err error
	)
	s.users.ReadAccess(func(u *users) {
		existing, ok := u.records[id]
		if !ok {
			err = ErrNotFound
			return
		}
		rec = *existing
	})
	return rec, err
}

// AssignGroup sets the group of an allowed user, overwriting any previous
// group. It fails with ErrNotFound or ErrNotAllowed and mutates nothing on
// failure.
func (s *Store) AssignGroup(id int64, group string) (err error) {
	s.users.Access(func(u *users) {
		rec, ok := u.records[id]
		if !ok {
			err = ErrNotFound
			return
		}
		if rec.Status != StatusAllowed {
			err = ErrNotAllowed
			return
		}
		rec.Group = group
		err = s.save(u)
	})
	return err
}

// RemoveFromGroup clears the group of an allowed user. Preconditions are the
// same as for AssignGroup.
func (s *Store) RemoveFromGroup(id int64) error {
	return s.AssignGroup(id, "")
}

// Delete removes the record of the user entirely and returns what was
// removed. It fails with ErrNotFound for an unknown user.
func (s *Store) Delete(id int64) (rec Record, err error) {
	s.users.Access(func(u *users) {
		existing, ok := u.records[id]
		if !ok {
			err = ErrNotFound
			return
		}
		rec = *existing
		delete(u.records, id)
		u.order = slices.DeleteFunc(u.order, func(v int64) bool { return v == id })
		err = s.save(u)
	})
	return rec, err
}

// Stats counts records by status.
func (s *Store) Stats() Stats {
	var stats Stats
	s.users.ReadAccess(func(u *users) {
		stats.Total = len(u.records)
		for _, rec := range u.records {
			switch rec.Status {
			case StatusAllowed:
				stats.Allowed++
			case StatusPending:
				stats.Pending++
			default:
				stats.Rejected++
			}
		}
	})
	return stats
}

// Allowed returns allowed users in insertion order, optionally filtered by
// group. An empty group or "all" selects every allowed user.
func (s *Store) Allowed(group string) []User {
	if group == "all" {
		group = ""
	}
	var list []User
	s.users.ReadAccess(func(u *users) {
		for _, id := range u.order {
			rec := u.records[id]
			if rec.Status != StatusAllowed {
				continue
			}
			if group != "" && rec.Group != group {
				continue
			}
			list = append(list, User{ID: id, Record: *rec})
		}
	})
	return list
}

// Groups returns the distinct group labels of allowed users with their member
// counts, sorted by name.
func (s *Store) Groups() []Group {
	counts := make(map[string]int)
	s.users.ReadAccess(func(u *users) {
		for _, rec := range u.records {
			if rec.Status != StatusAllowed || rec.Group == "" {
				continue
			}
			counts[rec.Group]++
		}
	})

	groups := make([]Group, 0, len(counts))
	for name, members := range counts {
		groups = append(groups, Group{Name: name, Members: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// JSON returns the store contents in the file format.
func (s *Store) JSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	s.users.ReadAccess(func(u *users) {
		data, err = marshalUsers(u)
	})
	return data, err
}
