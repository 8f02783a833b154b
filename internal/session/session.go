// Package session keeps a student's portal credentials and the lists
// fetched with them between runs of the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/portal"
)

// Storage keys. Values are plaintext JSON.
const (
	KeyCredentials = "vtop_credentials"
	KeyFaculty     = "vtop_faculty"
	KeySemesters   = "vtop_semesters"
)

// ErrNotLoggedIn is returned by operations that need stored credentials.
var ErrNotLoggedIn = errors.New("session: not logged in")

// Credentials are the portal username and password.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// State is everything persisted for a student.
type State struct {
	Credentials *Credentials
	Faculty     []model.Faculty
	Semesters   []model.Semester
}

// Load reads the state from s. Missing keys leave their field empty; values
// that cannot be decoded are logged and ignored.
func Load(s Storage) State {
	var st State
	var creds Credentials
	if load(s, KeyCredentials, &creds) && creds.Username != "" {
		st.Credentials = &creds
	}
	load(s, KeyFaculty, &st.Faculty)
	load(s, KeySemesters, &st.Semesters)
	return st
}

func load(s Storage, key string, v any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Printf("Warning: ignoring unreadable %s: %v", key, err)
		return false
	}
	return true
}

// Save writes the state to s.
func (st State) Save(s Storage) error {
	if st.Credentials == nil {
		s.Delete(KeyCredentials)
	} else if err := put(s, KeyCredentials, st.Credentials); err != nil {
		return err
	}
	if err := put(s, KeyFaculty, nonNil(st.Faculty)); err != nil {
		return err
	}
	if err := put(s, KeySemesters, nonNil(st.Semesters)); err != nil {
		return err
	}
	return s.Flush()
}

func put(s Storage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.Set(key, string(data))
	return nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Clear removes every session key from s.
func Clear(s Storage) error {
	s.Delete(KeyCredentials)
	s.Delete(KeyFaculty)
	s.Delete(KeySemesters)
	return s.Flush()
}

// Session ties the persisted state to a portal client.
type Session struct {
	storage Storage
	client  portal.Client
	state   State
}

// Open loads the state from storage.
func Open(storage Storage, client portal.Client) *Session {
	return &Session{storage: storage, client: client, state: Load(storage)}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// LoggedIn reports whether credentials are stored.
func (s *Session) LoggedIn() bool { return s.state.Credentials != nil }

// Login validates creds with the portal and stores them with the fetched
// lists. On failure nothing is changed.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	res, err := s.client.Login(ctx, portal.Request{Username: creds.Username, Password: creds.Password})
	if err != nil {
		return err
	}
	next := State{Credentials: &creds, Faculty: res.Faculty, Semesters: res.Semesters}
	if err := next.Save(s.storage); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Refresh re-validates the stored credentials. Success replaces both
// lists; an authentication failure logs the student out; any other error
// keeps the cached lists.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.LoggedIn() {
		return ErrNotLoggedIn
	}
	creds := s.state.Credentials
	res, err := s.client.Login(ctx, portal.Request{Username: creds.Username, Password: creds.Password})
	if err != nil {
		if portal.IsAuthFailure(err) {
			log.Printf("Stored credentials were refused, logging out: %v", err)
			if lerr := s.Logout(); lerr != nil {
				return errors.Join(err, lerr)
			}
		}
		return err
	}

	next := State{Credentials: creds, Faculty: res.Faculty, Semesters: res.Semesters}
	if err := next.Save(s.storage); err != nil {
		return err
	}
	s.state = next
	return nil
}

// ChangeSemester fetches the faculty list of another semester. The
// semester list is left as it is.
func (s *Session) ChangeSemester(ctx context.Context, semesterID string) error {
	if !s.LoggedIn() {
		return ErrNotLoggedIn
	}
	creds := s.state.Credentials
	res, err := s.client.Login(ctx, portal.Request{Username: creds.Username, Password: creds.Password, SemesterID: semesterID})
	if err != nil {
		return err
	}

	next := s.state
	next.Faculty = res.Faculty
	if err := next.Save(s.storage); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Logout forgets the credentials and both lists.
func (s *Session) Logout() error {
	s.state = State{}
	return Clear(s.storage)
}
