// Package portal talks to the university portal fetcher that turns a
// student's credentials into their timetable faculty and semesters.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/model"
)

var (
	// ErrValidation is returned when the username or password is missing.
	ErrValidation = errors.New("portal: username and password are required")
	// ErrDisabled is returned when no fetcher is configured.
	ErrDisabled = errors.New("portal: no fetcher configured")
)

// AuthError is a failure reported by the fetcher itself, such as rejected
// credentials.
type AuthError struct {
	Message string
	Details string
}

func (e *AuthError) Error() string {
	if e.Details == "" {
		return "portal: " + e.Message
	}
	return fmt.Sprintf("portal: %s: %s", e.Message, e.Details)
}

// TransportError means the fetcher could not be run or its output could not
// be understood.
type TransportError struct {
	Message string
	Details string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal: %s: %v", e.Message, e.Err)
	}
	return "portal: " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError carries a non-2xx answer of a remote fetcher verbatim.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal: remote fetcher answered %d", e.StatusCode)
}

// IsAuthFailure reports whether err means the credentials were refused.
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == 401
}

// Request is a login request. SemesterID is optional.
type Request struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	SemesterID string `json:"semesterId,omitempty"`
}

// Validate checks that both credentials are present.
func (r Request) Validate() error {
	if r.Username == "" || r.Password == "" {
		return ErrValidation
	}
	return nil
}

// Result is a successful login.
type Result struct {
	Success   bool             `json:"success"`
	Faculty   []model.Faculty  `json:"faculty"`
	Semesters []model.Semester `json:"semesters"`
}

// Client logs in to the portal.
type Client interface {
	Login(ctx context.Context, req Request) (*Result, error)
}

// Disabled is the client used when neither a remote URL nor an executable
// is configured.
type Disabled struct{}

// Login always fails with ErrDisabled.
func (Disabled) Login(context.Context, Request) (*Result, error) {
	return nil, ErrDisabled
}

// New picks the client for cfg. A remote URL takes precedence over a local
// executable.
func New(cfg config.PortalConfig) Client {
	switch {
	case cfg.APIURL != "":
		log.Printf("Using remote portal fetcher at %s", cfg.APIURL)
		return NewRemoteClient(cfg.APIURL, cfg.HTTPProxy, cfg.Timeout)
	case cfg.Executable != "":
		log.Printf("Using local portal fetcher %s", cfg.Executable)
		return NewExecClient(cfg.Executable, cfg.Timeout)
	default:
		log.Println("Portal fetcher is not configured. Personalized faculty lists are disabled.")
		return Disabled{}
	}
}

// Slot is one timetable entry as produced by the fetcher.
type Slot struct {
	Faculty string `json:"faculty"`
	RoomNo  string `json:"room_no"`
}

var whitespace = regexp.MustCompile(`\s+`)

// ExtractFaculty derives the personalized faculty list from timetable
// slots. Slots without a faculty name are skipped. A slot without a room
// is keyed "UNKNOWN-" followed by the name with whitespace runs replaced by
// "-". The first slot for a key wins and order of first appearance is kept.
func ExtractFaculty(slots []Slot) []model.Faculty {
	out := make([]model.Faculty, 0, len(slots))
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		if strings.TrimSpace(s.Faculty) == "" {
			continue
		}
		cabinID := s.RoomNo
		if strings.TrimSpace(cabinID) == "" {
			cabinID = "UNKNOWN-" + whitespace.ReplaceAllString(s.Faculty, "-")
		}
		if seen[cabinID] {
			continue
		}
		seen[cabinID] = true
		out = append(out, model.Faculty{CabinID: cabinID, Name: s.Faculty})
	}
	return out
}
