package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"faculty-status-backend/internal/model"
)

// Runner runs a program and returns what it wrote.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecClient runs a local fetcher executable with the arguments
// username, password and an optional semester id. The fetcher prints one
// JSON document on stdout.
type ExecClient struct {
	path    string
	timeout time.Duration
	run     Runner
}

// NewExecClient creates a client for the executable at path. A zero timeout
// means none.
func NewExecClient(path string, timeout time.Duration) *ExecClient {
	return &ExecClient{path: path, timeout: timeout, run: runCommand}
}

// fetcherOutput is what the fetcher prints.
type fetcherOutput struct {
	Error     string `json:"error"`
	Details   string `json:"details"`
	Semesters struct {
		Semesters []model.Semester `json:"semesters"`
	} `json:"semesters"`
	Timetable struct {
		Slots []Slot `json:"slots"`
	} `json:"timetable"`
}

// Login implements Client.
func (c *ExecClient) Login(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{req.Username, req.Password}
	if req.SemesterID != "" {
		args = append(args, req.SemesterID)
	}

	stdout, stderr, err := c.run(ctx, c.path, args...)
	if err != nil {
		details := string(stderr)
		if details == "" {
			details = err.Error()
		}
		return nil, &TransportError{Message: "Failed to execute VTOP fetcher", Details: details, Err: err}
	}

	out, err := decodeOutput(stdout)
	if err != nil {
		return nil, &TransportError{Message: "Failed to parse VTOP data", Details: string(stdout), Err: err}
	}
	if out.Error != "" {
		return nil, &AuthError{Message: out.Error, Details: out.Details}
	}

	semesters := out.Semesters.Semesters
	if semesters == nil {
		semesters = []model.Semester{}
	}
	return &Result{
		Success:   true,
		Faculty:   ExtractFaculty(out.Timetable.Slots),
		Semesters: semesters,
	}, nil
}

// decodeOutput reads stdout as a single JSON document. Output with log
// lines around the document is accepted by falling back to the text
// between the first '{' and the last '}'.
func decodeOutput(stdout []byte) (*fetcherOutput, error) {
	var out fetcherOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &out); err == nil {
		return &out, nil
	}

	start := bytes.IndexByte(stdout, '{')
	end := bytes.LastIndexByte(stdout, '}')
	if start == -1 || end < start {
		return nil, errors.New("no JSON found in output")
	}
	out = fetcherOutput{}
	if err := json.Unmarshal(stdout[start:end+1], &out); err != nil {
		return nil, err
	}
	return &out, nil
}
