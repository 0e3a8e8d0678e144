// Package files implements the file_read and file_write skills. Every path
// is resolved and checked against the policy engine's zones before any
// filesystem access, so traversal and symlink tricks cannot escape.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

// maxReadChars caps how much of a file re-enters model context.
const maxReadChars = 20_000

var readParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {
      "type": "string",
      "description": "Absolute path to the file to read."
    }
  },
  "required": ["path"]
}`)

// ReadSkill reads a file from a zone whose policy allows reads.
type ReadSkill struct {
	policy *policy.Engine
}

// NewRead creates the file_read skill.
func NewRead(engine *policy.Engine) *ReadSkill {
	return &ReadSkill{policy: engine}
}

func (s *ReadSkill) Meta() skills.Meta {
	return skills.Meta{
		Name: "file_read",
		Description: "Read the contents of a file. Allowed locations: the sandbox " +
			"workspace, the identity directory, and the application directory. " +
			"Use this to inspect files, read notes, or load data.",
		Parameters:       readParameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "file_read",
		RequiresApproval: false,
		MaxCallsPerTurn:  10,
	}
}

func (s *ReadSkill) Validate(params map[string]any) error {
	path, ok := params["path"].(string)
	if !ok {
		return errors.New("parameter 'path' must be a string")
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("parameter 'path' must not be empty")
	}
	result := s.policy.CheckFileAccess(path, policy.ActionRead)
	if result.Decision != policy.Allow {
		return errors.New(result.Reason)
	}
	return nil
}

// readResult is the tagged result of one read.
type readResult struct {
	err       string
	path      string
	content   string
	truncated bool
}

func (s *ReadSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	path, _ := params["path"].(string)

	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return &readResult{err: fmt.Sprintf("File not found: %s", path)}, nil
		case errors.Is(err, fs.ErrPermission):
			return &readResult{err: fmt.Sprintf("Permission denied: %s", path)}, nil
		default:
			return &readResult{err: fmt.Sprintf("Could not read file: %v", err)}, nil
		}
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return &readResult{err: fmt.Sprintf("Path is a directory, not a file: %s", path)}, nil
	}

	// Read one rune past the cap to detect truncation.
	raw, err := io.ReadAll(io.LimitReader(f, 4*(maxReadChars+1)))
	if err != nil {
		return &readResult{err: fmt.Sprintf("Could not read file: %v", err)}, nil
	}
	content := strings.ToValidUTF8(string(raw), "�")
	runes := []rune(content)
	truncated := len(runes) > maxReadChars
	if truncated {
		content = string(runes[:maxReadChars])
	}
	return &readResult{path: path, content: content, truncated: truncated}, nil
}

func (s *ReadSkill) Sanitize(result any) (string, error) {
	r, ok := result.(*readResult)
	if !ok {
		return fmt.Sprint(result), nil
	}
	if r.err != "" {
		return "[file_read] " + r.err, nil
	}
	suffix := ""
	if r.truncated {
		suffix = fmt.Sprintf("\n[truncated at %d chars]", maxReadChars)
	}
	return fmt.Sprintf("[%s]\n%s%s", r.path, r.content, suffix), nil
}
