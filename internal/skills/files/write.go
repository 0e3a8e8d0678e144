package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

// maxContentChars bounds one write.
const maxContentChars = 100_000

var writeParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {
      "type": "string",
      "description": "Absolute path within the sandbox workspace to write to."
    },
    "content": {
      "type": "string",
      "description": "Text content to write."
    },
    "mode": {
      "type": "string",
      "description": "'write' (default, creates or overwrites) or 'append'.",
      "enum": ["write", "append"]
    }
  },
  "required": ["path", "content"]
}`)

// WriteSkill writes or appends to a file in the sandbox zone. Identity-zone
// writes go through the proposal/approval flow, not this skill.
type WriteSkill struct {
	policy *policy.Engine
}

// NewWrite creates the file_write skill.
func NewWrite(engine *policy.Engine) *WriteSkill {
	return &WriteSkill{policy: engine}
}

func (s *WriteSkill) Meta() skills.Meta {
	return skills.Meta{
		Name: "file_write",
		Description: "Write or append content to a file in the sandbox workspace. " +
			"Creates the file and any missing parent directories automatically. " +
			"Use mode='write' to create/overwrite, mode='append' to add to an existing file.",
		Parameters:       writeParameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "file_write",
		RequiresApproval: false,
		MaxCallsPerTurn:  10,
	}
}

func (s *WriteSkill) Validate(params map[string]any) error {
	path, ok := params["path"].(string)
	if !ok {
		return errors.New("parameter 'path' must be a string")
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("parameter 'path' must not be empty")
	}

	content, ok := params["content"].(string)
	if !ok {
		return errors.New("parameter 'content' must be a string")
	}
	if utf8.RuneCountInString(content) > maxContentChars {
		return fmt.Errorf("parameter 'content' must be under %d characters", maxContentChars)
	}

	if mode, present := params["mode"]; present {
		m, ok := mode.(string)
		if !ok || (m != "write" && m != "append") {
			return errors.New("parameter 'mode' must be 'write' or 'append'")
		}
	}

	// Autonomous writes are sandbox-only. Zones whose policy says deny or
	// requires_approval are refused here; the proposal flow covers those.
	if zone := s.policy.ResolveZone(path); zone != policy.ZoneSandbox {
		return fmt.Errorf("file_write is restricted to the sandbox workspace (path resolved to zone %q)", zone)
	}
	if result := s.policy.CheckFileAccess(path, policy.ActionWrite); result.Decision != policy.Allow {
		return errors.New(result.Reason)
	}
	return nil
}

// writeResult is the tagged result of one write.
type writeResult struct {
	err          string
	path         string
	bytesWritten int
	mode         string
}

func (s *WriteSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	mode, _ := params["mode"].(string)
	if mode == "" {
		mode = "write"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &writeResult{err: fmt.Sprintf("Could not write file: %v", err)}, nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if mode == "append" {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &writeResult{err: fmt.Sprintf("Permission denied: %s", path)}, nil
		}
		return &writeResult{err: fmt.Sprintf("Could not write file: %v", err)}, nil
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return &writeResult{err: fmt.Sprintf("Could not write file: %v", err)}, nil
	}
	return &writeResult{path: path, bytesWritten: n, mode: mode}, nil
}

func (s *WriteSkill) Sanitize(result any) (string, error) {
	r, ok := result.(*writeResult)
	if !ok {
		return fmt.Sprint(result), nil
	}
	if r.err != "" {
		return "[file_write] " + r.err, nil
	}
	action := "Written"
	if r.mode == "append" {
		action = "Appended"
	}
	return fmt.Sprintf("%s %d bytes to %s.", action, r.bytesWritten, r.path), nil
}
