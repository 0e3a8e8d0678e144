// Package identity loads the agent's identity files and assembles the
// system prompt.
//
// Files live in one directory (bind-mounted in production). Bootstrap mode
// is detected by the presence of BOOTSTRAP.md: while it exists the agent is
// onboarding and proposes its own identity files, which are written through
// the approval gate and never directly.
package identity

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxFileChars caps how much of any identity file enters the prompt.
const maxFileChars = 20_000

// Logical identity file names.
const (
	FileBootstrap = "BOOTSTRAP.md"
	FileSoul      = "SOUL.md"
	FileIdentity  = "IDENTITY.md"
	FileUser      = "USER.md"
	FileAgents    = "AGENTS.md"
)

// Identity holds the loaded identity files. A nil-equivalent empty string
// means the file does not exist.
type Identity struct {
	Bootstrap string
	Soul      string
	IdentityM string
	User      string
	Agents    string

	// present tracks which files actually existed, distinguishing a
	// missing file from an empty one.
	present map[string]bool
}

// Loader reads identity files from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the identity directory.
func (l *Loader) Dir() string {
	return l.dir
}

// IsBootstrapMode reports whether BOOTSTRAP.md exists.
func (l *Loader) IsBootstrapMode() bool {
	info, err := os.Stat(filepath.Join(l.dir, FileBootstrap))
	return err == nil && !info.IsDir()
}

// LoadFile reads one identity file truncated to the per-file cap. The
// second return is false when the file does not exist or cannot be read.
func (l *Loader) LoadFile(filename string) (string, bool) {
	f, err := os.Open(filepath.Join(l.dir, filename))
	if err != nil {
		return "", false
	}
	defer f.Close()

	if info, err := f.Stat(); err != nil || info.IsDir() {
		return "", false
	}
	raw, err := io.ReadAll(io.LimitReader(f, 4*maxFileChars))
	if err != nil {
		return "", false
	}
	content := strings.ToValidUTF8(string(raw), "�")
	if runes := []rune(content); len(runes) > maxFileChars {
		content = string(runes[:maxFileChars])
	}
	return content, true
}

// Load reads all identity files.
func (l *Loader) Load() *Identity {
	id := &Identity{present: make(map[string]bool)}
	load := func(filename string, dst *string) {
		content, ok := l.LoadFile(filename)
		*dst = content
		id.present[filename] = ok
	}
	load(FileBootstrap, &id.Bootstrap)
	load(FileSoul, &id.Soul)
	load(FileIdentity, &id.IdentityM)
	load(FileUser, &id.User)
	load(FileAgents, &id.Agents)
	return id
}

// Has reports whether the named file existed at load time.
func (id *Identity) Has(filename string) bool {
	return id.present[filename]
}

// SystemPrompt assembles the composite system prompt.
//
// Bootstrap mode: BOOTSTRAP.md + AGENTS.md.
// Normal mode: SOUL.md + AGENTS.md + USER.md.
func (id *Identity) SystemPrompt() string {
	var parts []string
	if id.Has(FileBootstrap) {
		parts = append(parts, id.Bootstrap)
		if id.Agents != "" {
			parts = append(parts, id.Agents)
		}
	} else {
		for _, p := range []string{id.Soul, id.Agents, id.User} {
			if p != "" {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// ParseFields extracts the simple key: value fields (name, nature, vibe,
// emoji) from IDENTITY.md content. Headings and unknown keys are skipped.
func ParseFields(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "name", "nature", "vibe", "emoji":
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
