package policy

import "regexp"

// hardDenyPatterns is the compiled-in shell deny-list. It is deliberately
// not part of the policy document: the agent can propose edits to
// policy.yaml through the approval flow, and nothing it writes there may
// weaken this list.
var hardDenyPatterns = []*regexp.Regexp{
	// Destructive file operations
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*)?r[a-zA-Z]*f`),
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*)?f[a-zA-Z]*r`),
	regexp.MustCompile(`\brm\s+-rf\b`),
	// Dangerous permission changes
	regexp.MustCompile(`\bchmod\s+777\b`),
	regexp.MustCompile(`\bchmod\s+-R\s+777\b`),
	// Pipe-to-shell attacks
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*\|\s*(ba)?sh\b`),
	// Fork bombs
	regexp.MustCompile(`:\(\)\{.*\|.*&.*\};:`),
	regexp.MustCompile(`(?i)\bfork\s*bomb\b`),
	// System destruction
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`\bhalt\b`),
	regexp.MustCompile(`\binit\s+0\b`),
	regexp.MustCompile(`\bpoweroff\b`),
	// Disk destruction
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	// Privilege escalation
	regexp.MustCompile(`\bsudo\s+su\b`),
	regexp.MustCompile(`\bsu\s+-\s*$`),
	regexp.MustCompile(`\bpasswd\b`),
	// Network exfiltration / reverse shells
	regexp.MustCompile(`\bnc\s+-[a-zA-Z]*l`),
	regexp.MustCompile(`/dev/tcp/`),
	// Package manager as root
	regexp.MustCompile(`\bsudo\s+pip\b`),
	regexp.MustCompile(`\bsudo\s+npm\b`),
	// History/log tampering
	regexp.MustCompile(`\bhistory\s+-c\b`),
	regexp.MustCompile(`>\s*/dev/null\s+2>&1\s*&\s*$`),
}

// IsDeniedCommand checks command against the hard deny-list. Returns the
// matching pattern source for the decision reason.
func IsDeniedCommand(command string) (bool, string) {
	for _, pattern := range hardDenyPatterns {
		if pattern.MatchString(command) {
			return true, pattern.String()
		}
	}
	return false, ""
}
