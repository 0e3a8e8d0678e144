package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Proposal markers emitted by the model during bootstrap:
//
//	<<PROPOSE:FILENAME.md>>
//	content here
//	<<END_PROPOSE>>
var proposalPattern = regexp.MustCompile(`(?s)<<PROPOSE:([\w.]+)>>\s*\n(.*?)\n<<END_PROPOSE>>`)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// maxProposalChars bounds one proposed file.
const maxProposalChars = 10_000

// proposableFiles is the set the model may propose during bootstrap.
var proposableFiles = map[string]struct{}{
	FileSoul:     {},
	FileIdentity: {},
	FileUser:     {},
}

// requiredFiles must all exist with content before bootstrap completes.
var requiredFiles = []string{FileSoul, FileIdentity, FileUser}

// Proposal is one extracted file proposal.
type Proposal struct {
	Filename string
	Content  string
}

// ExtractProposals pulls (filename, content) pairs out of model output.
func ExtractProposals(response string) []Proposal {
	matches := proposalPattern.FindAllStringSubmatch(response, -1)
	proposals := make([]Proposal, 0, len(matches))
	for _, m := range matches {
		proposals = append(proposals, Proposal{
			Filename: m[1],
			Content:  strings.TrimSpace(m[2]),
		})
	}
	return proposals
}

// StripProposals removes proposal blocks from model output so the user sees
// only the conversational text.
func StripProposals(response string) string {
	cleaned := proposalPattern.ReplaceAllString(response, "")
	cleaned = excessNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// ValidateProposal checks the filename is proposable and the content is
// non-empty and within bounds.
func ValidateProposal(p Proposal) error {
	if _, ok := proposableFiles[p.Filename]; !ok {
		return fmt.Errorf("file %q is not in the allowed set (SOUL.md, IDENTITY.md, USER.md)", p.Filename)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("proposed content is empty")
	}
	if n := utf8.RuneCountInString(p.Content); n > maxProposalChars {
		return fmt.Errorf("content exceeds %d character limit (%d chars)", maxProposalChars, n)
	}
	return nil
}

// WriteProposal writes an approved proposal into the identity directory.
func (l *Loader) WriteProposal(p Proposal) error {
	if err := ValidateProposal(p); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.dir, p.Filename), []byte(p.Content), 0o644)
}

// CheckBootstrapComplete deletes BOOTSTRAP.md once all required identity
// files exist with content, ending bootstrap mode. Returns true when
// bootstrap ended on this call.
func (l *Loader) CheckBootstrapComplete() bool {
	for _, filename := range requiredFiles {
		content, ok := l.LoadFile(filename)
		if !ok || strings.TrimSpace(content) == "" {
			return false
		}
	}
	path := filepath.Join(l.dir, FileBootstrap)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}
