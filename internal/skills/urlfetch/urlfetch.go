// Package urlfetch implements the url_fetch skill: fetch a page and return
// its readable text.
//
// SSRF guard: only http/https schemes, a hostname blocklist for internal
// services, and DNS resolution checked against private/loopback/link-local
// ranges. Responses are capped at 1 MB on the wire and 5k characters into
// model context.
package urlfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

const (
	maxResponseBytes = 1 << 20
	maxOutputChars   = 5_000
	maxURLChars      = 2048
	userAgent        = "Mozilla/5.0 (compatible; aegis-agent/1.0)"
)

// blockedHostnames are internal service names and localhost aliases that
// must never be fetched on the model's behalf.
var blockedHostnames = map[string]struct{}{
	"localhost":        {},
	"redis":            {},
	"ollama-runner":    {},
	"chroma-rag":       {},
	"agent-core":       {},
	"aegisd":           {},
	"telegram-gateway": {},
	"web-ui":           {},
	"dashboard":        {},
}

var excessNewlines = regexp.MustCompile(`\n{3,}`)

var parameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {
      "type": "string",
      "description": "The full URL to fetch (must be http or https)."
    }
  },
  "required": ["url"]
}`)

// Skill fetches the content of a URL and returns its readable text.
type Skill struct {
	policy *policy.Engine
	http   *http.Client

	// lookupIP is swappable for tests.
	lookupIP func(host string) ([]net.IP, error)
}

// New creates the url_fetch skill.
func New(engine *policy.Engine) *Skill {
	return &Skill{
		policy:   engine,
		http:     &http.Client{Timeout: 15 * time.Second},
		lookupIP: net.LookupIP,
	}
}

func (s *Skill) Meta() skills.Meta {
	return skills.Meta{
		Name: "url_fetch",
		Description: "Fetch the text content of a web page or URL. Use this to read a " +
			"specific page when you have its URL, such as documentation, articles, " +
			"or public data. Only http and https URLs are supported.",
		Parameters:       parameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "url_fetch",
		RequiresApproval: false,
		MaxCallsPerTurn:  3,
	}
}

// checkURL validates a URL for SSRF safety.
func (s *Skill) checkURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed; use http or https", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return errors.New("URL has no hostname")
	}
	if _, blocked := blockedHostnames[strings.ToLower(hostname)]; blocked {
		return fmt.Errorf("hostname %q is a blocked internal service", hostname)
	}

	// DNS failures are left for Execute to surface as connection errors.
	ips, err := s.lookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return errors.New("URL resolves to a private/internal IP address")
		}
	}
	return nil
}

func (s *Skill) Validate(params map[string]any) error {
	raw, ok := params["url"].(string)
	if !ok {
		return errors.New("parameter 'url' must be a string")
	}
	if strings.TrimSpace(raw) == "" {
		return errors.New("parameter 'url' must not be empty")
	}
	if utf8.RuneCountInString(raw) > maxURLChars {
		return fmt.Errorf("parameter 'url' must be under %d characters", maxURLChars)
	}
	if err := s.checkURL(raw); err != nil {
		return err
	}
	if result := s.policy.CheckHTTPAccess(raw, http.MethodGet); result.Decision != policy.Allow {
		return errors.New(result.Reason)
	}
	return nil
}

// fetchResult is the tagged result of one fetch.
type fetchResult struct {
	err        string
	url        string
	content    string
	statusCode int
}

func (s *Skill) Execute(ctx context.Context, params map[string]any) (any, error) {
	raw, _ := params["url"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return &fetchResult{err: fmt.Sprintf("Fetch failed: %v", err)}, nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return &fetchResult{err: fmt.Sprintf("Request to %s timed out", raw)}, nil
		}
		return &fetchResult{err: fmt.Sprintf("Could not connect to %s: %v", raw, err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &fetchResult{err: fmt.Sprintf("HTTP error from %s: status %d", raw, resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &fetchResult{err: fmt.Sprintf("Fetch failed: %v", err)}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(strings.ToLower(contentType), "html") {
		text = extractText(body)
	} else {
		text = strings.ToValidUTF8(string(body), "�")
	}

	return &fetchResult{url: raw, content: text, statusCode: resp.StatusCode}, nil
}

// extractText walks the HTML tree collecting text nodes, skipping script and
// style blocks.
func extractText(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return strings.ToValidUTF8(string(body), "�")
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				b.WriteString(trimmed)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

func (s *Skill) Sanitize(result any) (string, error) {
	r, ok := result.(*fetchResult)
	if !ok {
		return fmt.Sprint(result), nil
	}
	if r.err != "" {
		return "[url_fetch] " + r.err, nil
	}

	content := skills.StripSuspicious(r.content)
	content = strings.TrimSpace(excessNewlines.ReplaceAllString(content, "\n\n"))
	if utf8.RuneCountInString(content) > maxOutputChars {
		content = string([]rune(content)[:maxOutputChars]) + "\n[truncated]"
	}
	return fmt.Sprintf("[%s] (HTTP %d)\n\n%s", r.url, r.statusCode, content), nil
}
