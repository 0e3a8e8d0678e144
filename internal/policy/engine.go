package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/aegis-agent/aegis/internal/ratelimit"
)

// defaultLimit applies to buckets absent from the policy document when it
// also carries no "default" entry.
var defaultLimit = ratelimit.Limit{MaxCalls: 30, WindowSeconds: 60}

// Engine is the central policy decision point. All checks read the current
// compiled configuration through an atomic pointer; Reload swaps it only
// after the new document parses and compiles.
type Engine struct {
	configPath string
	current    atomic.Pointer[compiled]
	limiter    *ratelimit.Limiter
	observer   Observer
}

// Observer receives every file, shell, and HTTP decision the engine makes,
// for metric counters and policy trace events. Set it once at startup,
// before the engine serves checks.
type Observer func(target string, res Result)

// SetObserver installs the decision observer.
func (e *Engine) SetObserver(fn Observer) {
	e.observer = fn
}

func (e *Engine) observe(target string, res Result) {
	if e.observer != nil {
		e.observer(target, res)
	}
}

// NewEngine loads the policy document at configPath and returns an engine.
// A load failure here is fatal by design: the process must not start
// without a policy.
func NewEngine(configPath string, limiter *ratelimit.Limiter) (*Engine, error) {
	c, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	e := &Engine{configPath: configPath, limiter: limiter}
	e.current.Store(c)
	return e, nil
}

// Reload re-reads the policy document. On any parse or compile error the
// prior configuration stays in effect and the error is returned.
func (e *Engine) Reload() error {
	c, err := loadConfig(e.configPath)
	if err != nil {
		return err
	}
	e.current.Store(c)
	return nil
}

// realPath canonicalizes a path, resolving symlinks. For paths that do not
// exist yet (file_write targets), symlinks are resolved through the nearest
// existing ancestor and the remainder re-joined, so a symlinked parent
// cannot smuggle a write outside its zone.
func realPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	dir, rest := abs, ""
	for dir != "/" && dir != "." {
		parent := filepath.Dir(dir)
		rest = filepath.Join(filepath.Base(dir), rest)
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(resolved, rest)
		}
		dir = parent
	}
	return abs
}

// ResolveZone maps a filesystem path to its zone. The longest configured
// zone prefix wins; paths outside every zone resolve to ZoneUnknown.
func (e *Engine) ResolveZone(path string) Zone {
	real := realPath(path)
	for _, zp := range e.current.Load().zonePaths {
		if real == zp.path || strings.HasPrefix(real, zp.path+"/") {
			return zp.zone
		}
	}
	return ZoneUnknown
}

// CheckFileAccess enforces the per-zone rule for a file read, write, or
// execute.
func (e *Engine) CheckFileAccess(path string, action Action) Result {
	res := e.fileAccess(path, action)
	e.observe(path, res)
	return res
}

func (e *Engine) fileAccess(path string, action Action) Result {
	zone := e.ResolveZone(path)
	if zone == ZoneUnknown {
		return Result{
			Decision:  Deny,
			Zone:      zone,
			Action:    action,
			Reason:    fmt.Sprintf("Path %s is outside all known zones", path),
			RiskLevel: RiskHigh,
		}
	}

	c := e.current.Load()
	var rule string
	for name, z := range zoneNames {
		if z != zone {
			continue
		}
		zc := c.config.Zones[name]
		switch action {
		case ActionRead:
			rule = zc.Read
		case ActionWrite:
			rule = zc.Write
		case ActionExecute:
			rule = zc.Execute
		}
	}
	if rule == "" {
		rule = "deny"
	}

	decision := ruleToDecision(rule)
	risk := RiskLow
	switch decision {
	case RequiresApproval:
		risk = RiskMedium
	case Deny:
		risk = RiskHigh
	}

	return Result{
		Decision:  decision,
		Zone:      zone,
		Action:    action,
		Reason:    fmt.Sprintf("%s in %s zone: %s", action, zone, rule),
		RiskLevel: risk,
	}
}

// CheckShellCommand applies the hard deny-list. The engine performs no
// further syntactic analysis; anything off the list is allowed at low risk.
func (e *Engine) CheckShellCommand(command string) Result {
	res := e.shellCommand(command)
	e.observe(command, res)
	return res
}

func (e *Engine) shellCommand(command string) Result {
	if denied, pattern := IsDeniedCommand(command); denied {
		return Result{
			Decision:  Deny,
			Zone:      ZoneSystem,
			Action:    ActionShell,
			Reason:    fmt.Sprintf("Command matches deny pattern: %s", pattern),
			RiskLevel: RiskCritical,
		}
	}
	return Result{
		Decision:  Allow,
		Zone:      ZoneSandbox,
		Action:    ActionShell,
		Reason:    "Command not on deny list",
		RiskLevel: RiskLow,
	}
}

// CheckHTTPAccess applies the denied-URL patterns, then the per-method
// rule. GET defaults to allow, writing methods to requires_approval.
func (e *Engine) CheckHTTPAccess(url, method string) Result {
	res := e.httpAccess(url, method)
	e.observe(url, res)
	return res
}

func (e *Engine) httpAccess(url, method string) Result {
	c := e.current.Load()
	method = strings.ToUpper(method)
	action := methodToAction(method)

	for i, re := range c.deniedURL {
		if re.MatchString(url) {
			return Result{
				Decision:  Deny,
				Zone:      ZoneExternal,
				Action:    action,
				Reason:    fmt.Sprintf("URL matches denied pattern: %s", c.config.ExternalAccess.DeniedURLPatterns[i]),
				RiskLevel: RiskCritical,
			}
		}
	}

	var rule string
	switch method {
	case "GET":
		rule = c.config.ExternalAccess.HTTPGet
		if rule == "" {
			rule = "allow"
		}
	case "POST":
		rule = c.config.ExternalAccess.HTTPPost
	case "PUT":
		rule = c.config.ExternalAccess.HTTPPut
	case "DELETE":
		rule = c.config.ExternalAccess.HTTPDelete
	default:
		rule = c.config.ExternalAccess.HTTPPost
	}
	if rule == "" {
		rule = "requires_approval"
	}

	decision := ruleToDecision(rule)
	risk := RiskLow
	if decision != Allow {
		risk = RiskMedium
	}

	return Result{
		Decision:  decision,
		Zone:      ZoneExternal,
		Action:    action,
		Reason:    fmt.Sprintf("HTTP %s: %s", method, rule),
		RiskLevel: risk,
	}
}

// CheckRateLimit admits or rejects one call for bucket using the limit from
// the policy document, falling back to the "default" entry and then to the
// compiled-in default.
func (e *Engine) CheckRateLimit(ctx context.Context, bucket string) bool {
	c := e.current.Load()
	limit, ok := c.config.RateLimits[bucket]
	if !ok {
		limit, ok = c.config.RateLimits["default"]
	}
	if !ok {
		limit = defaultLimit
	}
	return e.limiter.Allow(ctx, bucket, limit)
}

// RefusalPatterns returns the compiled refusal regexes from the policy
// document, or nil when the document carries none.
func (e *Engine) RefusalPatterns() []*regexp.Regexp {
	return e.current.Load().refusal
}
