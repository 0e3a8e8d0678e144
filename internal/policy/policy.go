// Package policy implements the central policy engine: the four-zone
// filesystem permission model, the compiled-in shell deny-list, HTTP access
// rules, and per-bucket rate limits.
//
// Zones:
//
//	sandbox  (/sandbox) — agent playground, full access
//	identity (/agent)   — soul/config files, read ok, write needs approval
//	system   (/app)     — application code, read-only
//	external            — HTTP access, governed by method + URL rules
//
// The deny-list lives in this package as compiled constants, not in the
// policy document, so no configuration change can weaken it.
package policy

// Zone is a trust region of the filesystem or the network.
type Zone string

const (
	ZoneSandbox  Zone = "sandbox"
	ZoneIdentity Zone = "identity"
	ZoneSystem   Zone = "system"
	ZoneExternal Zone = "external"
	ZoneUnknown  Zone = "unknown"
)

// Action is the kind of operation being checked.
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionExecute    Action = "execute"
	ActionHTTPGet    Action = "http_get"
	ActionHTTPPost   Action = "http_post"
	ActionHTTPPut    Action = "http_put"
	ActionHTTPDelete Action = "http_delete"
	ActionShell      Action = "shell"
)

// Decision is the policy outcome for one action.
type Decision string

const (
	Allow            Decision = "allow"
	Deny             Decision = "deny"
	RequiresApproval Decision = "requires_approval"
)

// RiskLevel grades how dangerous an action is, used for approval prompts
// and trace events.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Result is one policy decision. It is derived from configuration on every
// check and never persisted.
type Result struct {
	Decision  Decision
	Zone      Zone
	Action    Action
	Reason    string
	RiskLevel RiskLevel
}

// ruleToDecision converts a policy document rule string. Unrecognized rules
// deny.
func ruleToDecision(rule string) Decision {
	switch rule {
	case "allow":
		return Allow
	case "deny":
		return Deny
	case "requires_approval":
		return RequiresApproval
	default:
		return Deny
	}
}

// methodToAction maps an HTTP method to its action. Unknown methods map to
// the restrictive POST action.
func methodToAction(method string) Action {
	switch method {
	case "GET":
		return ActionHTTPGet
	case "POST":
		return ActionHTTPPost
	case "PUT":
		return ActionHTTPPut
	case "DELETE":
		return ActionHTTPDelete
	default:
		return ActionHTTPPost
	}
}
