// Package permission implements the policy gate that sits between a model's
// tool call request and its execution. Rules are evaluated in the order they
// were added; the first matching rule decides. No match means Deny.
package permission

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
)

// Action is the outcome a rule assigns to a matching tool call.
type Action string

const (
	// Allow lets the call proceed to the executor.
	Allow Action = "allow"
	// Deny blocks the call; the executor reports it as an error result.
	Deny Action = "deny"
	// Ask delegates the decision to the gate's Confirmer.
	Ask Action = "ask"
)

// Rule grants or denies tool calls whose name matches Tool and whose
// arguments match Patterns (if any).
//
// Tool supports glob-style wildcards: `*` matches within a path segment,
// `**` matches across segments. Patterns are substring matches applied to
// the string values of the call's arguments; an empty Patterns list matches
// any arguments.
type Rule struct {
	Tool     string   `json:"tool"`
	Action   Action   `json:"action"`
	Patterns []string `json:"patterns,omitempty"`
}

// Request carries the facts a rule or confirmer decides on.
type Request struct {
	Tool      string
	Args      json.RawMessage
	SessionID string
}

// Confirmer resolves an Ask decision, typically by prompting a human. It
// must return Allow or Deny.
type Confirmer func(ctx context.Context, req Request) Action

// Gate evaluates permission rules for tool calls. The zero value is unusable;
// create gates with NewGate. A gate with no rules denies everything.
type Gate struct {
	mu        sync.RWMutex
	rules     []Rule
	compiled  []*regexp.Regexp
	confirmer Confirmer
}

// NewGate creates a gate with the given rules, evaluated in order.
func NewGate(rules ...Rule) *Gate {
	g := &Gate{}
	for _, r := range rules {
		g.AddRule(r)
	}
	return g
}

// SetConfirmer installs the callback consulted for Ask rules. Without a
// confirmer, Ask degrades to Deny.
func (g *Gate) SetConfirmer(c Confirmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmer = c
}

// AddRule appends a rule. Later rules only apply when no earlier rule
// matched.
func (g *Gate) AddRule(rule Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
	g.compiled = append(g.compiled, compileToolPattern(rule.Tool))
}

// Check evaluates the rules against a requested tool call and returns Allow
// or Deny, plus a short reason. Ask rules are resolved through the confirmer
// and the result is treated like a static rule outcome. Absence of any
// matching rule is a Deny.
func (g *Gate) Check(ctx context.Context, req Request) (Action, string) {
	g.mu.RLock()
	rules := g.rules
	compiled := g.compiled
	confirmer := g.confirmer
	g.mu.RUnlock()

	for i, rule := range rules {
		if !matchTool(compiled[i], rule.Tool, req.Tool) {
			continue
		}
		if !matchArgs(rule.Patterns, req.Args) {
			continue
		}
		switch rule.Action {
		case Allow:
			return Allow, "allowed by rule"
		case Deny:
			return Deny, "denied by rule"
		case Ask:
			if confirmer == nil {
				return Deny, "confirmation unavailable"
			}
			if confirmer(ctx, req) == Allow {
				return Allow, "confirmed by user"
			}
			return Deny, "denied by user"
		}
	}
	return Deny, "no matching rule"
}

// compileToolPattern converts a glob-style tool pattern to a regexp. A nil
// return means the pattern is a plain name compared with string equality.
func compileToolPattern(pattern string) *regexp.Regexp {
	if pattern == "*" || !strings.Contains(pattern, "*") {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '*' {
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '*' {
			sb.WriteString(".*")
			i++
		} else {
			sb.WriteString("[^/]*")
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil
	}
	return re
}

func matchTool(re *regexp.Regexp, pattern, tool string) bool {
	if pattern == "*" {
		return true
	}
	if re != nil {
		return re.MatchString(tool)
	}
	return pattern == tool
}

// matchArgs reports whether any pattern appears as a substring of the
// arguments. Top-level string values of an object payload are checked
// individually; any other payload is checked as raw text.
func matchArgs(patterns []string, args json.RawMessage) bool {
	if len(patterns) == 0 {
		return true
	}

	var values []string
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err == nil {
		for _, raw := range obj {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				values = append(values, s)
			}
		}
	} else {
		values = append(values, string(args))
	}

	for _, pattern := range patterns {
		for _, v := range values {
			if strings.Contains(v, pattern) {
				return true
			}
		}
	}
	return false
}
