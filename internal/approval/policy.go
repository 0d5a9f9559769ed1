// Package approval implements the consent gate between the agent and every
// tool call: per-user autonomy policy, the approvalId broker that parks a
// turn until the decision endpoint answers, and the remember-window cache.
package approval

import (
	"strings"
	"sync"
)

// Mode selects where approval prompts are answered.
type Mode string

const (
	// ModeLocal prompts on the active stream of the same process.
	ModeLocal Mode = "local"
	// ModeRemote prompts through a connected channel (push message).
	ModeRemote Mode = "remote"
)

// Rule is a per-capability verdict.
type Rule string

const (
	RuleAllowed Rule = "allowed"
	RuleDenied  Rule = "denied"
	RulePrompt  Rule = "prompt"
)

// Policy is one user's autonomy configuration. Capability keys support
// exact names, "prefix*", "*suffix" and "*".
type Policy struct {
	Mode         Mode            `yaml:"mode" json:"mode"`
	Capabilities map[string]Rule `yaml:"capabilities" json:"capabilities"`
	// Default applies when no capability pattern matches. Default: prompt.
	Default Rule `yaml:"default" json:"default"`
}

// DefaultPolicy prompts for everything.
func DefaultPolicy() *Policy {
	return &Policy{
		Mode:         ModeLocal,
		Capabilities: map[string]Rule{},
		Default:      RulePrompt,
	}
}

func normalizePolicy(p *Policy) *Policy {
	if p == nil {
		return DefaultPolicy()
	}
	clone := *p
	if clone.Mode == "" {
		clone.Mode = ModeLocal
	}
	if clone.Default == "" {
		clone.Default = RulePrompt
	}
	caps := make(map[string]Rule, len(p.Capabilities))
	for pattern, rule := range p.Capabilities {
		caps[pattern] = rule
	}
	clone.Capabilities = caps
	return &clone
}

// PolicyStore holds per-user policies with a shared default.
type PolicyStore struct {
	mu            sync.RWMutex
	userPolicies  map[string]*Policy
	defaultPolicy *Policy
}

// NewPolicyStore creates a policy store. A nil default means prompt-for-all.
func NewPolicyStore(defaultPolicy *Policy) *PolicyStore {
	return &PolicyStore{
		userPolicies:  make(map[string]*Policy),
		defaultPolicy: normalizePolicy(defaultPolicy),
	}
}

// SetPolicy installs a per-user policy, overriding the default.
func (s *PolicyStore) SetPolicy(userID string, p *Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userPolicies[userID] = normalizePolicy(p)
}

// PolicyFor returns the effective policy for the user. Read-only.
func (s *PolicyStore) PolicyFor(userID string) *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.userPolicies[userID]; ok && p != nil {
		return p
	}
	return s.defaultPolicy
}

// RuleFor evaluates the user's policy for an action type. Denied patterns
// win over allowed, allowed over prompt, then the policy default.
func (s *PolicyStore) RuleFor(userID, actionType string) Rule {
	p := s.PolicyFor(userID)

	matched := Rule("")
	for pattern, rule := range p.Capabilities {
		if !matchesPattern(pattern, actionType) {
			continue
		}
		switch {
		case rule == RuleDenied:
			return RuleDenied
		case rule == RuleAllowed:
			matched = RuleAllowed
		case rule == RulePrompt && matched != RuleAllowed:
			matched = RulePrompt
		}
	}
	if matched != "" {
		return matched
	}
	return p.Default
}

// matchesPattern supports exact match, "prefix*", "*suffix" and "*".
func matchesPattern(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" || pattern == name {
		return true
	}
	if len(pattern) > 1 && pattern[len(pattern)-1] == '*' {
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	if len(pattern) > 1 && pattern[0] == '*' {
		return strings.HasSuffix(name, pattern[1:])
	}
	return false
}
