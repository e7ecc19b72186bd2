package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Verdict contains the outcome of a policy evaluation.
type Verdict struct {
	Allow      bool   `json:"allow"`
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`
	Category   string `json:"category,omitempty"`
}

// DefaultRefusal is used when no refusal template exists for a rule's
// reason code.
const DefaultRefusal = "I can't help with that."

// Rule matches text either by lowercase substring or by regex.
type Rule struct {
	Mode       string   `json:"mode"` // "substring" (default) or "regex"
	Patterns   []string `json:"patterns"`
	ReasonCode string   `json:"reason_code"`
	Category   string   `json:"category"`
}

// RuleSet is the on-disk shape of the rules file.
type RuleSet struct {
	Rules            []Rule            `json:"rules"`
	RefusalTemplates map[string]string `json:"refusal_templates"`
}

type compiledRule struct {
	Rule
	regexps []*regexp.Regexp
}

// RuleEngine evaluates user text against an ordered set of content
// rules. The first matching rule wins. The engine can be toggled off at
// runtime and its rules reloaded from disk without a restart.
type RuleEngine struct {
	mu        sync.RWMutex
	rulesPath string
	rules     []compiledRule
	templates map[string]string
	enabled   bool
}

// NewRuleEngine loads and compiles the rules file at path.
func NewRuleEngine(path string) (*RuleEngine, error) {
	e := &RuleEngine{rulesPath: path, enabled: true}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewRuleEngineFromSet builds an engine from an in-memory rule set.
func NewRuleEngineFromSet(set RuleSet) (*RuleEngine, error) {
	e := &RuleEngine{enabled: true}
	if err := e.install(set); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads and re-compiles the rules file. On failure the
// previous rules stay in effect.
func (e *RuleEngine) Reload() error {
	if e.rulesPath == "" {
		return fmt.Errorf("no rules path configured")
	}
	data, err := os.ReadFile(e.rulesPath)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	var set RuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("failed to decode rules file: %w", err)
	}
	return e.install(set)
}

func (e *RuleEngine) install(set RuleSet) error {
	compiled := make([]compiledRule, 0, len(set.Rules))
	for i, r := range set.Rules {
		cr := compiledRule{Rule: r}
		if r.Mode == "regex" {
			for _, p := range r.Patterns {
				re, err := regexp.Compile("(?im)" + p)
				if err != nil {
					return fmt.Errorf("rule %d: bad pattern %q: %w", i, p, err)
				}
				cr.regexps = append(cr.regexps, re)
			}
		}
		compiled = append(compiled, cr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = compiled
	e.templates = set.RefusalTemplates
	return nil
}

// Toggle flips the engine on or off and reports the new state.
func (e *RuleEngine) Toggle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = !e.enabled
	return e.enabled
}

// Enabled reports whether checks are active.
func (e *RuleEngine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// RuleCount returns the number of installed rules.
func (e *RuleEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// CheckText evaluates text against the rules. A disabled engine allows
// everything.
func (e *RuleEngine) CheckText(ctx context.Context, text string) Verdict {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.enabled {
		return Verdict{Allow: true}
	}

	lower := strings.ToLower(text)
	for _, rule := range e.rules {
		if !rule.matches(text, lower) {
			continue
		}
		msg, ok := e.templates[rule.ReasonCode]
		if !ok {
			msg = DefaultRefusal
		}
		category := rule.Category
		if category == "" {
			category = "unspecified"
		}
		return Verdict{
			Allow:      false,
			ReasonCode: rule.ReasonCode,
			Message:    msg,
			Category:   category,
		}
	}
	return Verdict{Allow: true}
}

func (r compiledRule) matches(text, lower string) bool {
	if r.Mode == "regex" {
		for _, re := range r.regexps {
			if re.MatchString(text) {
				return true
			}
		}
		return false
	}
	for _, p := range r.Patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
