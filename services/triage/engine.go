// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"fmt"
	"strings"

	"github.com/NeurowatchAI/Neurowatch/services/triage/rules"
	"gopkg.in/yaml.v3"
)

// Rule set modes baked into the embedded rule file.
const (
	ModeMonitoring = "monitoring"
	ModeChat       = "chat"
)

// Engine serves as the main entry point for keyword-based symptom triage.
// It holds the loaded rule sets and classifies free text against them.
type Engine struct {
	sets map[string]RuleSet
}

// Match is the outcome of classifying a text against one rule set.
// Keyword is the term that decided the outcome, empty when the default
// outcome applied.
type Match struct {
	Level   Level  `json:"level"`
	Reason  string `json:"reason"`
	Action  string `json:"action"`
	Keyword string `json:"keyword,omitempty"`
}

// NewEngine initializes a new instance of the triage Engine.
//
// It takes no arguments and automatically loads the rule definitions embedded
// in the binary via the rules package.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Normalizes every keyword to lowercase.
// 3. Sorts tiers by priority within each rule set.
//
// Returns an error if the embedded YAML is malformed, contains no rule sets,
// or declares the same mode twice.
func NewEngine() (*Engine, error) {
	var ruleFile RuleFile
	if err := yaml.Unmarshal(rules.SymptomRules, &ruleFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded rule file: %w", err)
	}
	if len(ruleFile.RuleSets) == 0 {
		return nil, fmt.Errorf("embedded rule file contains no rule sets")
	}

	ruleFile.Normalize()
	ruleFile.SortByPriority()

	sets := make(map[string]RuleSet, len(ruleFile.RuleSets))
	for _, set := range ruleFile.RuleSets {
		if _, exists := sets[set.Mode]; exists {
			return nil, fmt.Errorf("duplicate rule set mode %q", set.Mode)
		}
		sets[set.Mode] = set
	}

	engine := &Engine{sets: sets}
	return engine, nil
}

// HasMode reports whether a rule set exists for the given mode.
func (e *Engine) HasMode(mode string) bool {
	_, ok := e.sets[mode]
	return ok
}

// Classify runs ordered keyword matching over text for the given mode.
//
// The text is lowercased once, then tiers are scanned from highest to lowest
// priority; the first tier containing any of its keywords as a substring
// decides the outcome. When nothing matches, the rule set's default outcome
// is returned with an empty Keyword.
//
// Classification is deterministic: the same text always yields the same Match.
func (e *Engine) Classify(mode, text string) (Match, error) {
	set, ok := e.sets[mode]
	if !ok {
		return Match{}, fmt.Errorf("unknown triage mode %q", mode)
	}

	lowered := strings.ToLower(text)
	for _, tier := range set.Tiers {
		for _, keyword := range tier.Keywords {
			if strings.Contains(lowered, keyword) {
				return Match{
					Level:   tier.Level,
					Reason:  tier.Reason,
					Action:  tier.Action,
					Keyword: keyword,
				}, nil
			}
		}
	}

	return Match{
		Level:  set.Default.Level,
		Reason: set.Default.Reason,
		Action: set.Default.Action,
	}, nil
}
