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
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

type RuleFile struct {
	RuleSets []RuleSet `yaml:"rule_sets"`
}

// RuleSet is the ordered keyword classifier for one risk path. The monitoring
// path never escalates past HIGH; the chat path may reach CRITICAL.
type RuleSet struct {
	Mode    string  `yaml:"mode"`
	Default Outcome `yaml:"default"`
	Tiers   []Tier  `yaml:"tiers"`
}

type Tier struct {
	Level    Level    `yaml:"level"`
	Priority int      `yaml:"priority"`
	Keywords []string `yaml:"keywords"`
	Reason   string   `yaml:"reason"`
	Action   string   `yaml:"action"`
}

// Outcome is the canned result applied when a tier matches, or when nothing
// matches at all (the rule set default).
type Outcome struct {
	Level  Level  `yaml:"level"`
	Reason string `yaml:"reason"`
	Action string `yaml:"action"`
}

func (l *Level) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingLevel := Level(strings.ToUpper(s))
	switch incomingLevel {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		*l = incomingLevel
		return nil
	default:
		return fmt.Errorf("invalid value for Level: %q", s)
	}
}

// Normalize lowercases and trims every keyword so matching can assume
// pre-normalized rule data.
func (f *RuleFile) Normalize() {
	for i := range f.RuleSets {
		for j := range f.RuleSets[i].Tiers {
			tier := &f.RuleSets[i].Tiers[j]
			for k := range tier.Keywords {
				tier.Keywords[k] = strings.ToLower(strings.TrimSpace(tier.Keywords[k]))
			}
		}
	}
}

// SortByPriority orders each rule set's tiers from highest to lowest priority.
func (f *RuleFile) SortByPriority() {
	for i := range f.RuleSets {
		tiers := f.RuleSets[i].Tiers
		sort.Slice(tiers, func(a, b int) bool {
			return tiers[a].Priority > tiers[b].Priority
		})
	}
}
