// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package authority is the policy gate in front of every task dispatch.
//
// A declarative matrix maps authority agents to the task domains they may
// veto, either hard (unconditional) or soft (overridable with an authorized
// justification). The matrix compiles into an immutable snapshot; hot reload
// swaps whole snapshots, so an evaluation never observes a half-updated
// rule set.
package authority

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// VetoKind distinguishes binding from advisory authority.
type VetoKind string

const (
	// VetoHard blocks dispatch with no override path.
	VetoHard VetoKind = "hard"

	// VetoSoft blocks dispatch unless an authorized override is present.
	VetoSoft VetoKind = "soft"
)

// Rule is one authority grant as written in the matrix file.
type Rule struct {
	// AgentID names the authority holding the veto.
	AgentID string `yaml:"agent_id"`

	// Veto is "hard" or "soft".
	Veto VetoKind `yaml:"veto"`

	// Domains are anchored regular expressions matched against task types.
	Domains []string `yaml:"domains"`
}

// MatrixFile is the on-disk shape of the authority matrix.
type MatrixFile struct {
	Rules []Rule `yaml:"rules"`
}

// compiledRule pairs a rule with its compiled domain patterns.
type compiledRule struct {
	agentID  string
	veto     VetoKind
	patterns []*regexp.Regexp
}

func (r compiledRule) matches(domain string) bool {
	for _, p := range r.patterns {
		if p.MatchString(domain) {
			return true
		}
	}
	return false
}

// Matrix is an immutable, compiled authority matrix.
//
// Hard rules are evaluated before soft ones, so a domain claimed by both
// kinds resolves to the binding authority.
//
// Thread Safety:
//
//	Immutable after construction; safe to share without locking.
type Matrix struct {
	hard []compiledRule
	soft []compiledRule
}

// ParseMatrix compiles a YAML matrix into an immutable snapshot.
//
// Description:
//
//	Patterns are anchored with ^...$ before compiling, so "payments"
//	matches the payments domain exactly and "payments.*" matches the
//	whole family. A malformed pattern fails the entire load; a matrix is
//	all-or-nothing.
func ParseMatrix(data []byte) (*Matrix, error) {
	var file MatrixFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal authority matrix: %w", err)
	}

	m := &Matrix{}
	for i, rule := range file.Rules {
		if rule.AgentID == "" {
			return nil, fmt.Errorf("authority matrix rule %d: agent_id is required", i)
		}
		if rule.Veto != VetoHard && rule.Veto != VetoSoft {
			return nil, fmt.Errorf("authority matrix rule %d (%s): veto must be %q or %q, got %q",
				i, rule.AgentID, VetoHard, VetoSoft, rule.Veto)
		}
		if len(rule.Domains) == 0 {
			return nil, fmt.Errorf("authority matrix rule %d (%s): at least one domain is required",
				i, rule.AgentID)
		}

		compiled := compiledRule{agentID: rule.AgentID, veto: rule.Veto}
		for _, domain := range rule.Domains {
			re, err := regexp.Compile("^(?:" + domain + ")$")
			if err != nil {
				return nil, fmt.Errorf("authority matrix rule %d (%s): invalid domain pattern %q: %w",
					i, rule.AgentID, domain, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}

		switch rule.Veto {
		case VetoHard:
			m.hard = append(m.hard, compiled)
		case VetoSoft:
			m.soft = append(m.soft, compiled)
		}
	}
	return m, nil
}

// LoadMatrixFile reads and compiles a matrix from disk.
func LoadMatrixFile(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authority matrix %s: %w", path, err)
	}
	return ParseMatrix(data)
}

// EmptyMatrix returns a matrix that passes everything. Used when the
// service runs without a configured matrix file.
func EmptyMatrix() *Matrix {
	return &Matrix{}
}

// match returns the first rule claiming the domain, hard rules first.
func (m *Matrix) match(domain string) (compiledRule, bool) {
	for _, rule := range m.hard {
		if rule.matches(domain) {
			return rule, true
		}
	}
	for _, rule := range m.soft {
		if rule.matches(domain) {
			return rule, true
		}
	}
	return compiledRule{}, false
}

// RuleCount returns the number of compiled rules, for startup logging.
func (m *Matrix) RuleCount() int {
	return len(m.hard) + len(m.soft)
}
