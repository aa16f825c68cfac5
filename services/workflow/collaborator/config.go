// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegistryFile is the on-disk shape of the collaborator registry.
type RegistryFile struct {
	Collaborators []HTTPConfig `yaml:"collaborators"`
}

// LoadRouter builds a router from a YAML registry file.
//
// Description:
//
//	Each entry creates one HTTPCollaborator registered under every task
//	type it lists. Duplicate task types across entries fail the load;
//	routing must be unambiguous.
func LoadRouter(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collaborator registry %s: %w", path, err)
	}
	return ParseRouter(data)
}

// ParseRouter builds a router from registry YAML.
func ParseRouter(data []byte) (*Router, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal collaborator registry: %w", err)
	}

	router := NewRouter()
	seen := make(map[string]string)
	for i, cfg := range file.Collaborators {
		c, err := NewHTTPCollaborator(cfg)
		if err != nil {
			return nil, fmt.Errorf("collaborator registry entry %d: %w", i, err)
		}
		if len(cfg.TaskTypes) == 0 {
			return nil, fmt.Errorf("collaborator registry entry %d (%s): at least one task type is required", i, cfg.Name)
		}
		for _, taskType := range cfg.TaskTypes {
			if owner, dup := seen[taskType]; dup {
				return nil, fmt.Errorf("task type %q claimed by both %s and %s", taskType, owner, cfg.Name)
			}
			seen[taskType] = cfg.Name
			router.Register(taskType, c)
		}
	}
	return router, nil
}
