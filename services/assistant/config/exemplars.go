// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed exemplars.yaml
var defaultExemplarsYAML []byte

// ExemplarsConfig holds the per-category reference queries the semantic
// scorer embeds and compares live input against.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type ExemplarsConfig struct {
	// Version tags the exemplar set. It participates in the semantic
	// scorer's corpus hash, so bumping it invalidates memoized indexes.
	Version int `yaml:"version"`

	// Categories maps category name to its exemplar query strings.
	Categories map[string][]string `yaml:"categories"`
}

// minExemplarsPerCategory guards against a category so thin that mean
// top-3 scoring degenerates.
const minExemplarsPerCategory = 3

// DefaultExemplars loads the embedded default exemplar set.
func DefaultExemplars() (*ExemplarsConfig, error) {
	return LoadExemplars(defaultExemplarsYAML)
}

// LoadExemplars parses and validates an ExemplarsConfig from YAML bytes.
func LoadExemplars(data []byte) (*ExemplarsConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadExemplars: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadExemplars: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg ExemplarsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadExemplars: parsing YAML: %w", err)
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("LoadExemplars: no categories defined")
	}
	for name, exemplars := range cfg.Categories {
		if len(exemplars) < minExemplarsPerCategory {
			return nil, fmt.Errorf("LoadExemplars: category %q has %d exemplars, need at least %d",
				name, len(exemplars), minExemplarsPerCategory)
		}
		for i, e := range exemplars {
			if e == "" {
				return nil, fmt.Errorf("LoadExemplars: category %q exemplar %d is empty", name, i)
			}
		}
	}
	return &cfg, nil
}
