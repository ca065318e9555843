// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package allowlist

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

// FileOverrides is the shape of an optional on-disk thresholds file, for
// operators who want to adjust allowlist bounds without redeploying.
type FileOverrides struct {
	MaxExpectedImprovement *float64            `yaml:"max_expected_improvement"`
	MaxActionsPerHour      *int                `yaml:"max_actions_per_hour"`
	AllowedParameters      map[string][]string `yaml:"allowed_parameters"`
}

// LoadOverridesFile reads a YAML thresholds file and applies it on top
// of cfg. A missing path is not an error: cfg is returned unchanged.
func LoadOverridesFile(path string, cfg Config) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	var fo FileOverrides
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return cfg, err
	}

	if fo.MaxExpectedImprovement != nil {
		cfg.MaxExpectedImprovement = *fo.MaxExpectedImprovement
	}
	if fo.MaxActionsPerHour != nil {
		cfg.MaxActionsPerHour = *fo.MaxActionsPerHour
	}
	if len(fo.AllowedParameters) > 0 {
		if cfg.AllowedParameters == nil {
			cfg.AllowedParameters = make(map[model.Variant]map[string]bool, len(fo.AllowedParameters))
		}
		for variant, keys := range fo.AllowedParameters {
			allowed := make(map[string]bool, len(keys))
			for _, k := range keys {
				allowed[k] = true
			}
			cfg.AllowedParameters[model.Variant(variant)] = allowed
		}
	}
	return cfg, nil
}
