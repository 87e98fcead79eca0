// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// customSamplerName is the OTEL_TRACES_SAMPLER value that selects the
// file-based sampler.
const customSamplerName = "queryvm_custom"

// SamplingConfig is the YAML configuration of the span-name sampler.
//
//	categories:
//	  default: {probability: 0.1}
//	  compile: {probability: 1}
//	spans:
//	  exact:
//	    queryvm.engine.Explain: compile
//	  patterns:
//	    "queryvm.compiler.*": compile
type SamplingConfig struct {
	Categories map[string]CategoryConfig `yaml:"categories"`
	Spans      SpanConfig                `yaml:"spans"`
}

// CategoryConfig defines the sampling probability for a category
type CategoryConfig struct {
	Probability float64 `yaml:"probability"`
}

// SpanConfig maps span names to categories. Exact names win over patterns,
// which use filepath.Match syntax.
type SpanConfig struct {
	Exact    map[string]string `yaml:"exact"`
	Patterns map[string]string `yaml:"patterns"`
}

// loadSamplingConfig loads and validates sampling configuration from a YAML file
func loadSamplingConfig(path string) (*SamplingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sampling config file: %w", err)
	}

	var config SamplingConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse sampling config YAML: %w", err)
	}

	if len(config.Categories) == 0 {
		return nil, errors.New("sampling config must define at least one category")
	}
	if _, ok := config.Categories["default"]; !ok {
		return nil, errors.New("sampling config must define a 'default' category")
	}
	for name, cat := range config.Categories {
		if cat.Probability < 0 || cat.Probability > 1 {
			return nil, fmt.Errorf("category %q has invalid probability %f (must be 0.0-1.0)", name, cat.Probability)
		}
	}

	allMappings := make(map[string]string)
	maps.Copy(allMappings, config.Spans.Exact)
	maps.Copy(allMappings, config.Spans.Patterns)
	for span, cat := range allMappings {
		if _, ok := config.Categories[cat]; !ok {
			return nil, fmt.Errorf("span %q references undefined category %q", span, cat)
		}
	}

	return &config, nil
}

// ConfigurableSampler routes each span to the sampler of its category,
// chosen by span name.
type ConfigurableSampler struct {
	config     *SamplingConfig
	samplers   map[string]sdktrace.Sampler // category name -> sampler
	defaultCat string
}

func (s *ConfigurableSampler) categoryFor(spanName string) string {
	if cat, ok := s.config.Spans.Exact[spanName]; ok {
		return cat
	}
	for pattern, cat := range s.config.Spans.Patterns {
		if matched, _ := filepath.Match(pattern, spanName); matched {
			return cat
		}
	}
	return s.defaultCat
}

func (s *ConfigurableSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	sampler, ok := s.samplers[s.categoryFor(params.Name)]
	if !ok {
		sampler = s.samplers[s.defaultCat]
	}
	return sampler.ShouldSample(params)
}

func (s *ConfigurableSampler) Description() string {
	return fmt.Sprintf("ConfigurableSampler{categories=%d, default=%s}",
		len(s.config.Categories), s.defaultCat)
}

// newConfigurableSampler builds the sampler for a validated config.
func newConfigurableSampler(config *SamplingConfig) *ConfigurableSampler {
	samplers := make(map[string]sdktrace.Sampler, len(config.Categories))
	for name, cat := range config.Categories {
		samplers[name] = sdktrace.TraceIDRatioBased(cat.Probability)
	}
	return &ConfigurableSampler{
		config:     config,
		samplers:   samplers,
		defaultCat: "default",
	}
}

// maybeCreateCustomSampler returns the file-based sampler when
// OTEL_TRACES_SAMPLER=queryvm_custom, reading its YAML from
// OTEL_TRACES_SAMPLER_CONFIG. Any other sampler setting returns (nil, nil)
// and is left to the SDK's own environment handling.
func maybeCreateCustomSampler() (sdktrace.Sampler, error) {
	if os.Getenv("OTEL_TRACES_SAMPLER") != customSamplerName {
		return nil, nil
	}

	configPath := os.Getenv("OTEL_TRACES_SAMPLER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("OTEL_TRACES_SAMPLER=%s but OTEL_TRACES_SAMPLER_CONFIG not set", customSamplerName)
	}

	config, err := loadSamplingConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load sampling config from %s: %w", configPath, err)
	}

	// Parent-based so a sampled parent keeps its whole trace.
	return sdktrace.ParentBased(newConfigurableSampler(config)), nil
}
