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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// createTestConfig writes a sampling config into a temp dir and returns
// its path.
func createTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "sampling.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))
	return configPath
}

func TestLoadSamplingConfig_Valid(t *testing.T) {
	configPath := createTestConfig(t, `
categories:
  default:
    probability: 0.1
  compile:
    probability: 1.0
spans:
  exact:
    queryvm.engine.Explain: compile
  patterns:
    "queryvm.compiler.*": compile
`)

	config, err := loadSamplingConfig(configPath)
	require.NoError(t, err)
	require.Len(t, config.Categories, 2)
	require.Equal(t, 0.1, config.Categories["default"].Probability)
	require.Equal(t, "compile", config.Spans.Exact["queryvm.engine.Explain"])
	require.Equal(t, "compile", config.Spans.Patterns["queryvm.compiler.*"])
}

func TestLoadSamplingConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "categories: {}\n", "at least one category"},
		{"missing default", "categories:\n  compile: {probability: 1}\n", "must define a 'default' category"},
		{"bad probability", "categories:\n  default: {probability: 1.5}\n", "invalid probability"},
		{"undefined category", "categories:\n  default: {probability: 1}\nspans:\n  exact:\n    x: nope\n", `undefined category "nope"`},
		{"bad yaml", "categories: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSamplingConfig(createTestConfig(t, tt.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := loadSamplingConfig("/nonexistent/sampling.yaml")
	require.ErrorContains(t, err, "failed to read")
}

func TestConfigurableSampler_Category(t *testing.T) {
	s := newConfigurableSampler(&SamplingConfig{
		Categories: map[string]CategoryConfig{
			"default": {Probability: 1},
			"compile": {Probability: 1},
			"session": {Probability: 1},
		},
		Spans: SpanConfig{
			Exact:    map[string]string{"queryvm.compiler.Compile": "compile"},
			Patterns: map[string]string{"queryvm.session.*": "session", "queryvm.compiler.*": "session"},
		},
	})

	require.Equal(t, "compile", s.categoryFor("queryvm.compiler.Compile"))
	require.Equal(t, "session", s.categoryFor("queryvm.session.Run"))
	require.Equal(t, "default", s.categoryFor("queryvm.engine.Get"))
}

func TestConfigurableSampler_ShouldSample(t *testing.T) {
	s := newConfigurableSampler(&SamplingConfig{
		Categories: map[string]CategoryConfig{
			"default": {Probability: 1},
			"never":   {Probability: 0},
		},
		Spans: SpanConfig{
			Exact: map[string]string{"never_sample": "never", "orphan": "missing"},
		},
	})

	require.Equal(t, sdktrace.RecordAndSample, s.ShouldSample(sdktrace.SamplingParameters{Name: "some_span"}).Decision)
	require.Equal(t, sdktrace.Drop, s.ShouldSample(sdktrace.SamplingParameters{Name: "never_sample"}).Decision)
	// Unknown categories fall back to the default sampler.
	require.Equal(t, sdktrace.RecordAndSample, s.ShouldSample(sdktrace.SamplingParameters{Name: "orphan"}).Decision)

	require.Equal(t, "ConfigurableSampler{categories=2, default=default}", s.Description())
}

func TestMaybeCreateCustomSampler(t *testing.T) {
	t.Run("not custom", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER", "always_on")
		sampler, err := maybeCreateCustomSampler()
		require.NoError(t, err)
		require.Nil(t, sampler)
	})

	t.Run("missing config", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER", customSamplerName)
		t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", "")
		_, err := maybeCreateCustomSampler()
		require.ErrorContains(t, err, "OTEL_TRACES_SAMPLER_CONFIG not set")
	})

	t.Run("bad config", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER", customSamplerName)
		t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", "/nonexistent/config.yaml")
		_, err := maybeCreateCustomSampler()
		require.ErrorContains(t, err, "failed to load sampling config")
	})

	t.Run("success", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER", customSamplerName)
		t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", createTestConfig(t, "categories:\n  default: {probability: 1}\n"))
		sampler, err := maybeCreateCustomSampler()
		require.NoError(t, err)
		require.Contains(t, sampler.Description(), "ParentBased")
	})
}
