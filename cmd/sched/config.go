package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"sched/pkg/schedcore"
)

const (
	envMaxTicks        = "SCHED_MAX_TICKS"
	envCyclesPerTick   = "SCHED_CYCLES_PER_TICK"
	envPrefix          = "SCHED_PREFIX"
	envMaxSlotsPerTick = "SCHED_MAX_SLOTS_PER_TICK"
)

// fileConfig is the YAML-decodable shape of the -config file. Every field is
// a pointer so an absent key leaves the built-in default untouched, the same
// merge-only-what-was-set pattern the generator's runtime config used.
type fileConfig struct {
	MaxTicks        *int     `yaml:"maxTicks"`
	MaxSlotsPerTick *int     `yaml:"maxSlotsPerTick"`
	MaxTasks        *int     `yaml:"maxTasks"`
	MaxIncludeFiles *int     `yaml:"maxIncludeFiles"`
	MaxConditionals *int     `yaml:"maxConditionals"`
	CyclesPerTick   *float64 `yaml:"cyclesPerTick"`
	Prefix          *string  `yaml:"prefix"`
	Defines         []string `yaml:"defines"`
	Includes        []string `yaml:"includes"`
}

// loadConfig builds a schedcore.Config by layering, in increasing priority:
// schedcore.DefaultConfig(), the YAML file at path (if non-empty and
// present), and environment variable overrides. It also returns any
// conditional defines and #include directives named in the file, so the
// caller can merge them with -D/-i flags before CLI flags take final
// priority over the numeric fields.
func loadConfig(path string) (schedcore.Config, []string, []string, error) {
	cfg := schedcore.DefaultConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)

		return cfg, nil, nil, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return schedcore.Config{}, nil, nil, fmt.Errorf("read config file %q: %w", trimmed, err) //nolint:exhaustruct
		}

		applyEnvOverrides(&cfg)

		return cfg, nil, nil, nil
	}

	var fc fileConfig

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return schedcore.Config{}, nil, nil, fmt.Errorf("decode config file %q: %w", trimmed, err) //nolint:exhaustruct
	}

	mergeFileConfig(&cfg, fc)
	applyEnvOverrides(&cfg)

	return cfg, fc.Defines, fc.Includes, nil
}

func mergeFileConfig(dst *schedcore.Config, src fileConfig) {
	assignInt(&dst.MaxTicks, src.MaxTicks)
	assignInt(&dst.MaxSlotsPerTick, src.MaxSlotsPerTick)
	assignInt(&dst.MaxTasks, src.MaxTasks)
	assignInt(&dst.MaxIncludeFiles, src.MaxIncludeFiles)
	assignInt(&dst.MaxConditionals, src.MaxConditionals)
	assignFloat(&dst.CyclesPerTick, src.CyclesPerTick)
	assignString(&dst.Prefix, src.Prefix)
}

func applyEnvOverrides(cfg *schedcore.Config) {
	cfg.MaxTicks = envInt(envMaxTicks, cfg.MaxTicks)
	cfg.MaxSlotsPerTick = envInt(envMaxSlotsPerTick, cfg.MaxSlotsPerTick)
	cfg.CyclesPerTick = envFloat(envCyclesPerTick, cfg.CyclesPerTick)
	cfg.Prefix = envString(envPrefix, cfg.Prefix)
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func assignInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func assignFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func assignString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func envInt(key string, fallback int) int {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envString(key, fallback string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}
