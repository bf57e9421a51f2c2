package config

import (
	"fmt"
	"strconv"
	"strings"
)

type PlannerKind string

const (
	PlannerBump     PlannerKind = "Bump"
	PlannerFirstFit PlannerKind = "FirstFit"
	PlannerWIC      PlannerKind = "WIC"
)

// ParsePlannerKind accepts the planner names case-insensitively.
func ParsePlannerKind(s string) (PlannerKind, error) {
	switch strings.ToLower(s) {
	case "bump":
		return PlannerBump, nil
	case "firstfit", "first_fit":
		return PlannerFirstFit, nil
	case "wic":
		return PlannerWIC, nil
	}
	return "", fmt.Errorf("unknown planner: %q", s)
}

type Config struct {
	LogLevel  string
	LogFormat string

	Executor      string
	Planner       PlannerKind
	Alignment     int
	OptimizerVars int

	MinMaxDumpPath string
	MetricsAddr    string

	// Profile records per-op durations while executing.
	Profile bool
}

func (c *Config) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level: %q (must be debug, info, warn or error)", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	if c.Executor != "Linear" {
		return fmt.Errorf("invalid executor: %q (only Linear is supported)", c.Executor)
	}
	if _, err := ParsePlannerKind(string(c.Planner)); err != nil {
		return fmt.Errorf("invalid planner: %q (must be Bump, FirstFit or WIC)", c.Planner)
	}
	if c.Alignment <= 0 {
		return fmt.Errorf("invalid alignment: %d (must be positive)", c.Alignment)
	}
	if c.Alignment&(c.Alignment-1) != 0 {
		return fmt.Errorf("invalid alignment: %d (must be a power of two)", c.Alignment)
	}
	if c.OptimizerVars < 0 {
		return fmt.Errorf("invalid optimizer_vars: %d (must be non-negative)", c.OptimizerVars)
	}
	return nil
}

// FromEnv overlays LATTICE_* variables read through lookup (os.LookupEnv in
// production) onto c.
func (c *Config) FromEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LATTICE_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("LATTICE_LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("LATTICE_EXECUTOR"); ok {
		c.Executor = v
	}
	if v, ok := lookup("LATTICE_PLANNER"); ok {
		kind, err := ParsePlannerKind(v)
		if err != nil {
			return err
		}
		c.Planner = kind
	}
	if v, ok := lookup("LATTICE_ALIGNMENT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LATTICE_ALIGNMENT: %w", err)
		}
		c.Alignment = n
	}
	if v, ok := lookup("LATTICE_OPTIMIZER_VARS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LATTICE_OPTIMIZER_VARS: %w", err)
		}
		c.OptimizerVars = n
	}
	if v, ok := lookup("LATTICE_MINMAX_DUMP"); ok {
		c.MinMaxDumpPath = v
	}
	if v, ok := lookup("LATTICE_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := lookup("LATTICE_PROFILE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LATTICE_PROFILE: %w", err)
		}
		c.Profile = b
	}
	return nil
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Executor:  "Linear",
		Planner:   PlannerWIC,
		Alignment: 16,
	}
}
