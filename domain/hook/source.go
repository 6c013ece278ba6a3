package hook

import "github.com/opensciencearchive/server/infrastructure/errors"

// SourceLimits bounds source container execution. Sources pull from upstream
// origins, so the defaults are looser than hook limits.
type SourceLimits struct {
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Memory         string `json:"memory" yaml:"memory"`
	CPU            string `json:"cpu" yaml:"cpu"`
}

// DefaultSourceLimits returns the source execution defaults.
func DefaultSourceLimits() SourceLimits {
	return SourceLimits{TimeoutSeconds: 3600, Memory: "4g", CPU: "2.0"}
}

// ScheduleConfig is a cron schedule for periodic source runs.
type ScheduleConfig struct {
	Cron  string `json:"cron" yaml:"cron"`
	Limit int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// InitialRunConfig configures the first source run on server startup.
type InitialRunConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Limit   int  `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// SourceDefinition is the complete specification for a source:
// image reference, config, limits, and optional schedules.
type SourceDefinition struct {
	Name       string                 `json:"name" yaml:"name"`
	Image      string                 `json:"image" yaml:"image"`
	Digest     string                 `json:"digest" yaml:"digest"`
	Config     map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Limits     SourceLimits           `json:"limits" yaml:"limits"`
	Schedule   *ScheduleConfig        `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	InitialRun *InitialRunConfig      `json:"initial_run,omitempty" yaml:"initial_run,omitempty"`
}

// Validate checks the source name and image reference.
func (d SourceDefinition) Validate() error {
	if err := ValidateIdentifier(d.Name); err != nil {
		return err
	}
	if d.Image == "" {
		return errors.ValidationField("image", "source image is required")
	}
	if d.Digest == "" {
		return errors.ValidationField("digest", "source digest is required")
	}
	return nil
}
