package cli

import (
	"time"

	"github.com/temirov/caravan/internal/state"
)

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common    ApplicationCommonConfiguration `mapstructure:"common"`
	Migration MigrationConfiguration         `mapstructure:"migration"`
	Server    ServerConfiguration            `mapstructure:"server"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

// OrganizationConfiguration locates one GitHub organization by host and name.
type OrganizationConfiguration struct {
	Host         string `mapstructure:"host"`
	Organization string `mapstructure:"organization"`
}

// Coordinates converts the organization settings into state coordinates.
func (configuration OrganizationConfiguration) Coordinates() state.OrganizationCoordinates {
	return state.OrganizationCoordinates{
		Host:         configuration.Host,
		Organization: configuration.Organization,
	}
}

// MigrationConfiguration tunes the migration pipeline. Every worker interval
// and ceiling flows from here into the corresponding service constructor.
type MigrationConfiguration struct {
	Source               OrganizationConfiguration `mapstructure:"source"`
	Target               OrganizationConfiguration `mapstructure:"target"`
	StateFile            string                    `mapstructure:"state_file"`
	SaveInterval         time.Duration             `mapstructure:"save_interval"`
	ReconcileInterval    time.Duration             `mapstructure:"reconcile_interval"`
	ReconcileBatchSize   int                       `mapstructure:"reconcile_batch_size"`
	QueueCeiling         int                       `mapstructure:"queue_ceiling"`
	DispatchBusyInterval time.Duration             `mapstructure:"dispatch_busy_interval"`
	DispatchIdleInterval time.Duration             `mapstructure:"dispatch_idle_interval"`
	PollInterval         time.Duration             `mapstructure:"poll_interval"`
	PollGracePeriod      time.Duration             `mapstructure:"poll_grace_period"`
	PollConcurrency      int                       `mapstructure:"poll_concurrency"`
}

// Labels pairs the configured source and target coordinates.
func (configuration MigrationConfiguration) Labels() state.Labels {
	return state.Labels{
		Source: configuration.Source.Coordinates(),
		Target: configuration.Target.Coordinates(),
	}
}

// ServerConfiguration controls the embedded HTTP API.
type ServerConfiguration struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}
