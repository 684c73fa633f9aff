package config

import "time"

// Config is the root configuration for the driftsync controller,
// loaded from config.yaml in the configuration directory.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	Controller ControllerConfig `yaml:"controller,omitempty"`
	Server     ServerConfig     `yaml:"server,omitempty"`
	Source     SourceConfig     `yaml:"source,omitempty"`

	// CustomResources declares additional resource kinds the controller may
	// manage beyond the built-in ones.
	CustomResources []ResourceConfig `yaml:"customResources,omitempty"`
}

// ControllerConfig tunes the reconciliation loop.
type ControllerConfig struct {
	// Workers is the number of concurrent reconciliation workers.
	Workers int `yaml:"workers,omitempty"`

	// MaxRetries caps retry attempts for failed reconciliations before
	// the Application is parked in Error state.
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// InitialBackoffSeconds is the first retry delay.
	InitialBackoffSeconds int `yaml:"initialBackoffSeconds,omitempty"`

	// MaxBackoffSeconds caps the exponential retry delay.
	MaxBackoffSeconds int `yaml:"maxBackoffSeconds,omitempty"`

	// ReconcileTimeoutSeconds bounds one full reconciliation pass.
	ReconcileTimeoutSeconds int `yaml:"reconcileTimeoutSeconds,omitempty"`

	// ResyncIntervalSeconds is how often an Application is re-diffed with
	// no detected change, so self-heal can catch out-of-band drift.
	ResyncIntervalSeconds int `yaml:"resyncIntervalSeconds,omitempty"`
}

// InitialBackoff returns the initial retry delay as a duration.
func (c ControllerConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap as a duration.
func (c ControllerConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// ReconcileTimeout returns the per-pass timeout as a duration.
func (c ControllerConfig) ReconcileTimeout() time.Duration {
	return time.Duration(c.ReconcileTimeoutSeconds) * time.Second
}

// ResyncInterval returns the drift re-check period as a duration.
func (c ControllerConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalSeconds) * time.Second
}

// ServerConfig configures the operator-facing HTTP API.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// WebhookSecretFile points at a file holding the shared secret used to
	// validate push-event webhook signatures. Empty disables the webhook
	// endpoint.
	WebhookSecretFile string `yaml:"webhookSecretFile,omitempty"`
}

// ResourceConfig maps one custom resource kind onto the REST surface, for
// manifests whose kind is not built into the registry.
type ResourceConfig struct {
	Group string `yaml:"group,omitempty"`
	Kind  string `yaml:"kind"`

	// Resource is the plural REST resource name, e.g. "certificates".
	Resource string `yaml:"resource"`

	// Version is the preferred API version for manifests that omit one.
	Version string `yaml:"version,omitempty"`

	Namespaced bool `yaml:"namespaced,omitempty"`
}

// SourceConfig configures repository access for all Applications.
type SourceConfig struct {
	// CacheDir is where repository checkouts are kept between passes.
	CacheDir string `yaml:"cacheDir,omitempty"`

	// PollIntervalSeconds is how often tracked revisions are re-resolved.
	PollIntervalSeconds int `yaml:"pollIntervalSeconds,omitempty"`

	// SSHKeyFile is used for ssh:// and git@ repository URLs.
	SSHKeyFile string `yaml:"sshKeyFile,omitempty"`

	// HTTPSTokenFile is used for https:// repository URLs.
	HTTPSTokenFile string `yaml:"httpsTokenFile,omitempty"`
}

// PollInterval returns the revision poll period as a duration.
func (c SourceConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
