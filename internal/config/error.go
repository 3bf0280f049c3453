package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// ErrNoClustersConfig indicates no cluster document was found in any search location.
var ErrNoClustersConfig = errors.New("no clusters config file found")

// ConfigurationError reports an invalid or unresolvable configuration value.
type ConfigurationError struct {
	Cluster string // Cluster the problem belongs to, if any
	Field   string // Offending key or target
	Reason  string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Cluster != "" && e.Field != "":
		return fmt.Sprintf("cluster %q: %s: %s", e.Cluster, e.Field, e.Reason)
	case e.Cluster != "":
		return fmt.Sprintf("cluster %q: %s", e.Cluster, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	default:
		return e.Reason
	}
}

// Is allows errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(cluster, field, reason string, args ...interface{}) *ConfigurationError {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	return &ConfigurationError{Cluster: cluster, Field: field, Reason: reason}
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
