package buildinfo

import (
	"fmt"
)

// These variables will be set at build time using ldflags
var (
	// Version of the binary
	Version = "dev"

	// Commit the binary was built from
	Commit string

	// BuildEnvironment selects the configuration profile (local, staging, production)
	BuildEnvironment = "local"
)

// ValidateConstants ensures the constants hold usable values
func ValidateConstants() error {
	switch BuildEnvironment {
	case "local", "development", "staging", "production":
	default:
		return fmt.Errorf("BUILD_ENVIRONMENT %q is not a known environment", BuildEnvironment)
	}
	if Version == "" {
		return fmt.Errorf("VERSION not set at build time")
	}
	return nil
}

// String renders the version line shown by the version command
func String() string {
	if Commit == "" {
		return fmt.Sprintf("%s (%s)", Version, BuildEnvironment)
	}
	return fmt.Sprintf("%s-%s (%s)", Version, Commit, BuildEnvironment)
}
