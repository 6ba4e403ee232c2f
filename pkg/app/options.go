package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions abstracts the full option surface of one application:
// grouped command line flags plus completion and validation of the final
// configuration.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for a structured help
	// output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in defaults that depend on other options.
	Complete() error

	// Validate checks the completed configuration.
	Validate() error
}
