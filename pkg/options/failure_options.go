package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FailureOptions)(nil)

// Failure record backends.
const (
	FailureStoreMemory = "memory"
	FailureStoreFile   = "file"
	FailureStoreSQLite = "sqlite"
)

// FailureOptions selects where the failure record survives restarts.
type FailureOptions struct {
	Store string `json:"store" mapstructure:"store"`
	Path  string `json:"path" mapstructure:"path"`
}

func NewFailureOptions() *FailureOptions {
	return &FailureOptions{
		Store: FailureStoreFile,
		Path:  "/var/lib/cpeer-device-agent/failures.yaml",
	}
}

func (o *FailureOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	switch o.Store {
	case FailureStoreMemory:
	case FailureStoreFile, FailureStoreSQLite:
		if o.Path == "" {
			errors = append(errors, fmt.Errorf("--failure.path is required for the %s store", o.Store))
		}
	default:
		errors = append(errors, fmt.Errorf("--failure.store must be one of memory, file, sqlite; got %q", o.Store))
	}

	return errors
}

func (o *FailureOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Store, "failure.store", o.Store, "Failure record backend: memory, file or sqlite.")
	fs.StringVar(&o.Path, "failure.path", o.Path, "File or database path of the failure record.")
}
