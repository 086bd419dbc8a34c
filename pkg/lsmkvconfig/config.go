package lsmkvconfig

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDirectory = errors.New("lsmkvconfig: directory is required")
	ErrInvalidThreshold = errors.New("lsmkvconfig: threshold must be at least 1")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// MetricsOptions configures the optional Prometheus exposition endpoint.
type MetricsOptions struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Options configures a Store: where it lives on disk, the flush
// threshold, and the ambient logging/metrics surface around it.
type Options struct {
	// Directory is the filesystem path the store's manifest and table
	// files live under.
	Directory string `yaml:"directory" validate:"required"`
	// Threshold is the approximate byte usage that triggers a flush.
	Threshold uint64 `yaml:"threshold" validate:"required,min=1"`
	// LogLevel selects the minimum level the store's logger emits at.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// Metrics configures the optional Prometheus exposition endpoint.
	Metrics MetricsOptions `yaml:"metrics"`
}

// DefaultOptions returns a safe default configuration rooted at dir.
func DefaultOptions(dir string) Options {
	return Options{
		Directory: dir,
		Threshold: 4 * 1024 * 1024,
		LogLevel:  "info",
		Metrics:   MetricsOptions{Enabled: false},
	}
}

// LoadOptions reads and parses a YAML configuration file, then validates
// it.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("lsmkvconfig: parsing %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks the struct tags on Options, then re-checks Directory and
// Threshold directly against ErrInvalidDirectory/ErrInvalidThreshold. No
// cross-field rules are checked.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return formatValidationError(err)
	}
	if o.Directory == "" {
		return ErrInvalidDirectory
	}
	if o.Threshold < 1 {
		return ErrInvalidThreshold
	}
	return nil
}

func formatValidationError(err error) error {
	if err == nil {
		return nil
	}
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()
		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "hostname_port":
			return fmt.Errorf("%s: must be a host:port address", field)
		default:
			return fmt.Errorf("%s: failed %s validation", field, tag)
		}
	}
	return err
}
