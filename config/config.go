// Package config reads the YAML control file of the hremap driver.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/notargets/hremap/partitions"
	"github.com/notargets/hremap/runner/builder"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a control file that failed validation
var ErrInvalid = errors.New("invalid control file")

var validate = validator.New()

// Config drives one remap run
type Config struct {
	// RemapFile is the NetCDF map file
	RemapFile string `yaml:"remap_file" validate:"required,file"`
	// DataFile holds the source field, defaults to RemapFile
	DataFile     string `yaml:"data_file" validate:"omitempty,file"`
	DataVariable string `yaml:"data_variable" validate:"required"`

	// TargetColumns is the size of the target grid, 0 takes n_b from the map
	TargetColumns int   `yaml:"target_columns" validate:"gte=0"`
	TargetMinDOF  int64 `yaml:"target_min_dof" validate:"gte=0"`

	Ranks     int    `yaml:"ranks" validate:"gte=1,lte=4096"`
	Partition string `yaml:"partition" validate:"oneof=block roundrobin weighted"`
	Backend   string `yaml:"backend" validate:"oneof=cpu occa"`
	Workers   int    `yaml:"workers" validate:"gte=0"`

	Device Device `yaml:"device"`

	// Output receives the remapped field, empty prints a summary only
	Output string `yaml:"output"`
}

// Device configures the OCCA backend
type Device struct {
	Modes         []string `yaml:"modes" validate:"dive,oneof=OpenMP CUDA Serial"`
	PartitionSize int      `yaml:"partition_size" validate:"gte=0,lte=1024"`
	Precision     string   `yaml:"precision" validate:"oneof=float32 float64"`
}

// Default returns a configuration with every optional field set
func Default() *Config {
	return &Config{
		DataVariable: "src_data",
		TargetMinDOF: 1,
		Ranks:        1,
		Partition:    partitions.BlockPartition.String(),
		Backend:      "cpu",
		Device: Device{
			Modes:         []string{"OpenMP", "CUDA", "Serial"},
			PartitionSize: 256,
			Precision:     "float64",
		},
	}
}

// Load reads and validates a control file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read control file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse control file: %w", err)
	}
	if cfg.DataFile == "" {
		cfg.DataFile = cfg.RemapFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalid, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Strategy returns the target decomposition strategy
func (c *Config) Strategy() partitions.PartitionStrategy {
	s, err := partitions.ParseStrategy(c.Partition)
	if err != nil {
		return partitions.BlockPartition
	}
	return s
}

// FloatType returns the OCCA real type
func (c *Config) FloatType() builder.DataType {
	if c.Device.Precision == "float32" {
		return builder.Float32
	}
	return builder.Float64
}

// Write stores the configuration as YAML
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal control file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
