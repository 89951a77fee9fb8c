// Package config provides parameter loading and validation for a simulation run.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidParameter is returned when a parameter is out of range or the
// parameters are inconsistent with each other.
var ErrInvalidParameter = errors.New("invalid parameter")

// Fission modes.
const (
	FissionCapacity  = "capacity"
	FissionScheduled = "scheduled"
)

// Config holds all simulation parameters.
type Config struct {
	Capacity    CapacityConfig    `yaml:"capacity"`
	Dispersal   DispersalConfig   `yaml:"dispersal"`
	Fitness     FitnessConfig     `yaml:"fitness"`
	Mutation    MutationConfig    `yaml:"mutation"`
	Methylation MethylationConfig `yaml:"methylation"`
	Seed        uint64            `yaml:"seed"`
	Stopping    StoppingConfig    `yaml:"stopping"`
	Initial     InitialConfig     `yaml:"initial"`
	Fission     FissionConfig     `yaml:"fission"`
	Output      OutputConfig      `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// CapacityConfig holds deme size parameters.
type CapacityConfig struct {
	DemeCarryingCapacity int `yaml:"deme_carrying_capacity" validate:"gte=1"`
}

// DispersalConfig holds migration and side quota parameters.
type DispersalConfig struct {
	InitMigrationRate        float64 `yaml:"init_migration_rate" validate:"gte=0"`
	MigrationRateScalesWithK bool    `yaml:"migration_rate_scales_with_k"`
	LeftDemes                int     `yaml:"left_demes" validate:"gte=-1"`  // -1 = no quota
	RightDemes               int     `yaml:"right_demes" validate:"gte=-1"` // -1 = no quota
}

// FitnessConfig holds birth, death and selection parameters.
type FitnessConfig struct {
	NormalBirthRate          float64 `yaml:"normal_birth_rate" validate:"gt=0"`
	BaselineDeathRate        float64 `yaml:"baseline_death_rate" validate:"gte=0"`
	SDriverBirth             float64 `yaml:"s_driver_birth" validate:"gte=-1"`
	SDriverMigration         float64 `yaml:"s_driver_migration" validate:"gte=-1"`
	MaxRelativeBirthRate     float64 `yaml:"max_relative_birth_rate" validate:"gt=0"`
	MaxRelativeMigrationRate float64 `yaml:"max_relative_migration_rate" validate:"gte=0"`
}

// MutationConfig holds driver mutation rates per daughter per division.
type MutationConfig struct {
	MuDriverBirth     float64 `yaml:"mu_driver_birth" validate:"gte=0"`
	MuDriverMigration float64 `yaml:"mu_driver_migration" validate:"gte=0"`
}

// MethylationConfig holds fCpG array parameters.
type MethylationConfig struct {
	MethRate        float64 `yaml:"meth_rate" validate:"gte=0,lte=1"`
	DemethRate      float64 `yaml:"demeth_rate" validate:"gte=0,lte=1"`
	FCpGLociPerCell int     `yaml:"fcpg_loci_per_cell" validate:"gte=1"`
	ManualArray     float64 `yaml:"manual_array" validate:"gte=0,lte=1"` // Probability a founding locus starts methylated
}

// StoppingConfig holds stopping thresholds. Zero disables a threshold.
type StoppingConfig struct {
	MaxTime        float64 `yaml:"max_time" validate:"gte=0"`        // Simulated generations
	MaxGenerations int64   `yaml:"max_generations" validate:"gte=0"` // Completed events
	MaxFissions    int64   `yaml:"max_fissions" validate:"gte=0"`
	Turnover       float64 `yaml:"turnover" validate:"gte=0"` // Deaths after the last deme, as a multiple of population
	MaxPopulation  int     `yaml:"max_population" validate:"gte=0"`
}

// InitialConfig holds the founding population.
type InitialConfig struct {
	InitPop int `yaml:"init_pop" validate:"gte=1"`
}

// FissionConfig holds deme fission parameters.
type FissionConfig struct {
	Mode                   string    `yaml:"mode" validate:"oneof=capacity scheduled"`
	Modifier               float64   `yaml:"modifier" validate:"gte=1"`  // True fission accepted with probability 1/modifier
	MaxDemes               int       `yaml:"max_demes" validate:"gte=1"` // Used when side quotas are disabled
	Schedule               []float64 `yaml:"schedule" validate:"dive,gte=0"`
	UniformMemberSelection bool      `yaml:"uniform_member_selection"`
	StochasticSplit        bool      `yaml:"stochastic_split"` // Move pop/2 stochastically rounded instead of ceil(pop/2)
	DensityDeptDeathRate   float64   `yaml:"density_dept_death_rate" validate:"gte=0"`
}

// OutputConfig holds output parameters.
type OutputConfig struct {
	Interval           float64 `yaml:"interval" validate:"gte=0"` // Generations between samples (0 = never)
	WriteDemesFile     bool    `yaml:"write_demes_file"`
	WriteClonesFile    bool    `yaml:"write_clones_file"`
	WriteGenotypesFile bool    `yaml:"write_genotypes_file"`
	Database           string  `yaml:"database"` // SQLite path (empty = disabled)
	Metrics            bool    `yaml:"metrics"`
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	K                 int
	MaxDemes          int
	FissionModifier   float64
	BaseMigrationRate float64
	MaxBirthRate      float64
	MaxMigrationRate  float64
	DensityDeathRate  float64
}

var validate = validator.New()

// Default returns the embedded defaults with derived values computed.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("parsing embedded defaults: %v", err))
	}
	cfg.ComputeDerived()
	return cfg
}

// DefaultsYAML returns the embedded defaults file.
func DefaultsYAML() []byte {
	out := make([]byte, len(defaultsYAML))
	copy(out, defaultsYAML)
	return out
}

// Load reads configuration from a YAML file, falling back to embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ComputeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ComputeDerived calculates values derived from the loaded config. It must be
// called again after any field is changed in code.
func (c *Config) ComputeDerived() {
	c.Derived.K = c.Capacity.DemeCarryingCapacity

	if c.Dispersal.LeftDemes >= 0 && c.Dispersal.RightDemes >= 0 {
		c.Derived.MaxDemes = c.Dispersal.LeftDemes + c.Dispersal.RightDemes
	} else {
		c.Derived.MaxDemes = c.Fission.MaxDemes
	}

	c.Derived.FissionModifier = c.Fission.Modifier
	if c.Derived.FissionModifier < 1 {
		c.Derived.FissionModifier = 1
	}

	c.Derived.BaseMigrationRate = c.Dispersal.InitMigrationRate
	if c.Dispersal.MigrationRateScalesWithK && c.Derived.K > 0 {
		c.Derived.BaseMigrationRate = c.Dispersal.InitMigrationRate / float64(c.Derived.K)
	}

	c.Derived.MaxBirthRate = c.Fitness.MaxRelativeBirthRate * c.Fitness.NormalBirthRate
	c.Derived.MaxMigrationRate = c.Fitness.MaxRelativeMigrationRate * c.Derived.BaseMigrationRate

	// Crowded demes never die slower than uncrowded ones
	c.Derived.DensityDeathRate = max(c.Fission.DensityDeptDeathRate, c.Fitness.BaselineDeathRate)
}

// Validate checks field ranges and cross-field consistency. Every failure
// wraps ErrInvalidParameter.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidParameter, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	if c.Dispersal.LeftDemes >= 0 && c.Dispersal.RightDemes >= 0 {
		if c.Dispersal.LeftDemes < 1 {
			return fmt.Errorf("%w: left_demes must be at least 1 when quotas are enabled", ErrInvalidParameter)
		}
	}
	if c.Initial.InitPop > c.Capacity.DemeCarryingCapacity {
		return fmt.Errorf("%w: init_pop %d exceeds deme_carrying_capacity %d",
			ErrInvalidParameter, c.Initial.InitPop, c.Capacity.DemeCarryingCapacity)
	}
	if c.Fission.Mode == FissionScheduled && len(c.Fission.Schedule) == 0 {
		return fmt.Errorf("%w: scheduled fission needs a non-empty schedule", ErrInvalidParameter)
	}
	for i := 1; i < len(c.Fission.Schedule); i++ {
		if c.Fission.Schedule[i] < c.Fission.Schedule[i-1] {
			return fmt.Errorf("%w: fission schedule must be non-decreasing", ErrInvalidParameter)
		}
	}
	if c.Derived.K != c.Capacity.DemeCarryingCapacity {
		return fmt.Errorf("%w: derived values are stale, call ComputeDerived", ErrInvalidParameter)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
