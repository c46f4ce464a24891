//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Scenario configuration.
//

package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/reproharness/process"
	"github.com/rbmk-project/reproharness/script"
	"gopkg.in/yaml.v3"
)

// Console modes.
const (
	// ModeRelay sends the configuration through a relay process,
	// such as telnet, connected to the console listener.
	ModeRelay = "relay"

	// ModeDirect writes the configuration into the standard
	// input of the target process.
	ModeDirect = "direct"

	// ModeDial connects to the console listener without a relay.
	ModeDial = "dial"
)

// Default timings.
const (
	DefaultWarmup       = time.Second
	DefaultRelayWarmup  = 100 * time.Millisecond
	DefaultRelayGrace   = time.Second
	DefaultGrace        = 100 * time.Millisecond
	DefaultReadyTimeout = 10 * time.Second
)

// Config describes a scenario.
//
// For every duration, zero selects the default and a negative
// value disables the corresponding delay.
type Config struct {
	// Name is the scenario name.
	Name string `yaml:"name"`

	// Pace is the delay between two script lines.
	Pace time.Duration `yaml:"pace,omitempty"`

	// Warmup is the delay after starting the target.
	Warmup time.Duration `yaml:"warmup,omitempty"`

	// RelayWarmup is the delay after starting the relay.
	RelayWarmup time.Duration `yaml:"relay_warmup,omitempty"`

	// RelayGrace is how long the relay may take to exit on its
	// own once its input is closed.
	RelayGrace time.Duration `yaml:"relay_grace,omitempty"`

	// Grace is how long we wait after asking a process to
	// terminate before killing it.
	Grace time.Duration `yaml:"grace,omitempty"`

	// Target is the process whose console we drive.
	Target SpawnConfig `yaml:"target"`

	// Console describes how to reach the target console.
	Console ConsoleConfig `yaml:"console"`

	// Scripts contains the scripts to run.
	Scripts Scripts `yaml:"scripts"`
}

// SpawnConfig describes a process to spawn.
type SpawnConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args,omitempty,flow"`
	Dir  string   `yaml:"dir,omitempty"`
	Env  []string `yaml:"env,omitempty"`
}

// Spec returns the corresponding [process.Spec].
func (sc SpawnConfig) Spec() process.Spec {
	return process.Spec{Path: sc.Path, Args: sc.Args, Dir: sc.Dir, Env: sc.Env}
}

// ConsoleConfig describes how to reach the target console.
type ConsoleConfig struct {
	// Mode is one of [ModeRelay], [ModeDirect], and [ModeDial].
	// If empty, we use [ModeRelay].
	Mode string `yaml:"mode,omitempty"`

	// Address is the host:port of the console listener. It is
	// required by [ModeDial] and by WaitListener.
	Address string `yaml:"address,omitempty"`

	// WaitListener waits for Address to accept connections before
	// starting the relay or dialing, in addition to the warm-up.
	WaitListener bool `yaml:"wait_listener,omitempty"`

	// ReadyTimeout bounds the wait enabled by WaitListener.
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`

	// Relay is the relay process used by [ModeRelay].
	Relay SpawnConfig `yaml:"relay,omitempty"`
}

// Scripts contains the scripts of a scenario.
type Scripts struct {
	// Setup runs against the local shell before starting the target.
	Setup string `yaml:"setup,omitempty"`

	// Configure runs against the target console.
	Configure string `yaml:"configure,omitempty"`

	// Workload runs against the local shell once the target is configured.
	Workload string `yaml:"workload,omitempty"`

	// Cleanup runs against the local shell on every exit path.
	Cleanup string `yaml:"cleanup,omitempty"`
}

// Parsed contains the parsed scripts.
type Parsed struct {
	Setup, Configure, Workload, Cleanup script.Script
}

// Parse parses the scripts.
func (s Scripts) Parse() Parsed {
	return Parsed{
		Setup:     script.Parse(s.Setup),
		Configure: script.Parse(s.Configure),
		Workload:  script.Parse(s.Workload),
		Cleanup:   script.Parse(s.Cleanup),
	}
}

// ErrInvalidConfig indicates that a [*Config] is not valid.
var ErrInvalidConfig = errors.New("scenario: invalid config")

// Validate returns an error wrapping [ErrInvalidConfig] if
// the configuration is not valid.
func (c *Config) Validate() error {
	var errv []error
	if c.Target.Path == "" {
		errv = append(errv, errors.New("target.path is required"))
	}
	switch c.Console.Mode {
	case "", ModeRelay:
		if c.Console.Relay.Path == "" {
			errv = append(errv, errors.New("console.relay.path is required in relay mode"))
		}
	case ModeDirect:
	case ModeDial:
		if c.Console.Address == "" {
			errv = append(errv, errors.New("console.address is required in dial mode"))
		}
	default:
		errv = append(errv, fmt.Errorf("console.mode: unknown mode %q", c.Console.Mode))
	}
	if c.Console.WaitListener && c.Console.Address == "" {
		errv = append(errv, errors.New("console.address is required by console.wait_listener"))
	}
	if err := errors.Join(errv...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// mode returns the effective console mode.
func (c *Config) mode() string {
	if c.Console.Mode == "" {
		return ModeRelay
	}
	return c.Console.Mode
}

// durationOr returns def when d is zero, zero when d is
// negative, and d otherwise.
func durationOr(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	default:
		return d
	}
}

// Parse parses a YAML scenario, rejecting unknown fields,
// and validates it.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the YAML scenario at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal serializes the scenario to YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

//go:embed issue105.yaml
var defaultScenario []byte

// DefaultYAML returns the YAML source of the default scenario.
func DefaultYAML() []byte {
	return bytes.Clone(defaultScenario)
}

// Default returns the default scenario, reproducing dynamips issue #105.
//
// This function panics if the embedded scenario is not valid.
func Default() *Config {
	return runtimex.Try1(Parse(defaultScenario))
}
