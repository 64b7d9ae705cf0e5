// Package config handles marl.toml (or marl.yaml) runtime configuration.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/vm"
	"github.com/tliron/commonlog"
	"gopkg.in/yaml.v3"
)

var log = commonlog.GetLogger("marl.config")

//go:embed schema.cue
var schemaSource string

// FileNames are the names FindAndLoad looks for, in order.
var FileNames = []string{"marl.toml", "marl.yaml", "marl.yml"}

// Config is the runtime configuration.
type Config struct {
	VM        VMConfig        `toml:"vm" yaml:"vm" json:"vm"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler" json:"scheduler"`
	Log       LogConfig       `toml:"log" yaml:"log" json:"log"`
	Store     StoreConfig     `toml:"store" yaml:"store" json:"store"`
	Server    ServerConfig    `toml:"server" yaml:"server" json:"server"`

	// Path is the file the configuration was loaded from, "" for defaults.
	Path string `toml:"-" yaml:"-" json:"-"`
}

// VMConfig configures the interpreter and object memory.
type VMConfig struct {
	Byteslice    int  `toml:"byteslice" yaml:"byteslice" json:"byteslice"`
	StackLimit   int  `toml:"stack_limit" yaml:"stack_limit" json:"stack_limit"`
	GCThreshold  int  `toml:"gc_threshold" yaml:"gc_threshold" json:"gc_threshold"`
	SpecialSends bool `toml:"special_sends" yaml:"special_sends" json:"special_sends"`
}

// SchedulerConfig configures the process scheduler.
type SchedulerConfig struct {
	PollInterval string `toml:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity" json:"verbosity"`
	File      string `toml:"file" yaml:"file" json:"file"`
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `toml:"path" yaml:"path" json:"path"`
}

// ServerConfig configures marl serve.
type ServerConfig struct {
	Address string `toml:"address" yaml:"address" json:"address"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		VM: VMConfig{
			Byteslice:    100,
			StackLimit:   10000,
			GCThreshold:  100000,
			SpecialSends: true,
		},
		Scheduler: SchedulerConfig{PollInterval: "1ms"},
		Store:     StoreConfig{Path: "marl.db"},
		Server:    ServerConfig{Address: "127.0.0.1:4567"},
	}
}

// Load reads the file at path over the defaults and validates the result.
// The decoder is chosen by extension. An empty path answers the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported configuration format %q", path, ext)
	}

	c.Path = path
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded %s", path)
	return c, nil
}

// FindAndLoad walks up from startDir to find a configuration file and
// loads it. The defaults are answered when none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return Load(path)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks c against the #Config schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return err
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.ParseDuration(c.Scheduler.PollInterval); err != nil {
		return fmt.Errorf("invalid configuration: scheduler.poll_interval: %w", err)
	}
	return nil
}

// PollInterval answers the scheduler poll interval, the default when the
// configured value does not parse.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.PollInterval)
	if err != nil {
		return time.Millisecond
	}
	return d
}

// VMOptions maps the configuration onto runtime options. Output is left
// at its default.
func (c *Config) VMOptions() vm.Options {
	opts := vm.DefaultOptions()
	opts.Byteslice = c.VM.Byteslice
	opts.StackLimit = c.VM.StackLimit
	opts.GCThreshold = c.VM.GCThreshold
	opts.PollInterval = c.PollInterval()
	return opts
}

// CompilerOptions maps the configuration onto compiler options.
func (c *Config) CompilerOptions() compiler.Options {
	opts := compiler.DefaultOptions()
	opts.SpecialSends = c.VM.SpecialSends
	return opts
}
