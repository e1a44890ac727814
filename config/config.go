// Package config loads the machine configuration from .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sarchlab/kcore/mem/frame"
)

// EnvPrefix is the prefix of all the configuration variables.
const EnvPrefix = "KCORE_"

const (
	kib = 1 << 10
	mib = 1 << 20
)

// ErrInvalidConfig is returned when the configuration cannot describe a
// machine.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes the simulated machine and the tooling around it.
type Config struct {
	MemorySize uint64

	KernelPoolBase   uint32
	KernelPoolFrames uint32

	ProcessPoolBase   uint32
	ProcessPoolFrames uint32

	HoleBase   uint32
	HoleFrames uint32

	SharedSize uint32

	CodePoolBase uint32
	CodePoolSize uint32
	HeapPoolBase uint32
	HeapPoolSize uint32

	DiskBlocks  uint32
	DiskLatency int

	TLBSize         int
	MaxFaultRetries int

	LogLevel    string
	RecordPath  string
	MonitorPort int
	OpenBrowser bool
}

// Default returns the configuration of the reference machine: 32 MiB of
// memory, a kernel pool between 2 MiB and 4 MiB, a process pool above 4 MiB
// with a 1 MiB hole at 15 MiB, and code and heap pools at 512 MiB and 1 GiB.
func Default() Config {
	return Config{
		MemorySize:        32 * mib,
		KernelPoolBase:    512,
		KernelPoolFrames:  512,
		ProcessPoolBase:   1024,
		ProcessPoolFrames: 7168,
		HoleBase:          15 * mib / frame.FrameSize,
		HoleFrames:        mib / frame.FrameSize,
		SharedSize:        4 * mib,
		CodePoolBase:      512 * mib,
		CodePoolSize:      256 * mib,
		HeapPoolBase:      1024 * mib,
		HeapPoolSize:      256 * mib,
		DiskBlocks:        10 * kib,
		DiskLatency:       3,
		TLBSize:           64,
		MaxFaultRetries:   3,
		LogLevel:          "info",
	}
}

// Load builds a configuration from the defaults, the given .env files, and
// the process environment, in increasing order of precedence.
func Load(files ...string) (Config, error) {
	c := Default()

	values := make(map[string]string)
	if len(files) > 0 {
		fileValues, err := godotenv.Read(files...)
		if err != nil {
			return c, fmt.Errorf("reading %s: %w",
				strings.Join(files, ", "), err)
		}

		values = fileValues
	}

	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix) {
			values[key] = value
		}
	}

	if err := c.apply(values); err != nil {
		return c, err
	}

	if err := c.Validate(); err != nil {
		return c, err
	}

	return c, nil
}

type binding struct {
	key string
	set func(c *Config, value string) error
}

func uint32Field(key string, field func(c *Config) *uint32) binding {
	return binding{key, func(c *Config, value string) error {
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return err
		}

		*field(c) = uint32(v)

		return nil
	}}
}

func intField(key string, field func(c *Config) *int) binding {
	return binding{key, func(c *Config, value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}

		*field(c) = v

		return nil
	}}
}

var bindings = []binding{
	{"MEMORY_SIZE", func(c *Config, value string) error {
		v, err := strconv.ParseUint(value, 0, 64)
		c.MemorySize = v

		return err
	}},
	uint32Field("KERNEL_POOL_BASE",
		func(c *Config) *uint32 { return &c.KernelPoolBase }),
	uint32Field("KERNEL_POOL_FRAMES",
		func(c *Config) *uint32 { return &c.KernelPoolFrames }),
	uint32Field("PROCESS_POOL_BASE",
		func(c *Config) *uint32 { return &c.ProcessPoolBase }),
	uint32Field("PROCESS_POOL_FRAMES",
		func(c *Config) *uint32 { return &c.ProcessPoolFrames }),
	uint32Field("HOLE_BASE",
		func(c *Config) *uint32 { return &c.HoleBase }),
	uint32Field("HOLE_FRAMES",
		func(c *Config) *uint32 { return &c.HoleFrames }),
	uint32Field("SHARED_SIZE",
		func(c *Config) *uint32 { return &c.SharedSize }),
	uint32Field("CODE_POOL_BASE",
		func(c *Config) *uint32 { return &c.CodePoolBase }),
	uint32Field("CODE_POOL_SIZE",
		func(c *Config) *uint32 { return &c.CodePoolSize }),
	uint32Field("HEAP_POOL_BASE",
		func(c *Config) *uint32 { return &c.HeapPoolBase }),
	uint32Field("HEAP_POOL_SIZE",
		func(c *Config) *uint32 { return &c.HeapPoolSize }),
	uint32Field("DISK_BLOCKS",
		func(c *Config) *uint32 { return &c.DiskBlocks }),
	intField("DISK_LATENCY",
		func(c *Config) *int { return &c.DiskLatency }),
	intField("TLB_SIZE",
		func(c *Config) *int { return &c.TLBSize }),
	intField("FAULT_RETRIES",
		func(c *Config) *int { return &c.MaxFaultRetries }),
	intField("MONITOR_PORT",
		func(c *Config) *int { return &c.MonitorPort }),
	{"LOG_LEVEL", func(c *Config, value string) error {
		c.LogLevel = strings.ToLower(value)
		return nil
	}},
	{"RECORD_PATH", func(c *Config, value string) error {
		c.RecordPath = value
		return nil
	}},
	{"OPEN_BROWSER", func(c *Config, value string) error {
		v, err := strconv.ParseBool(value)
		c.OpenBrowser = v

		return err
	}},
}

func (c *Config) apply(values map[string]string) error {
	for _, b := range bindings {
		value, ok := values[EnvPrefix+b.key]
		if !ok || value == "" {
			continue
		}

		if err := b.set(c, value); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w",
				ErrInvalidConfig, EnvPrefix, b.key, value, err)
		}
	}

	return nil
}

// Level returns the slog level that LogLevel names.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}
