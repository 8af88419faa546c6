package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinysim/rvhart/internal/hart"
)

// Config describes a complete machine: the hart parameters, the physical
// memory map and the guest image to load.
type Config struct {
	// Xlen selects the base width, 32 or 64.
	Xlen int `yaml:"xlen"`
	// Harts is the number of harts; defaults to 1.
	Harts int `yaml:"harts"`

	RAM RAMConfig `yaml:"ram"`

	// Entry is the reset program counter. Defaults to the RAM base.
	Entry uint64 `yaml:"entry"`
	// Image is a flat binary loaded at the RAM base.
	Image string `yaml:"image,omitempty"`

	// TLBCapacity overrides the per-width translation cache size.
	TLBCapacity int `yaml:"tlb_capacity,omitempty"`
	// DirtyUpdate enables hardware Accessed/Dirty PTE updates. When
	// false a walk that needs one raises a page fault instead.
	DirtyUpdate bool `yaml:"dirty_update"`

	// Console maps the byte output port, 0 to disable.
	Console uint64 `yaml:"console,omitempty"`
	// ExitPort maps the test-completion port, 0 to disable.
	ExitPort uint64 `yaml:"exit_port,omitempty"`
}

// RAMConfig places guest memory in the physical address space.
type RAMConfig struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// DefaultConfig returns a single-hart RV64 machine with 128 MiB of RAM
// at the conventional base.
func DefaultConfig() Config {
	return Config{
		Xlen:        64,
		Harts:       1,
		RAM:         RAMConfig{Base: 0x8000_0000, Size: 128 << 20},
		DirtyUpdate: true,
		Console:     0x1000_0000,
		ExitPort:    0x0010_0000,
	}
}

// LoadConfig reads and validates a YAML machine description, applying
// defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the machine cannot be built from.
func (c *Config) Validate() error {
	if c.Xlen != 32 && c.Xlen != 64 {
		return fmt.Errorf("invalid xlen %d: must be 32 or 64", c.Xlen)
	}
	if c.Harts < 1 {
		return fmt.Errorf("invalid hart count %d", c.Harts)
	}
	if c.RAM.Size == 0 {
		return fmt.Errorf("ram size must be nonzero")
	}
	if c.RAM.Base+c.RAM.Size < c.RAM.Base {
		return fmt.Errorf("ram region wraps the address space: base=0x%x size=0x%x", c.RAM.Base, c.RAM.Size)
	}
	if c.Xlen == 32 && c.RAM.Base+c.RAM.Size > 1<<34 {
		// Sv32 physical addresses are 34 bits.
		return fmt.Errorf("ram region exceeds the 34-bit rv32 physical address space")
	}
	if c.TLBCapacity < 0 {
		return fmt.Errorf("invalid tlb capacity %d", c.TLBCapacity)
	}
	if c.Entry != 0 {
		entry := c.Entry
		if c.Xlen == 32 {
			entry = uint64(uint32(entry))
		}
		if entry&1 != 0 {
			return fmt.Errorf("entry point 0x%x is misaligned", c.Entry)
		}
	}
	for _, p := range []struct {
		name string
		base uint64
	}{{"console", c.Console}, {"exit_port", c.ExitPort}} {
		if p.base == 0 {
			continue
		}
		if p.base >= c.RAM.Base && p.base < c.RAM.Base+c.RAM.Size {
			return fmt.Errorf("%s port 0x%x overlaps ram", p.name, p.base)
		}
	}
	return nil
}

// hartOptions translates the machine description into per-hart options.
func (c *Config) hartOptions(now func() uint64) hart.Options {
	return hart.Options{
		Xlen:        c.Xlen,
		TLBCapacity: c.TLBCapacity,
		DirtyUpdate: c.DirtyUpdate,
		Now:         now,
	}
}
