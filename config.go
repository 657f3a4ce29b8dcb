package mycelium

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ppopth/mycelium/bundle"
	"github.com/ppopth/mycelium/encode"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of the engine options:
//
//	symbol_size: 1024
//	repair_ratio: 1.0
//	scheme: rlnc
//	digest: true
//	compression: zstd
//	nodes: [alpha, beta, gamma]
//
// Unset fields keep their defaults. Nodes is only read by the simulator.
type Config struct {
	SymbolSize    uint32   `yaml:"symbol_size"`
	RepairRatio   *float64 `yaml:"repair_ratio"`
	RepairSymbols *uint32  `yaml:"repair_symbols"`
	Scheme        string   `yaml:"scheme"`
	Workers       int      `yaml:"workers"`
	MaxPackets    uint32   `yaml:"max_packets"`
	MaxSymbols    uint32   `yaml:"max_source_symbols"`
	Digest        bool     `yaml:"digest"`
	Compression   string   `yaml:"compression"`
	Nodes         []string `yaml:"nodes"`
}

// LoadConfig reads a YAML config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse config: %v", ErrInvalidInput, err)
	}
	if cfg.RepairRatio != nil && cfg.RepairSymbols != nil {
		return nil, fmt.Errorf("%w: repair_ratio and repair_symbols are mutually exclusive", ErrInvalidInput)
	}
	return &cfg, nil
}

// Options converts the config into engine options
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if c.SymbolSize != 0 {
		opts = append(opts, WithSymbolSize(c.SymbolSize))
	}
	if c.RepairRatio != nil {
		opts = append(opts, WithRepairRatio(*c.RepairRatio))
	}
	if c.RepairSymbols != nil {
		opts = append(opts, WithRepairSymbols(*c.RepairSymbols))
	}
	if c.Scheme != "" {
		scheme, err := encode.ParseScheme(c.Scheme)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithScheme(scheme))
	}
	if c.Workers != 0 {
		opts = append(opts, WithWorkers(c.Workers))
	}
	if c.MaxPackets != 0 {
		opts = append(opts, WithMaxPackets(c.MaxPackets))
	}
	if c.MaxSymbols != 0 {
		opts = append(opts, WithMaxSourceSymbols(c.MaxSymbols))
	}
	if c.Digest {
		opts = append(opts, WithDigest(true))
	}
	if c.Compression != "" {
		comp, err := bundle.ParseCompression(c.Compression)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCompression(comp))
	}

	// Surface bad values here rather than on first use
	if _, err := newConfig(opts); err != nil {
		return nil, err
	}
	return opts, nil
}
