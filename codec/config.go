package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/anirudhraja/protocodec/dynamic"
)

// Config controls optional codec behaviors. It is plain data: build one per
// use site and derive the option structs from it.
type Config struct {
	// PreserveUnknown keeps unknown field bytes on decode and writes them back
	// on encode. When false (default), unknown fields are discarded.
	PreserveUnknown bool `yaml:"preserve_unknown"`

	// StrictWireType rejects known fields carried with a wire type their kind
	// cannot use. When false (default), such fields are treated as unknown.
	StrictWireType bool `yaml:"strict_wire_type"`

	// RecursionLimit bounds message nesting on decode and encode.
	RecursionLimit int `yaml:"recursion_limit"`

	// Packing selects the repeated scalar encoding: auto, always or never.
	Packing Packing `yaml:"packing"`

	// EnumsAsNames: when true, the map projection returns declared enum
	// values by name instead of number.
	EnumsAsNames bool `yaml:"enums_as_names"`

	// PopulateDefaults: when true, the map projection includes unset singular
	// scalar and enum fields with their default values.
	PopulateDefaults bool `yaml:"populate_defaults"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		RecursionLimit: DefaultRecursionLimit,
		Packing:        PackingAuto,
	}
}

// UnmarshalOptions returns the decode options c describes.
func (c Config) UnmarshalOptions() UnmarshalOptions {
	return UnmarshalOptions{
		PreserveUnknown: c.PreserveUnknown,
		StrictWireType:  c.StrictWireType,
		RecursionLimit:  c.RecursionLimit,
	}
}

// MarshalOptions returns the encode options c describes.
func (c Config) MarshalOptions() MarshalOptions {
	return MarshalOptions{
		Packing:        c.Packing,
		RecursionLimit: c.RecursionLimit,
	}
}

// MapOptions returns the map projection options c describes.
func (c Config) MapOptions() dynamic.MapOptions {
	return dynamic.MapOptions{
		EnumsAsNames:     c.EnumsAsNames,
		PopulateDefaults: c.PopulateDefaults,
	}
}

// Validate reports settings that cannot be honored.
func (c Config) Validate() error {
	if c.RecursionLimit < 0 {
		return fmt.Errorf("recursion_limit must not be negative, got %d", c.RecursionLimit)
	}
	if _, ok := packingNames[c.Packing]; !ok {
		return fmt.Errorf("invalid packing %s", c.Packing)
	}
	return nil
}

// Environment variables read by ConfigFromEnv.
const (
	EnvPreserveUnknown  = "PROTOCODEC_PRESERVE_UNKNOWN"
	EnvStrictWireType   = "PROTOCODEC_STRICT_WIRE"
	EnvRecursionLimit   = "PROTOCODEC_RECURSION_LIMIT"
	EnvPacking          = "PROTOCODEC_PACKING"
	EnvEnumsAsNames     = "PROTOCODEC_ENUMS_AS_NAMES"
	EnvPopulateDefaults = "PROTOCODEC_POPULATE_DEFAULTS"
)

// ConfigFromEnv overlays the PROTOCODEC_* environment variables on base.
// Unset variables leave the base value in place.
func ConfigFromEnv(base Config) (Config, error) {
	return configFromLookup(base, os.LookupEnv)
}

func configFromLookup(base Config, lookup func(string) (string, bool)) (Config, error) {
	c := base
	for name, dst := range map[string]*bool{
		EnvPreserveUnknown:  &c.PreserveUnknown,
		EnvStrictWireType:   &c.StrictWireType,
		EnvEnumsAsNames:     &c.EnumsAsNames,
		EnvPopulateDefaults: &c.PopulateDefaults,
	} {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return base, fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	if v, ok := lookup(EnvRecursionLimit); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvRecursionLimit, err)
		}
		c.RecursionLimit = n
	}
	if v, ok := lookup(EnvPacking); ok && v != "" {
		p, err := ParsePacking(v)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvPacking, err)
		}
		c.Packing = p
	}
	return c, c.Validate()
}

// LoadConfig reads a YAML configuration file. Keys it does not know are an
// error; keys it omits keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return ReadConfig(f)
}

// ReadConfig decodes a YAML configuration from r.
func ReadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
