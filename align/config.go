package align

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Projection names an orthographic view used for previews and GeoJSON export.
type Projection string

const (
	ProjectionXY Projection = "xy"
	ProjectionXZ Projection = "xz"
	ProjectionYZ Projection = "yz"
)

// Valid reports whether p is one of the known projections.
func (p Projection) Valid() bool {
	switch p {
	case ProjectionXY, ProjectionXZ, ProjectionYZ:
		return true
	}
	return false
}

// Config represents the full configuration file
type Config struct {
	Units     UnitsConfig      `yaml:"units" json:"units"`
	Alignment AlignmentConfig  `yaml:"alignment" json:"alignment"`
	Output    OutputConfig     `yaml:"output" json:"output"`
	Adjust    SimilarityParams `yaml:"adjust" json:"adjust"`
	MQTT      MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	Render    RenderConfig     `yaml:"render" json:"render"`
}

// UnitsConfig controls unit conversion of instrument files.
type UnitsConfig struct {
	// InputScale multiplies every coordinate read from an electrode file.
	InputScale float64 `yaml:"inputScale" json:"inputScale"`
}

// AlignmentConfig tunes the solver and picking.
type AlignmentConfig struct {
	SearchFlips      bool `yaml:"searchFlips" json:"searchFlips"`
	RejectBackFacing bool `yaml:"rejectBackFacing" json:"rejectBackFacing"`
}

// OutputConfig controls what is written after alignment.
type OutputConfig struct {
	ExcludeFiducials bool `yaml:"excludeFiducials" json:"excludeFiducials"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID    string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	TopicPrefix string `yaml:"topicPrefix" json:"topicPrefix"`
}

// RenderConfig controls preview output.
type RenderConfig struct {
	Projection   Projection `yaml:"projection" json:"projection"`
	Resolution   float64    `yaml:"resolution" json:"resolution"` // DPI of vector PNG output
	MarkerRadius float64    `yaml:"markerRadius" json:"markerRadius"`
}

// Defaults used when a field is absent from the config file.
const (
	DefaultTopicPrefix  = "electroalign"
	DefaultResolution   = 150.0
	DefaultMarkerRadius = 3.0
)

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Units:     UnitsConfig{InputScale: MillimetersToMeters},
		Alignment: AlignmentConfig{SearchFlips: true},
		Adjust:    IdentitySimilarity(),
		MQTT:      MQTTConfig{TopicPrefix: DefaultTopicPrefix},
		Render: RenderConfig{
			Projection:   ProjectionXZ,
			Resolution:   DefaultResolution,
			MarkerRadius: DefaultMarkerRadius,
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !(c.Units.InputScale > 0) {
		return fmt.Errorf("units.inputScale must be positive, got %v", c.Units.InputScale)
	}
	if !(c.Adjust.Scale > 0) {
		return fmt.Errorf("adjust.scale must be positive, got %v", c.Adjust.Scale)
	}
	if !c.Render.Projection.Valid() {
		return fmt.Errorf("render.projection must be one of xy, xz, yz, got %q", c.Render.Projection)
	}
	if c.Render.Resolution <= 0 {
		return fmt.Errorf("render.resolution must be positive, got %v", c.Render.Resolution)
	}
	if c.Render.MarkerRadius <= 0 {
		return fmt.Errorf("render.markerRadius must be positive, got %v", c.Render.MarkerRadius)
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topicPrefix is required")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
