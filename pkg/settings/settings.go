// Package settings manages user-editable deployment defaults. Settings are
// stored as a small YAML document in the data directory and reloaded when
// the file changes on disk.
package settings

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wgforge/wgforge/pkg/state"
)

// Settings are the deployment defaults applied when a command does not
// override them.
type Settings struct {
	// Region is the default cloud region.
	Region string `yaml:"region" validate:"required"`

	// InstanceType is the default AWS instance type.
	InstanceType string `yaml:"instance_type" validate:"required"`

	// DropletSize is the default DigitalOcean droplet size.
	DropletSize string `yaml:"droplet_size" validate:"required"`

	// WireGuardPort is the UDP port the server listens on.
	WireGuardPort int `yaml:"wireguard_port" validate:"required,min=1,max=65535"`
}

// Default returns the settings used before the user changes anything.
func Default() Settings {
	return Settings{
		Region:        "us-east-1",
		InstanceType:  "t2.micro",
		DropletSize:   "s-1vcpu-1gb",
		WireGuardPort: 51820,
	}
}

var validate = validator.New()

// Validate checks the settings for completeness and range errors.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Region describes a selectable deployment region.
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var awsRegions = []Region{
	{Code: "us-east-1", Name: "US East (N. Virginia)"},
	{Code: "us-east-2", Name: "US East (Ohio)"},
	{Code: "us-west-1", Name: "US West (N. California)"},
	{Code: "us-west-2", Name: "US West (Oregon)"},
	{Code: "eu-west-1", Name: "Europe (Ireland)"},
	{Code: "eu-west-2", Name: "Europe (London)"},
	{Code: "eu-central-1", Name: "Europe (Frankfurt)"},
	{Code: "eu-north-1", Name: "Europe (Stockholm)"},
	{Code: "ap-southeast-1", Name: "Asia Pacific (Singapore)"},
	{Code: "ap-southeast-2", Name: "Asia Pacific (Sydney)"},
	{Code: "ap-northeast-1", Name: "Asia Pacific (Tokyo)"},
	{Code: "ap-south-1", Name: "Asia Pacific (Mumbai)"},
	{Code: "sa-east-1", Name: "South America (São Paulo)"},
	{Code: "ca-central-1", Name: "Canada (Central)"},
	{Code: "me-south-1", Name: "Middle East (Bahrain)"},
	{Code: "af-south-1", Name: "Africa (Cape Town)"},
}

var digitalOceanRegions = []Region{
	{Code: "nyc1", Name: "New York 1"},
	{Code: "nyc3", Name: "New York 3"},
	{Code: "sfo3", Name: "San Francisco 3"},
	{Code: "tor1", Name: "Toronto 1"},
	{Code: "lon1", Name: "London 1"},
	{Code: "ams3", Name: "Amsterdam 3"},
	{Code: "fra1", Name: "Frankfurt 1"},
	{Code: "sgp1", Name: "Singapore 1"},
	{Code: "blr1", Name: "Bangalore 1"},
	{Code: "syd1", Name: "Sydney 1"},
}

// Regions returns the selectable regions for a provider. The bring-your-own
// provider has no region concept and returns an empty list.
func Regions(provider state.Provider) []Region {
	switch provider {
	case state.ProviderAWS:
		out := make([]Region, len(awsRegions))
		copy(out, awsRegions)
		return out
	case state.ProviderDigitalOcean:
		out := make([]Region, len(digitalOceanRegions))
		copy(out, digitalOceanRegions)
		return out
	default:
		return nil
	}
}
