package options

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DeviceOptions)(nil)

// DeviceOptions identifies the device in its cloud registry.
type DeviceOptions struct {
	ProjectID string `json:"project-id" mapstructure:"project-id"`
	Region    string `json:"region" mapstructure:"region"`
	Registry  string `json:"registry" mapstructure:"registry"`
	DeviceID  string `json:"id" mapstructure:"id"`

	// PrivateKeyFile holds the RSA key in PEM or DER form.
	PrivateKeyFile string `json:"private-key-file" mapstructure:"private-key-file"`

	// TokenTTL is the lifetime of issued tokens in minutes.
	TokenTTL int `json:"token-ttl" mapstructure:"token-ttl"`
}

func NewDeviceOptions() *DeviceOptions {
	return &DeviceOptions{
		Region:   "us-central1",
		TokenTTL: 1440,
	}
}

func (o *DeviceOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	required := []struct{ flag, value string }{
		{"device.project-id", o.ProjectID},
		{"device.region", o.Region},
		{"device.registry", o.Registry},
		{"device.id", o.DeviceID},
		{"device.private-key-file", o.PrivateKeyFile},
	}
	for _, r := range required {
		if r.value == "" {
			errors = append(errors, fmt.Errorf("--%s is required", r.flag))
		}
	}
	if o.TokenTTL <= 0 {
		errors = append(errors, fmt.Errorf("--device.token-ttl must be positive, got %d", o.TokenTTL))
	}

	return errors
}

func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ProjectID, "device.project-id", o.ProjectID, "Cloud project that owns the device registry. Used as the token audience.")
	fs.StringVar(&o.Region, "device.region", o.Region, "Region of the device registry.")
	fs.StringVar(&o.Registry, "device.registry", o.Registry, "Device registry name.")
	fs.StringVar(&o.DeviceID, "device.id", o.DeviceID, "Device identifier within the registry.")
	fs.StringVar(&o.PrivateKeyFile, "device.private-key-file", o.PrivateKeyFile, "RSA private key (PEM or DER, PKCS#1 or PKCS#8) used to sign tokens.")
	fs.IntVar(&o.TokenTTL, "device.token-ttl", o.TokenTTL, "Token lifetime in minutes.")
}

// ReadKey returns the raw signing key bytes.
func (o *DeviceOptions) ReadKey() ([]byte, error) {
	data, err := os.ReadFile(o.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return data, nil
}
