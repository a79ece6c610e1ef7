// Package bench runs the updater on a host: a USB-UART bridge to a real
// ESP8266 takes the place of the modem UART, and a file-backed simulated
// controller takes the place of on-chip flash.
package bench

import (
	"flag"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/robotalks/fota.go/pkg/esp"
	"github.com/robotalks/fota.go/pkg/fota"
)

// ModemConfig selects the serial port of the modem.
type ModemConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// WiFiConfig holds the access point credentials.
type WiFiConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// FlashConfig locates the flash image on disk.
type FlashConfig struct {
	// Image is the file holding the flash contents, empty for memory only.
	Image string `yaml:"image"`
}

// ReportConfig configures status reporting.
type ReportConfig struct {
	// URL is the MQTT broker, e.g. mqtt://localhost:1883/fota/. Empty
	// disables reporting.
	URL string `yaml:"url"`
	// Device names this bench in topics, defaults to the machine id.
	Device string `yaml:"device"`
}

// Config is the bench configuration file.
type Config struct {
	Modem  ModemConfig  `yaml:"modem"`
	WiFi   WiFiConfig   `yaml:"wifi"`
	ESP    esp.Config   `yaml:"esp"`
	FOTA   fota.Config  `yaml:"fota"`
	Flash  FlashConfig  `yaml:"flash"`
	Report ReportConfig `yaml:"report"`
}

var configFile = "fotabench.yaml"

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "Bench configuration file.")
}

// ConfigFile returns the configuration file path from the command line.
func ConfigFile() string {
	return configFile
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	return &Config{
		Modem: ModemConfig{Baud: 115200},
		ESP:   *esp.NewConfig(),
		FOTA:  *fota.NewConfig(),
		Flash: FlashConfig{Image: "flash.bin"},
	}
}

// LoadConfig reads path over the defaults and applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	conf := NewConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err = yaml.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}
	conf.applyEnv()
	return conf, nil
}

func (c *Config) applyEnv() {
	if val := os.Getenv("FOTA_MQTT_URL"); val != "" {
		c.Report.URL = val
	}
	if val := os.Getenv("FOTA_WIFI_SSID"); val != "" {
		c.WiFi.SSID = val
	}
	if val := os.Getenv("FOTA_WIFI_PASSWORD"); val != "" {
		c.WiFi.Password = val
	}
	if val := os.Getenv("FOTA_MODEM"); val != "" {
		c.Modem.Device = val
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.Modem.Device != "" && c.Modem.Baud <= 0:
		return errors.Errorf("invalid modem baud rate %d", c.Modem.Baud)
	case c.ESP.Host == "":
		return errors.New("esp.host required")
	case c.ESP.Port <= 0 || c.ESP.Port > 65535:
		return errors.Errorf("invalid esp.port %d", c.ESP.Port)
	case c.FOTA.MaxImageSize <= 0:
		return errors.New("fota.max-image-size must be positive")
	case c.FOTA.ScratchSize < c.FOTA.MaxImageSize:
		return errors.New("fota.scratch-size smaller than fota.max-image-size")
	}
	return nil
}

// ValidateUpdate checks an update can run.
func (c *Config) ValidateUpdate() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.WiFi.SSID == "" {
		return errors.New("wifi.ssid required")
	}
	return nil
}
