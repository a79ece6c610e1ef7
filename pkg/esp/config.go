package esp

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config defines the server and timing of a session.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ReleasePath string `yaml:"release-path"`
	VersionFile string `yaml:"version-file"`

	// CommandTimeout bounds the wait for OK after each command.
	CommandTimeout time.Duration `yaml:"command-timeout"`
	// JoinTimeout bounds the access point association.
	JoinTimeout time.Duration `yaml:"join-timeout"`
	// TransferTimeout bounds one HTTP transfer, from CIPSEND to CLOSED.
	TransferTimeout time.Duration `yaml:"transfer-timeout"`
	// ResetDelay is milliseconds to wait after AT+RST.
	ResetDelay uint32 `yaml:"reset-delay"`
}

var defaultConfig = Config{
	Host:            "esd-fota.batcave.net",
	Port:            80,
	ReleasePath:     "/releases/",
	VersionFile:     "firmware_version.txt",
	CommandTimeout:  5 * time.Second,
	JoinTimeout:     20 * time.Second,
	TransferTimeout: time.Minute,
	ResetDelay:      1000,
}

func init() {
	if val := os.Getenv("FOTA_ESP_HOST"); val != "" {
		defaultConfig.Host = val
	}
	if val := os.Getenv("FOTA_ESP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			defaultConfig.Port = port
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Host, "esp-host", defaultConfig.Host, "Release server host.")
	flag.IntVar(&defaultConfig.Port, "esp-port", defaultConfig.Port, "Release server port.")
	flag.StringVar(&defaultConfig.ReleasePath, "esp-path", defaultConfig.ReleasePath, "Path of the release directory on the server.")
	flag.DurationVar(&defaultConfig.CommandTimeout, "esp-cmd-timeout", defaultConfig.CommandTimeout, "Timeout of one AT command.")
	flag.DurationVar(&defaultConfig.TransferTimeout, "esp-xfer-timeout", defaultConfig.TransferTimeout, "Timeout of one HTTP transfer.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}
