package fota

import (
	"flag"
	"os"
)

// Config defines where and how large firmware images are.
type Config struct {
	// FirmwareFile is fetched when the version file names none.
	FirmwareFile string `yaml:"firmware-file"`
	// StartAddress is the sector aligned flash address of the application.
	StartAddress uint32 `yaml:"start-address"`
	// MaxImageSize is the capacity of the image buffer.
	MaxImageSize int `yaml:"max-image-size"`
	// ScratchSize is the capacity of the raw transfer buffer.
	ScratchSize int `yaml:"scratch-size"`
	// Verify reads flash back after programming.
	Verify bool `yaml:"verify"`
}

var defaultConfig = Config{
	FirmwareFile: "firmware_update.bin",
	StartAddress: 0x08008000,
	MaxImageSize: 10500,
	ScratchSize:  11000,
	Verify:       true,
}

func init() {
	if val := os.Getenv("FOTA_FIRMWARE_FILE"); val != "" {
		defaultConfig.FirmwareFile = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.FirmwareFile, "firmware", defaultConfig.FirmwareFile, "Firmware file name on the server.")
	flag.IntVar(&defaultConfig.MaxImageSize, "max-image", defaultConfig.MaxImageSize, "Maximum firmware image size.")
	flag.BoolVar(&defaultConfig.Verify, "verify", defaultConfig.Verify, "Verify flash after programming.")
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
