// Package config loads ticketprint settings from a config file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// EnvPrefix is prepended to every environment variable, e.g. TICKETPRINT_API_BASE_URL
const EnvPrefix = "TICKETPRINT"

// Relay back ends
const (
	BackendUSB    = "usb"
	BackendSerial = "serial"
)

// Config is the full application configuration
type Config struct {
	API       APIConfig            `mapstructure:"api"`
	Business  model.BusinessConfig `mapstructure:"business"`
	Ticket    model.TicketConfig   `mapstructure:"ticket"`
	Serial    SerialConfig         `mapstructure:"serial"`
	Bluetooth BluetoothConfig      `mapstructure:"bluetooth"`
	Relay     RelayConfig          `mapstructure:"relay"`
	Agent     AgentConfig          `mapstructure:"agent"`
	Document  DocumentConfig       `mapstructure:"document"`
	Log       LogConfig            `mapstructure:"log"`
}

// APIConfig points at the POS backend
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SerialConfig selects the local serial printer
type SerialConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	Settle   time.Duration `mapstructure:"settle"`
}

// BluetoothConfig tunes the wireless driver
type BluetoothConfig struct {
	NamePatterns []string      `mapstructure:"name_patterns"`
	ScanTimeout  time.Duration `mapstructure:"scan_timeout"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	ChunkDelay   time.Duration `mapstructure:"chunk_delay"`
}

// RelayConfig configures the print relay server
type RelayConfig struct {
	// Address serves the HTTP relay endpoint used by the localserver method
	Address string `mapstructure:"address"`
	// RawAddress accepts raw ESC/POS streams over TCP
	RawAddress string `mapstructure:"raw_address"`
	Backend    string `mapstructure:"backend"`
	USBID      string `mapstructure:"usb_id"`
	SerialPort string `mapstructure:"serial_port"`
	Announce   bool   `mapstructure:"announce"`
	Name       string `mapstructure:"name"`
}

// AgentConfig configures the local print agent
type AgentConfig struct {
	Address string `mapstructure:"address"`
}

// DocumentConfig configures the PDF path
type DocumentConfig struct {
	DownloadDir string        `mapstructure:"download_dir"`
	RevokeAfter time.Duration `mapstructure:"revoke_after"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:3000/api")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 15*time.Second)

	v.SetDefault("business.name", "")
	v.SetDefault("business.address", "")
	v.SetDefault("business.phone", "")
	v.SetDefault("business.cuit", "")
	v.SetDefault("business.footer_message", "")

	v.SetDefault("ticket.enable_print", true)
	v.SetDefault("ticket.print_method", string(model.MethodPreview))
	v.SetDefault("ticket.local_printer_url", model.DefaultLocalPrinterURL)
	v.SetDefault("ticket.copies_count", 1)
	v.SetDefault("ticket.paper_width", 80)
	v.SetDefault("ticket.printer_name", "")

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.settle", time.Second)

	v.SetDefault("bluetooth.name_patterns", []string{"XPrinter", "Thermal", "Printer"})
	v.SetDefault("bluetooth.scan_timeout", 10*time.Second)
	v.SetDefault("bluetooth.chunk_size", 180)
	v.SetDefault("bluetooth.chunk_delay", 20*time.Millisecond)

	v.SetDefault("relay.address", "localhost:9100")
	v.SetDefault("relay.raw_address", "localhost:9101")
	v.SetDefault("relay.backend", BackendUSB)
	v.SetDefault("relay.usb_id", "")
	v.SetDefault("relay.serial_port", "")
	v.SetDefault("relay.announce", false)
	v.SetDefault("relay.name", "ticketprint")

	v.SetDefault("agent.address", "localhost:8089")

	v.SetDefault("document.download_dir", ".")
	v.SetDefault("document.revoke_after", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads .env from the working directory when present, then the config
// file at path when non-empty, then TICKETPRINT_* environment variables.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values the print pipeline relies on
func (c *Config) Validate() error {
	var errs []error

	if m := strings.TrimSpace(c.Ticket.PrintMethod); m != "" && string(model.ParsePrintMethod(m)) != strings.ToLower(m) {
		errs = append(errs, fmt.Errorf("ticket.print_method: unknown method %q", m))
	}
	if c.Ticket.CopiesCount < model.MinCopies || c.Ticket.CopiesCount > model.MaxCopies {
		errs = append(errs, fmt.Errorf("ticket.copies_count: must be between %d and %d, got %d",
			model.MinCopies, model.MaxCopies, c.Ticket.CopiesCount))
	}
	if c.Ticket.PaperWidth != 58 && c.Ticket.PaperWidth != 80 {
		errs = append(errs, fmt.Errorf("ticket.paper_width: must be 58 or 80, got %d", c.Ticket.PaperWidth))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate: must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Bluetooth.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("bluetooth.chunk_size: must be positive, got %d", c.Bluetooth.ChunkSize))
	}
	if c.Relay.Backend != BackendUSB && c.Relay.Backend != BackendSerial {
		errs = append(errs, fmt.Errorf("relay.backend: must be %q or %q, got %q", BackendUSB, BackendSerial, c.Relay.Backend))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}
