package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, model.MethodPreview, cfg.Ticket.Method())
	assert.Equal(t, 1, cfg.Ticket.CopiesCount)
	assert.Equal(t, 80, cfg.Ticket.PaperWidth)
	assert.Equal(t, model.DefaultLocalPrinterURL, cfg.Ticket.LocalPrinterURL)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, time.Second, cfg.Serial.Settle)
	assert.Equal(t, 180, cfg.Bluetooth.ChunkSize)
	assert.Equal(t, 20*time.Millisecond, cfg.Bluetooth.ChunkDelay)
	assert.Equal(t, []string{"XPrinter", "Thermal", "Printer"}, cfg.Bluetooth.NamePatterns)
	assert.Equal(t, "localhost:9100", cfg.Relay.Address)
	assert.Equal(t, BackendUSB, cfg.Relay.Backend)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "ticketprint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://pos.example.com/api
business:
  name: Kiosco Don Pepe
  cuit: 20-12345678-9
ticket:
  print_method: serial
  copies_count: 2
  paper_width: 58
serial:
  port: /dev/ttyUSB0
`), 0o644))

	t.Setenv("TICKETPRINT_TICKET_COPIES_COUNT", "3")
	t.Setenv("TICKETPRINT_API_TOKEN", "abc")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://pos.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "abc", cfg.API.Token)
	assert.Equal(t, "Kiosco Don Pepe", cfg.Business.Name)
	assert.Equal(t, "20-12345678-9", cfg.Business.CUIT)
	assert.Equal(t, model.MethodSerial, cfg.Ticket.Method())
	assert.Equal(t, 3, cfg.Ticket.CopiesCount)
	assert.Equal(t, 58, cfg.Ticket.PaperWidth)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TICKETPRINT_LOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TICKETPRINT_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown method", func(c *Config) { c.Ticket.PrintMethod = "fax" }, "ticket.print_method"},
		{"too many copies", func(c *Config) { c.Ticket.CopiesCount = 6 }, "ticket.copies_count"},
		{"zero copies", func(c *Config) { c.Ticket.CopiesCount = 0 }, "ticket.copies_count"},
		{"paper width", func(c *Config) { c.Ticket.PaperWidth = 72 }, "ticket.paper_width"},
		{"baud rate", func(c *Config) { c.Serial.BaudRate = 0 }, "serial.baud_rate"},
		{"chunk size", func(c *Config) { c.Bluetooth.ChunkSize = -1 }, "bluetooth.chunk_size"},
		{"relay backend", func(c *Config) { c.Relay.Backend = "parallel" }, "relay.backend"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateAcceptsMixedCaseMethod(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Ticket.PrintMethod = "Bluetooth"
	assert.NoError(t, cfg.Validate())
}
