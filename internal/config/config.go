package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config holds server configuration values.
type Config struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	HTTPAddr       string   `mapstructure:"http_addr" yaml:"http_addr"`
	ServerLogin    string   `mapstructure:"server_login" yaml:"server_login"`
	ServerPassword string   `mapstructure:"server_password" yaml:"server_password"`
	AdminLogins    []string `mapstructure:"admin_logins" yaml:"admin_logins"`

	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`

	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval" yaml:"reaper_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	HistorySize     int `mapstructure:"history_size" yaml:"history_size"`
	MaxMessageBytes int `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	BcryptCost      int `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// StorageConfig selects and locates the persistent entity store.
type StorageConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	ClientsDir   string `mapstructure:"clients_dir" yaml:"clients_dir"`
	RoomsDir     string `mapstructure:"rooms_dir" yaml:"rooms_dir"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:           ":5940",
		ServerLogin:    "God",
		ServerPassword: "change_me",
		Storage: StorageConfig{
			Driver:       DriverFile,
			ClientsDir:   "data/clients",
			RoomsDir:     "data/rooms",
			DatabasePath: "data/roomchat.db",
		},
		LogLevel:        "info",
		IdleTimeout:     time.Hour,
		WriteTimeout:    10 * time.Second,
		ReaperInterval:  time.Minute,
		ShutdownTimeout: 5 * time.Second,
		HistorySize:     100,
		MaxMessageBytes: 64 << 10,
		BcryptCost:      10,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.HTTPAddr != "" {
		c.HTTPAddr = other.HTTPAddr
	}
	if other.ServerLogin != "" {
		c.ServerLogin = other.ServerLogin
	}
	if other.ServerPassword != "" {
		c.ServerPassword = other.ServerPassword
	}
	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.ClientsDir != "" {
		c.Storage.ClientsDir = other.Storage.ClientsDir
	}
	if other.Storage.RoomsDir != "" {
		c.Storage.RoomsDir = other.Storage.RoomsDir
	}
	if other.Storage.DatabasePath != "" {
		c.Storage.DatabasePath = other.Storage.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFile != "" {
		c.LogFile = other.LogFile
	}
	if other.IdleTimeout != 0 {
		c.IdleTimeout = other.IdleTimeout
	}
	if other.ReaperInterval != 0 {
		c.ReaperInterval = other.ReaperInterval
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// Validate reports every setting the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.ServerLogin == "" || c.ServerPassword == "" {
		errs = append(errs, errors.New("server_login and server_password are required"))
	}
	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.ClientsDir == "" || c.Storage.RoomsDir == "" {
			errs = append(errs, errors.New("storage.clients_dir and storage.rooms_dir are required"))
		}
	case DriverSQLite:
		if c.Storage.DatabasePath == "" {
			errs = append(errs, errors.New("storage.database_path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout must be positive"))
	}
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("reaper_interval must be positive"))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, errors.New("history_size must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("max_message_bytes must be positive"))
	}
	return errors.Join(errs...)
}
