// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"InstrumentCatalog"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Boundary detection tuning
	Detection DetectionConfig `xml:"Detection"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
}

// StorageConfig contains data and record storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	RecordsDirectory string `xml:"RecordsDirectory"`
	CacheDirectory   string `xml:"CacheDirectory"`
	IndexDatabase    string `xml:"IndexDatabase"`
	InstrumentsFile  string `xml:"InstrumentsFile"`
}

// DetectionConfig contains boundary detection settings
type DetectionConfig struct {
	BandwidthGridSize int `xml:"BandwidthGridSize"`
	DensityMultiplier int `xml:"DensityMultiplier"`
	Workers           int `xml:"Workers"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			RecordsDirectory: "./data/records",
			CacheDirectory:   "./data/cache",
			IndexDatabase:    "./data/fileindex.duckdb",
			InstrumentsFile:  "./data/instruments.yaml",
		},
		Detection: DetectionConfig{
			BandwidthGridSize: 35,
			DensityMultiplier: 10,
			Workers:           0, // 0 means one per CPU
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &AppConfig{}
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Instrument Catalog Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if instrFile := os.Getenv("INSTRUMENTS_FILE"); instrFile != "" {
		c.Storage.InstrumentsFile = instrFile
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.RecordsDirectory) {
		c.Storage.RecordsDirectory = filepath.Join(configDir, c.Storage.RecordsDirectory)
	}
	if !filepath.IsAbs(c.Storage.CacheDirectory) {
		c.Storage.CacheDirectory = filepath.Join(configDir, c.Storage.CacheDirectory)
	}
	if !filepath.IsAbs(c.Storage.IndexDatabase) {
		c.Storage.IndexDatabase = filepath.Join(configDir, c.Storage.IndexDatabase)
	}
	if !filepath.IsAbs(c.Storage.InstrumentsFile) {
		c.Storage.InstrumentsFile = filepath.Join(configDir, c.Storage.InstrumentsFile)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.RecordsDirectory,
		c.Storage.CacheDirectory,
		filepath.Dir(c.Storage.IndexDatabase),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
