package config

import (
	"fmt"
	"os"

	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"
	"gopkg.in/yaml.v3"

	// SQL drivers registered for squealx.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// DataConfig describes one store connection.
type DataConfig struct {
	Driver   string `yaml:"driver,omitempty" json:"driver,omitempty"`
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	URI      string `yaml:"uri,omitempty" json:"uri,omitempty"`
	Disable  bool   `yaml:"disable,omitempty" json:"disable,omitempty"`
}

// Config is the full pipeline configuration, loaded from YAML.
type Config struct {
	SourceCSV        string     `yaml:"source_csv" json:"source_csv"`
	PriceMenuCSV     string     `yaml:"price_menu_csv" json:"price_menu_csv"`
	CleanCSV         string     `yaml:"clean_csv" json:"clean_csv"`
	NormalizedDir    string     `yaml:"normalized_dir" json:"normalized_dir"`
	ReportDir        string     `yaml:"report_dir" json:"report_dir"`
	KeyStore         string     `yaml:"key_store,omitempty" json:"key_store,omitempty"`
	BatchSize        int        `yaml:"batch_size" json:"batch_size"`
	SampleSize       int        `yaml:"sample_size" json:"sample_size"`
	DenormalizeMongo bool       `yaml:"denormalize_mongo" json:"denormalize_mongo"`
	Truncate         bool       `yaml:"truncate" json:"truncate"`
	MySQL            DataConfig `yaml:"mysql" json:"mysql"`
	Mongo            DataConfig `yaml:"mongo" json:"mongo"`
}

// Load reads a YAML config and applies defaults for the optional
// knobs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.CleanCSV == "" {
		c.CleanCSV = "cleaned_retail_data.csv"
	}
	if c.NormalizedDir == "" {
		c.NormalizedDir = "normalized"
	}
	if c.ReportDir == "" {
		c.ReportDir = "reports"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 10
	}
	if c.MySQL.Driver == "" {
		c.MySQL.Driver = "mysql"
	}
}

func (c *Config) Validate() error {
	if c.SourceCSV == "" {
		return fmt.Errorf("source_csv is required")
	}
	return nil
}

// OpenDB opens the relational store through squealx using the
// configured driver.
func OpenDB(cfg DataConfig) (*squealx.DB, error) {
	db, _, err := connection.FromConfig(squealx.Config{
		Driver:      cfg.Driver,
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Database:    cfg.Database,
		MaxIdleCons: 5,
		MaxOpenCons: 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// MongoURI builds the connection URI from the config, preferring an
// explicit uri value when present.
func (c *Config) MongoURI() string {
	if c.Mongo.URI != "" {
		return c.Mongo.URI
	}
	host := c.Mongo.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Mongo.Port
	if port == 0 {
		port = 27017
	}
	if c.Mongo.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.Mongo.Username, c.Mongo.Password, host, port)
	}
	return fmt.Sprintf("mongodb://%s:%d", host, port)
}
