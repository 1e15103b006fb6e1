package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ilog "scmap/internal/log"
	"scmap/internal/objstore"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// AdminKey guards the map command endpoint. Empty leaves it open.
	AdminKey string `yaml:"admin_key"`
	DBURL    string `yaml:"database_url"`
	LogLevel string `yaml:"log_level"`
	// MaxConcurrentMapParses has no default: every deployment has to pick
	// its own worker budget.
	MaxConcurrentMapParses int           `yaml:"max_concurrent_map_parses"`
	WorkerPath             string        `yaml:"worker_path"`
	WorkerTimeout          time.Duration `yaml:"worker_timeout"`
	// BWDataPath is the game data directory. Empty disables rendering.
	BWDataPath           string        `yaml:"bw_data_path"`
	Storage              Storage       `yaml:"storage"`
	ReparseSweepInterval time.Duration `yaml:"reparse_sweep_interval"`
	ReparseSweepBatch    int           `yaml:"reparse_sweep_batch"`
}

type Storage struct {
	Driver       string        `yaml:"driver"`
	Endpoint     string        `yaml:"endpoint"`
	Region       string        `yaml:"region"`
	Bucket       string        `yaml:"bucket"`
	AccessKey    string        `yaml:"access_key"`
	SecretKey    string        `yaml:"secret_key"`
	UseSSL       bool          `yaml:"use_ssl"`
	PathStyle    bool          `yaml:"path_style"`
	PublicURL    string        `yaml:"public_url"`
	LocalDir     string        `yaml:"local_dir"`
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`
}

const (
	defaultWorkerPath    = "mapworker"
	defaultWorkerTimeout = 60 * time.Second
	defaultSweepBatch    = 100
	defaultSignedURLTTL  = 15 * time.Minute
)

func Load() (Config, error) {
	logger := ilog.Component("config")
	if _, err := os.Stat(".env"); err == nil {
		logger.Infof("loading .env")
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("failed to load .env: %w", err)
		}
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		logger.Infof("CONFIG_PATH is set, loading: %s", p)
		return LoadFromFile(p)
	}
	path := resolveDefaultConfigPath()
	logger.Infof("using resolved config path: %s", path)
	return LoadFromFile(path)
}

// LoadFromFile reads a YAML config. ${VAR} references are expanded from the
// environment first, so secrets can live in .env.
func LoadFromFile(path string) (Config, error) {
	logger := ilog.Component("config")
	logger.Infof("reading config file: %s", path)
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Errorf("read failed: %v", err)
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	logger.Infof("parsing yaml")
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		logger.Errorf("yaml parse failed: %v", err)
		return Config{}, fmt.Errorf("failed to parse yaml %s: %w", path, err)
	}
	cfg.applyDefaults()

	logger.Infof("validating fields")
	if err := cfg.Validate(); err != nil {
		logger.Errorf("validation failed: %v", err)
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger.Infof("config loaded successfully (http_addr=%s storage=%s rendering=%v parses=%d)",
		cfg.HTTPAddr, cfg.Storage.Driver, cfg.BWDataPath != "", cfg.MaxConcurrentMapParses)
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = ilog.LevelInfo
	}
	if c.WorkerPath == "" {
		c.WorkerPath = defaultWorkerPath
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = defaultWorkerTimeout
	}
	if c.ReparseSweepBatch <= 0 {
		c.ReparseSweepBatch = defaultSweepBatch
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "minio"
	}
	if c.Storage.SignedURLTTL <= 0 {
		c.Storage.SignedURLTTL = defaultSignedURLTTL
	}
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}
	if c.DBURL == "" {
		return errors.New("database_url is required")
	}
	if c.MaxConcurrentMapParses < 1 {
		return errors.New("max_concurrent_map_parses is required and must be >= 1")
	}
	switch c.Storage.Driver {
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return errors.New("storage.endpoint and storage.bucket are required for the minio driver")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.BWDataPath != "" {
		if st, err := os.Stat(c.BWDataPath); err != nil || !st.IsDir() {
			return fmt.Errorf("bw_data_path %s is not a directory", c.BWDataPath)
		}
	}
	return nil
}

func (s Storage) ObjstoreConfig() objstore.Config {
	return objstore.Config{
		Driver:       s.Driver,
		Endpoint:     s.Endpoint,
		Region:       s.Region,
		Bucket:       s.Bucket,
		AccessKey:    s.AccessKey,
		SecretKey:    s.SecretKey,
		UseSSL:       s.UseSSL,
		PathStyle:    s.PathStyle,
		PublicURL:    s.PublicURL,
		LocalDir:     s.LocalDir,
		SignedURLTTL: s.SignedURLTTL,
	}
}

func resolveDefaultConfigPath() string {
	logger := ilog.Component("config")
	candidates := []string{
		"config/config.yml",
		"../config/config.yml",
		"../../config/config.yml",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			logger.Infof("found config candidate: %s", p)
			return p
		}
	}
	// fallback for better error display in LoadFromFile
	logger.Warnf("no candidate found, fallback path: %s", candidates[0])
	return filepath.Clean(candidates[0])
}
