// Package config loads and validates stager configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docsearch-stager/internal/index/algolia"
	"github.com/JakeFAU/docsearch-stager/internal/rules"
)

// Index backends.
const (
	BackendAlgolia = "algolia"
	BackendBleve   = "bleve"
	BackendMemory  = "memory"
)

// Archive and ledger backends.
const (
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// legacyEnv maps config keys to the environment names deployments already use.
var legacyEnv = map[string]string{
	"records.pagerank_rules":    "SCRAPER_PAGERANK_RULES",
	"records.remove_attributes": "SCRAPER_REMOVE_ATTRIBUTES",
	"records.max_record_bytes":  "SCRAPER_MAX_RECORD_BYTES",
	"records.show_records":      "SHOW_RECORDS",
	"host.override":             "OVERRIDE_HOST",
	"host.local_host":           "LOCALSERVER_HOST",
	"host.local_url":            "LOCALSERVER_URL",
	"algolia.app_id":            "APPLICATION_ID",
	"algolia.api_key":           "API_KEY",
	"index.name":                "INDEX_NAME",
	"index.tmp_name":            "INDEX_NAME_TMP",
}

// Config captures all stager configuration knobs loaded via Viper.
type Config struct {
	Index   IndexConfig    `mapstructure:"index"`
	Algolia algolia.Config `mapstructure:"algolia"`
	Records RecordsConfig  `mapstructure:"records"`
	Host    HostConfig     `mapstructure:"host"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	DB      DBConfig       `mapstructure:"db"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Server  ServerConfig   `mapstructure:"server"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// IndexConfig names the live index and picks the backend that hosts it.
type IndexConfig struct {
	Name string `mapstructure:"name"`
	// TmpName defaults to "<name>_tmp".
	TmpName   string `mapstructure:"tmp_name"`
	Backend   string `mapstructure:"backend"`
	ChunkSize int    `mapstructure:"chunk_size"`
	// Root is the bleve data directory.
	Root string `mapstructure:"root"`
}

// RecordsConfig holds the raw record post-processing settings. Values stay
// strings; rules.Resolve parses them and warns about anything malformed.
type RecordsConfig struct {
	PagerankRules    string `mapstructure:"pagerank_rules"`
	RemoveAttributes string `mapstructure:"remove_attributes"`
	MaxRecordBytes   string `mapstructure:"max_record_bytes"`
	ShowRecords      string `mapstructure:"show_records"`
}

// HostConfig describes the crawl-time host to rewrite back to the public one.
type HostConfig struct {
	Override  string `mapstructure:"override"`
	LocalHost string `mapstructure:"local_host"`
	LocalURL  string `mapstructure:"local_url"`
}

// ArchiveConfig controls the compressed chunk archive.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// DBConfig selects the run ledger.
type DBConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for promotion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read builds a Config from disk/environment without validating it, so
// callers can apply overrides first.
func Read(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		envName := "STAGER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Index.TmpName == "" && cfg.Index.Name != "" {
		cfg.Index.TmpName = cfg.Index.Name + "_tmp"
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("index.name", "")
	v.SetDefault("index.tmp_name", "")
	v.SetDefault("index.backend", BackendAlgolia)
	v.SetDefault("index.chunk_size", 50)
	v.SetDefault("index.root", "data/indices")
	v.SetDefault("algolia.app_id", "")
	v.SetDefault("algolia.api_key", "")
	v.SetDefault("records.pagerank_rules", "")
	v.SetDefault("records.remove_attributes", "")
	v.SetDefault("records.max_record_bytes", "")
	v.SetDefault("records.show_records", "")
	v.SetDefault("host.override", "")
	v.SetDefault("host.local_host", "")
	v.SetDefault("host.local_url", "")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "archive")
	v.SetDefault("db.backend", BackendNone)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.path", "data/stager.db")
	v.SetDefault("db.table", "staging_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Index.Name == "" {
		return fmt.Errorf("index.name must be set")
	}
	if c.Index.TmpName == c.Index.Name {
		return fmt.Errorf("index.tmp_name must differ from index.name")
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be > 0")
	}
	switch c.Index.Backend {
	case BackendAlgolia:
		if c.Algolia.AppID == "" || c.Algolia.APIKey == "" {
			return fmt.Errorf("algolia.app_id and algolia.api_key must be set for the algolia backend")
		}
	case BackendBleve:
		if c.Index.Root == "" {
			return fmt.Errorf("index.root must be set for the bleve backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("index.backend %q is not one of algolia, bleve, memory", c.Index.Backend)
	}

	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local archive")
			}
		case BackendGCS:
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket must be set for the gcs archive")
			}
		default:
			return fmt.Errorf("archive.backend %q is not one of memory, local, gcs", c.Archive.Backend)
		}
	}

	switch c.DB.Backend {
	case BackendNone, BackendMemory:
	case BackendSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path must be set for the sqlite ledger")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres ledger")
		}
	default:
		return fmt.Errorf("db.backend %q is not one of none, memory, sqlite, postgres", c.DB.Backend)
	}

	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}

// RulesRaw returns the record post-processing settings for rules.Resolve.
func (c Config) RulesRaw() rules.Raw {
	return rules.Raw{
		PagerankRules:      c.Records.PagerankRules,
		AttributesToRemove: c.Records.RemoveAttributes,
		OverrideHost:       c.Host.Override,
		LocalServerHost:    c.Host.LocalHost,
		LocalServerURL:     c.Host.LocalURL,
		MaxBytesPerRecord:  c.Records.MaxRecordBytes,
		ShowRecords:        c.Records.ShowRecords,
	}
}
