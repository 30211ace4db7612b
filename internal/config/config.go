// Package config loads the service configuration from a TOML file pointed at
// by GEOSYNCSRV_CONFIG, falling back to ./geosyncsrv.toml. Config() is safe
// for concurrent use after Load has run.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Address    string `toml:"address"`
	HandleCORS bool   `toml:"handle_cors"`
}

type DatabaseConfig struct {
	// DSN of the catalog store holding the domain entities.
	CatalogDSN string `toml:"catalog_dsn"`
	// DSN of the feature store the ingestion pipeline writes vector tables to.
	FeatureDSN string `toml:"feature_dsn"`
	// Role granted read access on ingested tables (the map engine's account).
	MapReaderRole string `toml:"map_reader_role"`
}

type CkanConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	// StorageRoot is the directory resource uploads are staged under.
	StorageRoot string        `toml:"storage_root"`
	Timeout     Duration      `toml:"timeout"`
}

type CswConfig struct {
	URL      string        `toml:"url"`
	Username string        `toml:"username"`
	Password string        `toml:"password"`
	Timeout  Duration `toml:"timeout"`
}

type MraConfig struct {
	URL      string        `toml:"url"`
	Username string        `toml:"username"`
	Password string        `toml:"password"`
	Timeout  Duration `toml:"timeout"`
	// Datastore is the PostGIS connection the map engine reads ingested
	// vector tables through; it matches the feature store database.
	Datastore DatastoreConfig `toml:"datastore"`
}

type DatastoreConfig struct {
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Schema   string `toml:"schema"`
}

type RedisConfig struct {
	Address string        `toml:"address"`
	TTL     Duration `toml:"ttl"`
}

type HarvestConfig struct {
	// User harvested datasets are attributed to as editor.
	User string `toml:"user"`
}

type ExtractorConfig struct {
	URL     string        `toml:"url"`
	Timeout Duration `toml:"timeout"`
	// PollInterval controls how often open extraction jobs are refreshed.
	PollInterval Duration `toml:"poll_interval"`
}

type NotifyConfig struct {
	// WebhookURL receives event notifications; empty disables delivery.
	WebhookURL string `toml:"webhook_url"`
}

type TasksConfig struct {
	Interval Duration `toml:"interval"`
	Workers  int      `toml:"workers"`
}

type IngestConfig struct {
	// MaxLayers bounds the number of layers one archive may contain.
	MaxLayers int `toml:"max_layers"`
	// MaxBytes bounds the uncompressed size of one upload.
	MaxBytes int64 `toml:"max_bytes"`
	// Proj4Lookup is the path of the proj.4 -> EPSG lookup file used as the
	// last resort of SRS resolution.
	Proj4Lookup string `toml:"proj4_lookup"`
}

type config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Ckan      CkanConfig      `toml:"ckan"`
	Csw       CswConfig       `toml:"csw"`
	Mra       MraConfig       `toml:"mra"`
	Redis     RedisConfig     `toml:"redis"`
	Harvest   HarvestConfig   `toml:"harvest"`
	Extractor ExtractorConfig `toml:"extractor"`
	Notify    NotifyConfig    `toml:"notify"`
	Tasks     TasksConfig     `toml:"tasks"`
	Ingest    IngestConfig    `toml:"ingest"`
	// PartnerGroup is the catalog group mirroring partner profiles.
	PartnerGroup string `toml:"partner_group"`
	// DefaultLicense is the platform-wide license slug used when harvest
	// license resolution finds nothing.
	DefaultLicense string `toml:"default_license"`
}

var (
	mu  sync.RWMutex
	cfg = defaults()
)

func defaults() *config {
	return &config{
		Server:   ServerConfig{Address: ":8040"},
		Database: DatabaseConfig{MapReaderRole: "mra_reader"},
		Ckan:     CkanConfig{Timeout: Duration(36000 * time.Second), StorageRoot: "/var/lib/geosyncsrv/storage"},
		Csw:      CswConfig{Timeout: Duration(36000 * time.Second)},
		Mra: MraConfig{
			Timeout: Duration(60 * time.Second),
			Datastore: DatastoreConfig{
				Name:   "geodata",
				Host:   "localhost",
				Port:   5432,
				Schema: "public",
			},
		},
		Redis:    RedisConfig{Address: "localhost:6379", TTL: Duration(300 * time.Second)},
		Harvest:  HarvestConfig{User: "harvester"},
		Extractor: ExtractorConfig{
			Timeout:      Duration(60 * time.Second),
			PollInterval: Duration(time.Minute),
		},
		Tasks:        TasksConfig{Interval: Duration(30 * time.Second), Workers: 4},
		PartnerGroup: "partners",
		Ingest: IngestConfig{
			MaxLayers: 10,
			MaxBytes:  1 << 30,
		},
		DefaultLicense: "notspecified",
	}
}

// Load reads the configuration file at path, or the default locations when
// path is empty. Unset fields keep their defaults.
func Load(path string) error {
	if path == "" {
		path = os.Getenv("GEOSYNCSRV_CONFIG")
	}
	if path == "" {
		path = "geosyncsrv.toml"
	}
	c := defaults()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}
	mu.Lock()
	cfg = c
	mu.Unlock()
	return nil
}

func Config() *config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Set replaces the whole configuration. Tests only.
func Set(mutate func(c *config)) {
	mu.Lock()
	defer mu.Unlock()
	c := *cfg
	mutate(&c)
	cfg = &c
}
