package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gitlab.com/tozd/go/errors"
)

// ErrConfiguration is returned when required credentials or settings are absent
var ErrConfiguration = errors.Base("configuration error")

// ConfigFileEnv names the environment variable pointing at an optional TOML file
const ConfigFileEnv = "IMAGE_SYNC_CONFIG"

// Config holds all configuration for the application
type Config struct {
	Metadata    MetadataConfig    `toml:"metadata"`
	Source      SourceConfig      `toml:"source"`
	Destination DestinationConfig `toml:"destination"`
	Sync        SyncConfig        `toml:"sync"`
	History     HistoryConfig     `toml:"history"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
}

// MetadataConfig holds settings for the property metadata store
type MetadataConfig struct {
	Type           string `toml:"type"` // "airtable", "d1"
	AirtableToken  string `toml:"airtable_token"`
	AirtableBaseID string `toml:"airtable_base_id"`
	AirtableTable  string `toml:"airtable_table"`
	AirtableAPIURL string `toml:"airtable_api_url"`
	FolderField    string `toml:"folder_field"`
	SlugField      string `toml:"slug_field"`
	TitleField     string `toml:"title_field"`
	ImageField     string `toml:"image_field"`
	D1URL          string `toml:"d1_url"`
	D1Token        string `toml:"d1_token"`
	D1Table        string `toml:"d1_table"`
	PageSize       int    `toml:"page_size"`
}

// SourceConfig holds Google Drive settings
type SourceConfig struct {
	DriveAPIKey        string `toml:"drive_api_key"`
	ServiceAccountJSON string `toml:"service_account_json"`
	DriveEndpoint      string `toml:"drive_endpoint"` // Custom Drive API base URL for local testing
	ListEndpoint       string `toml:"list_endpoint"`
}

// DestinationConfig holds object store settings
type DestinationConfig struct {
	Type          string `toml:"type"` // "s3", "minio", "memory"
	Endpoint      string `toml:"endpoint"`
	Region        string `toml:"region"`
	Bucket        string `toml:"bucket"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	PublicBaseURL string `toml:"public_base_url"`
}

// SyncConfig holds run-level settings
type SyncConfig struct {
	Interval      time.Duration `toml:"interval"`
	CallTimeout   time.Duration `toml:"call_timeout"`
	RecordWorkers int           `toml:"record_workers"`
	FileWorkers   int           `toml:"file_workers"`
	LeaseTTL      time.Duration `toml:"lease_ttl"`
}

// HistoryConfig holds run history storage settings
type HistoryConfig struct {
	Type          string `toml:"type"` // "memory", "dynamodb", "mongodb", "postgresql", "sqlite"
	Region        string `toml:"region"`
	TableName     string `toml:"table_name"`
	Endpoint      string `toml:"endpoint"` // Custom endpoint for local DynamoDB
	MongoDBURI    string `toml:"mongodb_uri"`
	MongoDatabase string `toml:"mongodb_database"`
	PostgresURI   string `toml:"postgres_uri"`
	SQLitePath    string `toml:"sqlite_path"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port   int    `toml:"port"`
	Secret string `toml:"secret"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console", "json"
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Metadata: MetadataConfig{
			Type:           "airtable",
			AirtableTable:  "Properties",
			AirtableAPIURL: "https://api.airtable.com",
			FolderField:    "Image Folder URL",
			SlugField:      "Slug",
			TitleField:     "Title",
			ImageField:     "R2 Images",
			D1Table:        "properties",
			PageSize:       100,
		},
		Destination: DestinationConfig{
			Type:   "s3",
			Region: "auto",
		},
		Sync: SyncConfig{
			Interval:      6 * time.Hour,
			CallTimeout:   30 * time.Second,
			RecordWorkers: 1,
			FileWorkers:   1,
		},
		History: HistoryConfig{
			Type:          "memory",
			Region:        "us-west-2",
			TableName:     "image_sync_runs",
			MongoDatabase: "image_sync",
			SQLitePath:    "image-sync.db",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from an optional TOML file and environment
// variables, with environment values taking precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, errors.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	m := &cfg.Metadata
	m.Type = getEnv("METADATA_TYPE", m.Type)
	m.AirtableToken = getEnv("AIRTABLE_TOKEN", m.AirtableToken)
	m.AirtableBaseID = getEnv("AIRTABLE_BASE_ID", m.AirtableBaseID)
	m.AirtableTable = getEnv("AIRTABLE_TABLE_NAME", m.AirtableTable)
	m.AirtableAPIURL = getEnv("AIRTABLE_API_URL", m.AirtableAPIURL)
	m.FolderField = getEnv("AIRTABLE_IMAGE_FOLDER_FIELD", m.FolderField)
	m.ImageField = getEnv("AIRTABLE_R2_IMAGE_FIELD", m.ImageField)
	m.D1URL = getEnv("D1_REST_API_URL", m.D1URL)
	m.D1Token = getEnv("D1_REST_API_TOKEN", m.D1Token)
	m.D1Table = getEnv("D1_TABLE_NAME", m.D1Table)
	m.PageSize = getEnvInt("METADATA_PAGE_SIZE", m.PageSize)

	s := &cfg.Source
	s.DriveAPIKey = getEnv("GOOGLE_DRIVE_API_KEY", s.DriveAPIKey)
	s.ServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", s.ServiceAccountJSON)
	s.DriveEndpoint = getEnv("GOOGLE_DRIVE_ENDPOINT", s.DriveEndpoint)
	s.ListEndpoint = getEnv("DRIVE_LIST_ENDPOINT", s.ListEndpoint)

	d := &cfg.Destination
	d.Type = getEnv("DEST_TYPE", d.Type)
	d.Endpoint = getEnv("R2_ENDPOINT", d.Endpoint)
	d.Region = getEnv("R2_REGION", d.Region)
	d.Bucket = getEnv("R2_BUCKET", d.Bucket)
	d.AccessKey = getEnv("R2_ACCESS_KEY_ID", d.AccessKey)
	d.SecretKey = getEnv("R2_SECRET_ACCESS_KEY", d.SecretKey)
	d.PublicBaseURL = getEnv("R2_PUBLIC_BASE_URL", d.PublicBaseURL)

	y := &cfg.Sync
	y.Interval = getEnvDuration("SYNC_INTERVAL", y.Interval)
	y.CallTimeout = getEnvDuration("SYNC_CALL_TIMEOUT", y.CallTimeout)
	y.RecordWorkers = getEnvInt("SYNC_RECORD_WORKERS", y.RecordWorkers)
	y.FileWorkers = getEnvInt("SYNC_FILE_WORKERS", y.FileWorkers)
	y.LeaseTTL = getEnvDuration("SYNC_LEASE_TTL", y.LeaseTTL)

	h := &cfg.History
	h.Type = getEnv("HISTORY_TYPE", h.Type)
	h.Region = getEnv("AWS_REGION", h.Region)
	h.TableName = getEnv("HISTORY_TABLE_NAME", h.TableName)
	h.Endpoint = getEnv("DYNAMODB_ENDPOINT", h.Endpoint) // For local DynamoDB
	h.MongoDBURI = getEnv("MONGODB_URI", h.MongoDBURI)
	h.MongoDatabase = getEnv("MONGODB_DATABASE", h.MongoDatabase)
	h.PostgresURI = getEnv("POSTGRES_URI", h.PostgresURI)
	h.SQLitePath = getEnv("SQLITE_PATH", h.SQLitePath)

	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Secret = getEnv("SYNC_SECRET", cfg.Server.Secret)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// Validate reports every missing credential needed for a sync run.
// The returned error wraps ErrConfiguration.
func (c *Config) Validate() error {
	var missing []string
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	switch c.Metadata.Type {
	case "airtable":
		require(c.Metadata.AirtableToken, "AIRTABLE_TOKEN")
		require(c.Metadata.AirtableBaseID, "AIRTABLE_BASE_ID")
	case "d1":
		require(c.Metadata.D1URL, "D1_REST_API_URL")
		require(c.Metadata.D1Token, "D1_REST_API_TOKEN")
	default:
		return errors.Errorf("%w: unsupported metadata type: %s", ErrConfiguration, c.Metadata.Type)
	}

	if c.Source.DriveAPIKey == "" && c.Source.ServiceAccountJSON == "" && c.Source.ListEndpoint == "" {
		missing = append(missing, "GOOGLE_DRIVE_API_KEY or GOOGLE_SERVICE_ACCOUNT_JSON or DRIVE_LIST_ENDPOINT")
	}

	switch c.Destination.Type {
	case "s3", "minio":
		require(c.Destination.Endpoint, "R2_ENDPOINT")
		require(c.Destination.Bucket, "R2_BUCKET")
		require(c.Destination.AccessKey, "R2_ACCESS_KEY_ID")
		require(c.Destination.SecretKey, "R2_SECRET_ACCESS_KEY")
	case "memory":
	default:
		return errors.Errorf("%w: unsupported destination type: %s", ErrConfiguration, c.Destination.Type)
	}

	if len(missing) > 0 {
		return errors.Errorf("%w: missing environment values: %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
