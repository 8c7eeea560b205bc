package config

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL         = "http://127.0.0.1:7333"
	DefaultDBFileName     = ".recink.db"
	DefaultStorageDirName = ".recink-storage"
	DefaultAPIKey         = "test_12345"

	DefaultPresignTTLSeconds      = 600
	DefaultPresignMaxItems        = 10
	DefaultUploadMaxBytes   int64 = 100 * 1024 * 1024
	DefaultGCBatchSize            = 500

	configFileName  = ".recink.toml"
	configDirEnvKey = "RECINK_CONFIG_DIR"
)

// UploadConfig defines runtime configuration for upload handling.
type UploadConfig struct {
	PresignTTLSeconds int      `toml:"presign_ttl_seconds"`
	PresignMaxItems   int      `toml:"presign_max_items"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes"`
	AllowedMediaTypes []string `toml:"allowed_media_types"`
	GCBatchSize       int      `toml:"gc_batch_size"`
}

// Config defines runtime configuration for recink.
type Config struct {
	APIURL     string       `toml:"api_url"`
	APIKey     string       `toml:"api_key"`
	APIKeyHash string       `toml:"api_key_hash"`
	DBPath     string       `toml:"db_path"`
	StorageDir string       `toml:"storage_dir"`
	Uploads    UploadConfig `toml:"uploads"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL: DefaultAPIURL,
		APIKey: DefaultAPIKey,
		Uploads: UploadConfig{
			PresignTTLSeconds: DefaultPresignTTLSeconds,
			PresignMaxItems:   DefaultPresignMaxItems,
			MaxUploadBytes:    DefaultUploadMaxBytes,
			GCBatchSize:       DefaultGCBatchSize,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

var allowedKeys = []string{
	"api_url",
	"api_key",
	"api_key_hash",
	"db_path",
	"storage_dir",
	"uploads.presign_ttl_seconds",
	"uploads.presign_max_items",
	"uploads.max_upload_bytes",
	"uploads.allowed_media_types",
	"uploads.gc_batch_size",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "api_key":
		return c.APIKey, nil
	case "api_key_hash":
		return c.APIKeyHash, nil
	case "db_path":
		return c.DBPath, nil
	case "storage_dir":
		return c.StorageDir, nil
	case "uploads.presign_ttl_seconds":
		return strconv.Itoa(c.Uploads.PresignTTLSeconds), nil
	case "uploads.presign_max_items":
		return strconv.Itoa(c.Uploads.PresignMaxItems), nil
	case "uploads.max_upload_bytes":
		return strconv.FormatInt(c.Uploads.MaxUploadBytes, 10), nil
	case "uploads.allowed_media_types":
		return strings.Join(c.Uploads.AllowedMediaTypes, ","), nil
	case "uploads.gc_batch_size":
		return strconv.Itoa(c.Uploads.GCBatchSize), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from the global file and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := GlobalPath()
	if err == nil {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.StorageDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.StorageDir = filepath.Join(cwd, DefaultStorageDirName)
		}
	}

	if apiURL := os.Getenv("RECINK_API_URL"); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if apiKey := os.Getenv("RECINK_API_KEY"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	if dbPath := os.Getenv("RECINK_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if storageDir := os.Getenv("RECINK_STORAGE_DIR"); storageDir != "" {
		cfg.StorageDir = storageDir
	}
	if raw := strings.TrimSpace(os.Getenv("RECINK_ALLOWED_MEDIA_TYPES")); raw != "" {
		cfg.Uploads.AllowedMediaTypes = splitCSV(raw)
	}

	cfg.normalizeUploadDefaults()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "uploads.presign_ttl_seconds", "uploads.presign_max_items", "uploads.gc_batch_size":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "uploads.max_upload_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "uploads.allowed_media_types":
		return splitCSV(value), nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func (c *Config) normalizeUploadDefaults() {
	if c.Uploads.PresignTTLSeconds <= 0 {
		c.Uploads.PresignTTLSeconds = DefaultPresignTTLSeconds
	}
	if c.Uploads.PresignMaxItems <= 0 {
		c.Uploads.PresignMaxItems = DefaultPresignMaxItems
	}
	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultUploadMaxBytes
	}
	if c.Uploads.GCBatchSize <= 0 {
		c.Uploads.GCBatchSize = DefaultGCBatchSize
	}
	c.Uploads.AllowedMediaTypes = normalizeConfiguredMediaTypes(c.Uploads.AllowedMediaTypes)
}

func normalizeConfiguredMediaTypes(rawValues []string) []string {
	if len(rawValues) == 0 {
		return nil
	}
	out := make([]string, 0, len(rawValues))
	seen := map[string]struct{}{}
	for _, raw := range rawValues {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parsed, _, err := mime.ParseMediaType(raw)
		if err != nil {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(parsed))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
