package configuration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalOverrideFile is merged on top of the main settings file when present.
const LocalOverrideFile = "settings.local.cfg"

// Config holds INI style settings grouped by section.
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// sectionOrder fixes the layout of generated files.
var sectionOrder = []string{"Server", "Storage", "Terminal", "FileSystem", "Eval", "Network", "Security", "JWT", "TLS", "Debug"}

// Initialize loads the global configuration. A missing file is created
// with defaults. LocalOverrideFile is merged on top when it exists.
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		globalConfig, err = loadWithOverride(configPath, LocalOverrideFile)
	})
	return err
}

func loadWithOverride(configPath, localPath string) (*Config, error) {
	c, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("local override %s: %w", localPath, err)
	}
	local := New()
	if err := local.mergeFile(localPath); err != nil {
		return nil, fmt.Errorf("local override %s: %w", localPath, err)
	}
	c.overlay(local)
	return c, nil
}

// Load reads the configuration at filePath, writing a default file if none exists.
func Load(filePath string) (*Config, error) {
	c := New()
	c.filePath = filePath

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.applyDefaults()
		if err := c.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return c, nil
	}

	if err := c.mergeFile(filePath); err != nil {
		return nil, err
	}
	return c, nil
}

// New returns an empty configuration.
func New() *Config {
	return &Config{settings: make(map[string]map[string]string)}
}

// Parse reads INI content from r into a new configuration.
func Parse(r io.Reader) (*Config, error) {
	c := New()
	if err := c.merge(r); err != nil {
		return nil, err
	}
	return c, nil
}

// SetGlobal replaces the package level configuration. Used by tests and embedders.
func SetGlobal(c *Config) {
	globalConfig = c
}

func (c *Config) mergeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return c.merge(file)
}

// overlay copies every value of o into c.
func (c *Config) overlay(o *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for section, values := range o.settings {
		if c.settings[section] == nil {
			c.settings[section] = make(map[string]string, len(values))
		}
		for k, v := range values {
			c.settings[section][k] = v
		}
	}
}

// merge overlays key/value pairs from r. Later values win.
func (c *Config) merge(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scanner := bufio.NewScanner(r)
	section := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if c.settings[section] == nil {
				c.settings[section] = make(map[string]string)
			}
			continue
		}
		if section == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		c.settings[section][strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return scanner.Err()
}

// applyDefaults fills in every setting the server reads.
func (c *Config) applyDefaults() {
	c.settings["Server"] = map[string]string{
		"host":           "0.0.0.0",
		"port":           "8080",
		"static_dir":     "./static",
		"shutdown_grace": "10s",
		"metrics_path":   "/metrics",
	}
	c.settings["Storage"] = map[string]string{
		"driver":        "sqlite",
		"database_path": "webterm.db",
	}
	c.settings["Terminal"] = map[string]string{
		"prompt":          "$",
		"default_theme":   "cyan",
		"backgrounds":     "gray-800, gray-900, black, blue-900, green-900",
		"default_bg":      "gray-800",
		"default_font":    "base",
		"max_history":     "500",
		"welcome_message": "Welcome to Web Terminal. Type 'help' for available commands.",
	}
	c.settings["FileSystem"] = map[string]string{
		"max_files":        "500",
		"max_file_size_kb": "1024",
	}
	c.settings["Eval"] = map[string]string{
		"max_steps":     "100000",
		"timeout":       "2s",
		"max_result_kb": "64",
		"max_alloc_kb":  "4096",
	}
	c.settings["Network"] = map[string]string{
		"pong_timeout":        "90s",
		"write_wait_timeout":  "10s",
		"max_message_size_kb": "2048",
		"max_channel_buffer":  "256",
		"allowed_origins":     "",
	}
	c.settings["Security"] = map[string]string{
		"rate_limit_per_second": "20",
		"rate_limit_burst":      "40",
		"max_line_length":       "4096",
	}
	c.settings["JWT"] = map[string]string{
		"secret":         "",
		"token_lifetime": "720h",
	}
	c.settings["TLS"] = map[string]string{
		"enabled":       "false",
		"port":          "443",
		"cert_file":     "",
		"key_file":      "",
		"lets_encrypt":  "false",
		"domain":        "",
		"email":         "",
		"cert_cache":    "./certs",
		"redirect_http": "true",
	}
	c.settings["Debug"] = map[string]string{
		"enable_debug_logging": "true",
		"log_level":            "INFO",
		"log_file":             "webterm.log",
		"max_log_size_mb":      "10",
		"log_rotation_count":   "3",
		"log_websocket":        "false",
		"log_terminal":         "false",
		"log_shell":            "true",
		"log_filesystem":       "true",
		"log_storage":          "true",
		"log_auth":             "true",
		"log_security":         "true",
		"log_config":           "true",
		"log_general":          "true",
	}
}

// saveToFile writes the configuration in section order with sorted keys.
func (c *Config) saveToFile() error {
	if c.filePath == "" {
		return fmt.Errorf("configuration has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintln(w, "; Web Terminal configuration")
	fmt.Fprintln(w, "; Generated automatically - modify with care")
	fmt.Fprintln(w)

	written := make(map[string]bool)
	writeSection := func(name string) {
		values, ok := c.settings[name]
		if !ok {
			return
		}
		written[name] = true
		fmt.Fprintf(w, "[%s]\n", name)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s = %s\n", k, values[k])
		}
		fmt.Fprintln(w)
	}
	for _, name := range sectionOrder {
		writeSection(name)
	}
	// Sections added at runtime go last
	var extra []string
	for name := range c.settings {
		if !written[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		writeSection(name)
	}
	return w.Flush()
}

// String returns the raw value or defaultValue.
func (c *Config) String(section, key, defaultValue string) string {
	if c == nil {
		return defaultValue
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if values, ok := c.settings[section]; ok {
		if v, ok := values[key]; ok {
			return v
		}
	}
	return defaultValue
}

// Set stores a value, creating the section when needed.
func (c *Config) Set(section, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings[section] == nil {
		c.settings[section] = make(map[string]string)
	}
	c.settings[section][key] = value
}

// GetString returns a string value from the global configuration.
func GetString(section, key, defaultValue string) string {
	return globalConfig.String(section, key, defaultValue)
}

// GetInt returns an integer value, or defaultValue if unset or malformed.
func GetInt(section, key string, defaultValue int) int {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(str); err == nil {
		return value
	}
	return defaultValue
}

// GetFloat returns a float value, or defaultValue if unset or malformed.
func GetFloat(section, key string, defaultValue float64) float64 {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseFloat(str, 64); err == nil {
		return value
	}
	return defaultValue
}

// GetBool returns a boolean value, or defaultValue if unset or malformed.
func GetBool(section, key string, defaultValue bool) bool {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(str); err == nil {
		return value
	}
	return defaultValue
}

// GetDuration returns a duration value, or defaultValue if unset or malformed.
func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(str); err == nil {
		return value
	}
	return defaultValue
}

// GetList splits a comma separated value. Empty items are dropped.
func GetList(section, key string, defaultValue []string) []string {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(str, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetSection returns a copy of all key-value pairs in a section.
func GetSection(sectionName string) map[string]string {
	result := make(map[string]string)
	if globalConfig == nil {
		return result
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	for key, value := range globalConfig.settings[sectionName] {
		result[key] = value
	}
	return result
}

// SetString sets a value in the global configuration.
func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}
	globalConfig.Set(section, key, value)
}

// Save writes the global configuration back to its file.
func Save() error {
	if globalConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	return globalConfig.saveToFile()
}
