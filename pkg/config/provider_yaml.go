package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"github.com/chrissnell/drynomore/internal/protocol"
)

const (
	DefaultQueueSize       = 64
	DefaultManagementPort  = 8081
	DefaultPersistSchedule = "@every 10m"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData

	// guards writes of filename
	mu sync.Mutex
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// supervisorYAML is the file layout. Keys stay compatible with existing
// supervisor configuration files.
type supervisorYAML struct {
	Token                    string            `yaml:"token"`
	TCPPort                  int               `yaml:"tcp_port,omitempty"`
	ListenAddr               string            `yaml:"listen_addr,omitempty"`
	QueueSize                int               `yaml:"queue_size,omitempty"`
	UserWhitelist            []int64           `yaml:"user_whitelist"`
	UserChats                []int64           `yaml:"user_chats"`
	LastKnownSettings        *SettingsYAML     `yaml:"lastKnownSettings,omitempty"`
	LastKnownSettingsVersion *uint64           `yaml:"lastKnownSettingsVersion,omitempty"`
	PersistSchedule          string            `yaml:"persist_schedule,omitempty"`
	Management               ManagementAPIYAML `yaml:"management,omitempty"`
	Storage                  StorageYAML       `yaml:"storage,omitempty"`
	MQTT                     *MQTTYAML         `yaml:"mqtt,omitempty"`
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := ParseSupervisorConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", y.filename, err)
	}

	y.config = config
	return config, nil
}

// ParseSupervisorConfig decodes, defaults and validates a supervisor
// configuration document.
func ParseSupervisorConfig(data []byte) (*ConfigData, error) {
	var yamlConfig supervisorYAML
	if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Token:           yamlConfig.Token,
		TCPPort:         yamlConfig.TCPPort,
		ListenAddr:      yamlConfig.ListenAddr,
		QueueSize:       yamlConfig.QueueSize,
		UserWhitelist:   yamlConfig.UserWhitelist,
		UserChats:       yamlConfig.UserChats,
		PersistSchedule: yamlConfig.PersistSchedule,
		Management: ManagementAPIData{
			Cert:       yamlConfig.Management.Cert,
			Key:        yamlConfig.Management.Key,
			Port:       yamlConfig.Management.Port,
			ListenAddr: yamlConfig.Management.ListenAddr,
			AuthToken:  yamlConfig.Management.AuthToken,
			EnableCORS: yamlConfig.Management.EnableCORS,
		},
	}

	// Settings of another layout version are ignored; the supervisor then
	// waits for the node to upload its own.
	if yamlConfig.LastKnownSettings != nil && yamlConfig.LastKnownSettingsVersion != nil &&
		*yamlConfig.LastKnownSettingsVersion == protocol.SettingsVersion {
		set, err := yamlConfig.LastKnownSettings.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: lastKnownSettings: %v", ErrInvalidConfig, err)
		}
		config.Settings = &set
	}

	// Convert storage
	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{Path: yamlConfig.Storage.SQLite.Path}
	}
	if yamlConfig.Storage.TimescaleDB != nil {
		config.Storage.TimescaleDB = &TimescaleDBData{
			ConnectionString: yamlConfig.Storage.TimescaleDB.ConnectionString,
		}
	}
	if yamlConfig.Storage.InfluxDB != nil {
		config.Storage.InfluxDB = &InfluxDBData{
			URL:    yamlConfig.Storage.InfluxDB.URL,
			Token:  yamlConfig.Storage.InfluxDB.Token,
			Org:    yamlConfig.Storage.InfluxDB.Org,
			Bucket: yamlConfig.Storage.InfluxDB.Bucket,
		}
	}

	if yamlConfig.MQTT != nil {
		config.MQTT = &MQTTData{
			Broker:      yamlConfig.MQTT.Broker,
			TopicPrefix: yamlConfig.MQTT.TopicPrefix,
			ClientID:    yamlConfig.MQTT.ClientID,
			Username:    yamlConfig.MQTT.Username,
			Password:    yamlConfig.MQTT.Password,
		}
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *ConfigData) applyDefaults() {
	if c.TCPPort == 0 {
		c.TCPPort = protocol.DefaultPort
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Management.Port == 0 {
		c.Management.Port = DefaultManagementPort
	}
	if c.Management.AuthToken == "" {
		c.Management.AuthToken = c.Token
	}
	if c.PersistSchedule == "" {
		c.PersistSchedule = DefaultPersistSchedule
	}
}

// Validate checks ranges and required values.
func (c *ConfigData) Validate() error {
	if c.Token == "" && c.Management.AuthToken == "" {
		return fmt.Errorf("%w: missing 'token'", ErrInvalidConfig)
	}
	if c.TCPPort < 1 || c.TCPPort > 65535 {
		return fmt.Errorf("%w: tcp_port %d out of range", ErrInvalidConfig, c.TCPPort)
	}
	if c.Management.Port < 1 || c.Management.Port > 65535 {
		return fmt.Errorf("%w: management port %d out of range", ErrInvalidConfig, c.Management.Port)
	}
	if (c.Management.Cert == "") != (c.Management.Key == "") {
		return fmt.Errorf("%w: management cert and key must be set together", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if _, err := cron.ParseStandard(c.PersistSchedule); err != nil {
		return fmt.Errorf("%w: persist_schedule %q: %v", ErrInvalidConfig, c.PersistSchedule, err)
	}
	if c.Settings != nil {
		if err := c.Settings.Validate(); err != nil {
			return fmt.Errorf("%w: lastKnownSettings: %v", ErrInvalidConfig, err)
		}
	}
	if c.Storage.InfluxDB != nil && c.Storage.InfluxDB.URL != "" &&
		(c.Storage.InfluxDB.Org == "" || c.Storage.InfluxDB.Bucket == "") {
		return fmt.Errorf("%w: influxdb needs org and bucket", ErrInvalidConfig)
	}
	if c.MQTT != nil && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt section without broker", ErrInvalidConfig)
	}
	return nil
}

// GetStorageConfig returns storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return &y.config.Storage, nil
}

// GetManagementAPI returns the management API configuration
func (y *YAMLProvider) GetManagementAPI() (*ManagementAPIData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return &y.config.Management, nil
}

// SaveState rewrites the configuration file with the current settings and
// subscriber list. Keys this package does not know are kept as they are.
func (y *YAMLProvider) SaveState(set *protocol.Settings, subscribers []int64) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return err
	}
	out, err := UpdateDocument(cfgFile, set, subscribers)
	if err != nil {
		return fmt.Errorf("%v: %w", y.filename, err)
	}
	return writeFileAtomic(y.filename, out)
}

// UpdateDocument replaces user_chats and, when set is not nil, the
// lastKnownSettings pair in a YAML document. Order and unknown keys of the
// document are preserved.
func UpdateDocument(doc []byte, set *protocol.Settings, subscribers []int64) ([]byte, error) {
	var root yaml.MapSlice
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, err
	}

	chats := subscribers
	if chats == nil {
		chats = []int64{}
	}
	root = setKey(root, "user_chats", chats)
	if set != nil {
		root = setKey(root, "lastKnownSettingsVersion", uint64(protocol.SettingsVersion))
		root = setKey(root, "lastKnownSettings", EncodeSettings(*set))
	}
	return yaml.Marshal(root)
}

func setKey(m yaml.MapSlice, key string, value interface{}) yaml.MapSlice {
	for i := range m {
		if k, ok := m[i].Key.(string); ok && k == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, yaml.MapItem{Key: key, Value: value})
}

func writeFileAtomic(filename string, data []byte) error {
	mode := os.FileMode(0600)
	if fi, err := os.Stat(filename); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// IsReadOnly returns false; settings and subscribers are written back
func (y *YAMLProvider) IsReadOnly() bool {
	return false
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags
type StorageYAML struct {
	SQLite      *SQLiteYAML      `yaml:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBYAML `yaml:"timescaledb,omitempty"`
	InfluxDB    *InfluxDBYAML    `yaml:"influxdb,omitempty"`
}

type SQLiteYAML struct {
	Path string `yaml:"path"`
}

type TimescaleDBYAML struct {
	ConnectionString string `yaml:"connection_string"`
}

type InfluxDBYAML struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token,omitempty"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type MQTTYAML struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

type ManagementAPIYAML struct {
	Cert       string `yaml:"cert,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
	AuthToken  string `yaml:"auth_token,omitempty"`
	EnableCORS bool   `yaml:"enable_cors,omitempty"`
}
