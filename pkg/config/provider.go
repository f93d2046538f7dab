package config

import (
	"github.com/chrissnell/drynomore/internal/protocol"
)

// ConfigProvider defines the interface for supervisor configuration sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetStorageConfig() (*StorageData, error)
	GetManagementAPI() (*ManagementAPIData, error)

	// SaveState writes the mirrored node settings and the subscriber list
	// back to the source. A nil settings pointer leaves the stored settings
	// untouched.
	SaveState(set *protocol.Settings, subscribers []int64) error

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete supervisor configuration
type ConfigData struct {
	// Token is the shared secret operators present to the management API.
	Token      string `json:"token,omitempty"`
	TCPPort    int    `json:"tcp_port"`
	ListenAddr string `json:"listen_addr,omitempty"`
	QueueSize  int    `json:"queue_size"`

	UserWhitelist []int64 `json:"user_whitelist,omitempty"`
	UserChats     []int64 `json:"user_chats,omitempty"`

	// Settings is nil unless the file held settings of the current version.
	Settings *protocol.Settings `json:"last_known_settings,omitempty"`

	PersistSchedule string            `json:"persist_schedule"`
	Management      ManagementAPIData `json:"management"`
	Storage         StorageData       `json:"storage,omitempty"`
	MQTT            *MQTTData         `json:"mqtt,omitempty"`
}

// StorageData holds the configuration for the history backends
type StorageData struct {
	SQLite      *SQLiteData      `json:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty"`
	InfluxDB    *InfluxDBData    `json:"influxdb,omitempty"`
}

// Storage backend configuration structs
type SQLiteData struct {
	Path string `json:"path"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string"`
}

type InfluxDBData struct {
	URL    string `json:"url"`
	Token  string `json:"token,omitempty"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// MQTTData configures the MQTT notification sink
type MQTTData struct {
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

type ManagementAPIData struct {
	Cert       string `json:"cert,omitempty"`
	Key        string `json:"key,omitempty"`
	Port       int    `json:"port,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	EnableCORS bool   `json:"enable_cors,omitempty"`
}
