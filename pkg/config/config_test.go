package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/chrissnell/drynomore/internal/protocol"
)

const minimalSupervisor = `
token: "secret"
user_whitelist: [1001, 1002]
user_chats: [1001]
`

func TestSupervisorDefaults(t *testing.T) {
	c, err := ParseSupervisorConfig([]byte(minimalSupervisor))
	if err != nil {
		t.Fatal(err)
	}
	if c.TCPPort != protocol.DefaultPort {
		t.Errorf("tcp_port = %d, want %d", c.TCPPort, protocol.DefaultPort)
	}
	if c.QueueSize != DefaultQueueSize || c.Management.Port != DefaultManagementPort {
		t.Errorf("queue %d / management port %d", c.QueueSize, c.Management.Port)
	}
	if c.Management.AuthToken != "secret" {
		t.Errorf("management token should fall back to token, got %q", c.Management.AuthToken)
	}
	if c.PersistSchedule != DefaultPersistSchedule {
		t.Errorf("persist_schedule = %q", c.PersistSchedule)
	}
	if c.Settings != nil {
		t.Errorf("no settings expected, got %+v", c.Settings)
	}
	if len(c.UserWhitelist) != 2 || len(c.UserChats) != 1 || c.UserChats[0] != 1001 {
		t.Errorf("users = %v / %v", c.UserWhitelist, c.UserChats)
	}
}

func TestSupervisorValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing token", "user_chats: []\n"},
		{"port out of range", "token: x\ntcp_port: 70000\n"},
		{"bad schedule", "token: x\npersist_schedule: \"every now and then\"\n"},
		{"cert without key", "token: x\nmanagement:\n  cert: a.pem\n"},
		{"influx without bucket", "token: x\nstorage:\n  influxdb:\n    url: http://localhost:8086\n    org: home\n"},
		{"mqtt without broker", "token: x\nmqtt:\n  topic_prefix: plants\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSupervisorConfig([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStorageAndMQTTSections(t *testing.T) {
	doc := `
token: x
storage:
  sqlite:
    path: /var/lib/drynomore/history.db
  timescaledb:
    connection_string: "host=db user=plants"
  influxdb:
    url: http://influx:8086
    token: abc
    org: home
    bucket: plants
mqtt:
  broker: tcp://mqtt:1883
  topic_prefix: greenhouse
`
	c, err := ParseSupervisorConfig([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if c.Storage.SQLite == nil || c.Storage.SQLite.Path != "/var/lib/drynomore/history.db" {
		t.Errorf("sqlite = %+v", c.Storage.SQLite)
	}
	if c.Storage.TimescaleDB == nil || c.Storage.TimescaleDB.ConnectionString != "host=db user=plants" {
		t.Errorf("timescaledb = %+v", c.Storage.TimescaleDB)
	}
	if c.Storage.InfluxDB == nil || c.Storage.InfluxDB.Bucket != "plants" || c.Storage.InfluxDB.Token != "abc" {
		t.Errorf("influxdb = %+v", c.Storage.InfluxDB)
	}
	if c.MQTT == nil || c.MQTT.Broker != "tcp://mqtt:1883" || c.MQTT.TopicPrefix != "greenhouse" {
		t.Errorf("mqtt = %+v", c.MQTT)
	}
}

func sampleSettings() protocol.Settings {
	s := protocol.DefaultSettings()
	s.NumPlants = 3
	s.Skip = protocol.PlantSetFromBools([]bool{false, true, false, true, true, true})
	s.WaterChannelMap.Set(2, true)
	s.SensorRanges[1] = protocol.SensorRange{MinRaw: 101, MaxRaw: 501}
	s.WaterThresholds[1] = protocol.WaterLevelThresholds{WarnPercent: 49, EmptyPercent: 11}
	s.TargetMoisture[0] = 65
	s.TicksBetweenIrrigation[2] = 3
	s.Debug = true
	return s
}

func TestSettingsRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.yaml")
	doc := minimalSupervisor + "custom_key: keep me\n"
	if err := os.WriteFile(path, []byte(doc), 0640); err != nil {
		t.Fatal(err)
	}

	p := NewYAMLProvider(path)
	set := sampleSettings()
	if err := p.SaveState(&set, []int64{1001, 1002}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "custom_key: keep me") {
		t.Errorf("unknown key lost:\n%s", raw)
	}
	if fi, _ := os.Stat(path); fi.Mode().Perm() != 0640 {
		t.Errorf("file mode changed to %v", fi.Mode().Perm())
	}

	c, err := NewYAMLProvider(path).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if c.Settings == nil {
		t.Fatal("settings were not reloaded")
	}
	if *c.Settings != set {
		t.Errorf("reloaded settings differ:\n got %+v\nwant %+v", *c.Settings, set)
	}
	if len(c.UserChats) != 2 || c.UserChats[1] != 1002 {
		t.Errorf("user_chats = %v", c.UserChats)
	}
}

func TestSaveStateWithoutSettingsKeepsStoredSettings(t *testing.T) {
	set := sampleSettings()
	doc, err := UpdateDocument([]byte(minimalSupervisor), &set, nil)
	if err != nil {
		t.Fatal(err)
	}
	doc, err = UpdateDocument(doc, nil, []int64{7})
	if err != nil {
		t.Fatal(err)
	}
	c, err := ParseSupervisorConfig(doc)
	if err != nil {
		t.Fatal(err)
	}
	if c.Settings == nil || *c.Settings != set {
		t.Errorf("settings = %+v", c.Settings)
	}
	if len(c.UserChats) != 1 || c.UserChats[0] != 7 {
		t.Errorf("user_chats = %v", c.UserChats)
	}
}

func TestSettingsVersionGate(t *testing.T) {
	set := sampleSettings()
	doc, err := UpdateDocument([]byte(minimalSupervisor), &set, nil)
	if err != nil {
		t.Fatal(err)
	}

	var root yaml.MapSlice
	if err := yaml.Unmarshal(doc, &root); err != nil {
		t.Fatal(err)
	}
	root = setKey(root, "lastKnownSettingsVersion", 15)
	doc, err = yaml.Marshal(root)
	if err != nil {
		t.Fatal(err)
	}

	c, err := ParseSupervisorConfig(doc)
	if err != nil {
		t.Fatal(err)
	}
	if c.Settings != nil {
		t.Errorf("settings of another version were loaded: %+v", c.Settings)
	}
}

func TestSettingsDecodeRejectsShortLists(t *testing.T) {
	y := EncodeSettings(sampleSettings())
	y.BurstDelay = y.BurstDelay[:4]
	if _, err := y.Decode(); err == nil || !strings.Contains(err.Error(), "burstDelay") {
		t.Errorf("err = %v", err)
	}

	y = EncodeSettings(sampleSettings())
	y.SensConf = y.SensConf[:7]
	if _, err := y.Decode(); err == nil {
		t.Error("short sensConf accepted")
	}
}

func TestNodeConfig(t *testing.T) {
	doc := `
supervisor_addr: 192.168.1.10
sleep_period: 30m
io:
  backend: serial
  serial_device: /dev/ttyUSB0
timing:
  measure_delay: 100ms
  power_on_delay: 1s
  adc_measurements: 7
link_timeout: 5s
`
	n, err := ParseNodeConfig([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if n.SleepPeriod != 30*time.Minute || n.LinkTimeout != 5*time.Second {
		t.Errorf("durations: sleep %v link %v", n.SleepPeriod, n.LinkTimeout)
	}
	if n.Timing.MeasureDelay != 100*time.Millisecond || n.Timing.PowerOnDelay != time.Second || n.Timing.ADCMeasurements != 7 {
		t.Errorf("timing = %+v", n.Timing)
	}
	if n.IO.Baud != DefaultBaud || n.StateDB != DefaultStateDB {
		t.Errorf("defaults: baud %d state %q", n.IO.Baud, n.StateDB)
	}
	if got := n.SupervisorAddress(); got != "192.168.1.10:42424" {
		t.Errorf("SupervisorAddress = %q", got)
	}
}

func TestNodeConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing supervisor", "io:\n  backend: sim\n"},
		{"unknown backend", "supervisor_addr: a\nio:\n  backend: gpio\n"},
		{"serial without device", "supervisor_addr: a\nio:\n  backend: serial\n"},
		{"tcp without address", "supervisor_addr: a\nio:\n  backend: tcp\n"},
		{"bad duration", "supervisor_addr: a\nsleep_period: soon\n"},
		{"negative delay", "supervisor_addr: a\ntiming:\n  measure_delay: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseNodeConfig([]byte(tt.doc)); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSupervisorAddressKeepsPort(t *testing.T) {
	n := NodeData{SupervisorAddr: "plants.local:5000"}
	if got := n.SupervisorAddress(); got != "plants.local:5000" {
		t.Errorf("SupervisorAddress = %q", got)
	}
}
