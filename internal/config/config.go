// Package config loads the host's configuration file: an ASCII key=value
// format with '#' comments and blank lines ignored (spec §6), grounded on
// original_source/config.cpp's CConfig::CConfig line scanner. It follows
// the teacher's Config struct/Load(path) shape but parses the spec's text
// format rather than JSON.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/w3gshost/w3gshost/internal/w3gs"
	"github.com/w3gshost/w3gshost/internal/wirebuf"
)

// Defaults mirrored from spec §6.
const (
	DefaultHostPort   = 6112
	DefaultLatencyMS  = 100
	DefaultAutoStart  = 0
	DefaultSyncLimit  = 32
	AnnouncePort      = 6112 // the game's registered LAN discovery port
)

// Config holds the raw key=value pairs plus typed accessors with per-key
// defaults, the way CConfig::GetInt/GetString work over its map.
type Config struct {
	path   string
	values map[string]string
}

// Load reads and parses the configuration file at path. A missing file is
// not an error — CConfig::CConfig only warns and leaves the map empty, so
// every accessor falls back to its default; this lets the host run from
// an entirely default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path, values: make(map[string]string)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		cfg.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("keys", len(cfg.values)).Msg("configuration loaded")
	return cfg, nil
}

// GetString returns the raw value for key, or def if absent.
func (c *Config) GetString(key, def string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// GetInt parses key as a decimal integer, returning def on absence or
// parse failure (CConfig::GetInt uses atoi, which silently yields 0 on a
// bad string; a missing key is treated the same as a bad string here).
func (c *Config) GetInt(key string, def int) int {
	v, ok := c.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetBool treats a present, nonzero-integer value as true.
func (c *Config) GetBool(key string, def bool) bool {
	v, ok := c.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n != 0
}

// GetDecimalBytes parses key's value as n whitespace-separated decimal
// bytes (spec §6: map_sha1 and friends), returning nil and false if the
// key is absent or malformed.
func (c *Config) GetDecimalBytes(key string, n int) ([]byte, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	b, err := wirebuf.ParseDecimalBytes(v, n)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Msg("config: malformed decimal byte array")
		return nil, false
	}
	return b, true
}

// HostConfig is the set of top-level host settings the spec's config keys
// populate (game_name, virtual_host_name, war3_version, latency,
// autostart, host_port), plus the operator-configured lag-kick timeout
// spec §4.6/§5 leave as a deployment knob.
type HostConfig struct {
	GameName        string
	VirtualHostName string
	War3Version     byte
	LatencyMS       uint16
	AutoStart       int
	HostPort        uint16
	SyncLimit       uint32
	LagKickTimeoutMS uint32
}

// LoadHostConfig extracts the host-level settings from c, applying the
// defaults named in spec §6.
func (c *Config) LoadHostConfig() HostConfig {
	return HostConfig{
		GameName:         c.GetString("game_name", "W3GS Game"),
		VirtualHostName:  c.GetString("virtual_host_name", "Host"),
		War3Version:      byte(c.GetInt("war3_version", 29)),
		LatencyMS:        uint16(c.GetInt("latency", DefaultLatencyMS)),
		AutoStart:        c.GetInt("autostart", DefaultAutoStart),
		HostPort:         uint16(c.GetInt("host_port", DefaultHostPort)),
		SyncLimit:        uint32(c.GetInt("sync_limit", DefaultSyncLimit)),
		LagKickTimeoutMS: uint32(c.GetInt("lag_kick_timeout_ms", 60000)),
	}
}

// APIConfig is the status API's bind address, CORS allow-list, and
// on/off switch, sourced from the config file rather than hard-coded.
type APIConfig struct {
	Enabled        bool
	Addr           string
	AllowedOrigins []string
}

// LoadAPIConfig extracts the status API settings.
func (c *Config) LoadAPIConfig() APIConfig {
	origins := c.GetString("api_allowed_origins", "*")
	var list []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			list = append(list, o)
		}
	}
	return APIConfig{
		Enabled:        c.GetBool("api_enabled", true),
		Addr:           c.GetString("api_addr", ":8180"),
		AllowedOrigins: list,
	}
}

// MQTTConfig is the optional telemetry publisher's settings. It stays
// disabled unless broker_url is explicitly set, since most lobbies have
// no broker to talk to.
type MQTTConfig struct {
	Enabled  bool
	BrokerURL string
	Port     int
	ClientID string
	UseTLS   bool
	CertFile string
	KeyFile  string
}

// LoadMQTTConfig extracts the mqtt_* keys, grounded on the teacher's
// ApplicationData.MQTT block.
func (c *Config) LoadMQTTConfig() MQTTConfig {
	broker := c.GetString("mqtt_broker_url", "")
	return MQTTConfig{
		Enabled:   broker != "",
		BrokerURL: broker,
		Port:      c.GetInt("mqtt_port", 8883),
		ClientID:  c.GetString("mqtt_client_id", ""),
		UseTLS:    c.GetBool("mqtt_tls", true),
		CertFile:  c.GetString("mqtt_cert_file", ""),
		KeyFile:   c.GetString("mqtt_key_file", ""),
	}
}

// MapConfig is the set of map_* keys needed to build a mapdata.Params,
// grounded on original_source/map.cpp's CMap::Load.
type MapConfig struct {
	Path       string
	Size       uint32
	Info       uint32
	CRC        uint32
	SHA1       [20]byte
	SHA1Valid  bool
	Width      uint16
	Height     uint16
	Options    uint32
	NumPlayers int
	Slots      []w3gs.Slot
}

// LoadMapConfig extracts the map_* keys from c. Numeric byte-array fields
// (map_size, map_info, map_crc, map_width, map_height) are stored as
// whitespace-separated decimal bytes per spec §6 and are big-endian packed
// here, matching CMap::Load's ByteArrayToUInt32(..., false) call (false =
// not little-endian).
func (c *Config) LoadMapConfig() MapConfig {
	mc := MapConfig{
		Path:       c.GetString("map_path", ""),
		NumPlayers: c.GetInt("map_numplayers", 0),
		Options:    uint32(c.GetInt("map_options", 0)),
	}

	if b, ok := c.GetDecimalBytes("map_size", 4); ok {
		mc.Size = beUint32(b)
	}
	if b, ok := c.GetDecimalBytes("map_info", 4); ok {
		mc.Info = beUint32(b)
	}
	if b, ok := c.GetDecimalBytes("map_crc", 4); ok {
		mc.CRC = beUint32(b)
	}
	if b, ok := c.GetDecimalBytes("map_width", 2); ok {
		mc.Width = uint16(b[0])<<8 | uint16(b[1])
	}
	if b, ok := c.GetDecimalBytes("map_height", 2); ok {
		mc.Height = uint16(b[0])<<8 | uint16(b[1])
	}
	if b, ok := c.GetDecimalBytes("map_sha1", 20); ok {
		copy(mc.SHA1[:], b)
		mc.SHA1Valid = true
	}

	for i := 1; i <= 12; i++ {
		key := fmt.Sprintf("map_slot%d", i)
		raw, ok := c.values[key]
		if !ok || strings.TrimSpace(raw) == "" {
			break
		}
		b, err := wirebuf.ParseDecimalBytes(raw, w3gs.SlotSize)
		if err != nil {
			log.Warn().Str("key", key).Err(err).Msg("config: malformed slot, stopping slot scan")
			break
		}
		slot, err := w3gs.DecodeSlot(b)
		if err != nil {
			break
		}
		mc.Slots = append(mc.Slots, slot)
	}

	return mc
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Path returns the path the configuration was (or would be) loaded from.
func (c *Config) Path() string { return c.path }
