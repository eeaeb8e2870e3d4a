// Package config provides configuration loading and validation for the
// netcore server.
//
// Configuration is loaded with the following priority (highest to
// lowest):
//  1. Environment variables (NETCORE_* prefix)
//  2. YAML config file (if specified with --config)
//  3. Hardcoded defaults
//
// Environment variables are mapped from NETCORE_CATEGORY_SETTING
// format, e.g. NETCORE_PROFILE_MODE_TCP maps to profile.mode_tcp in
// YAML. All configuration is validated during Load() to surface
// mistakes before the engine starts rather than mid-run.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from configPath (if non-empty), environment
// variables, and defaults, then validates and normalizes the result.
func Load(configPath string) (*ServerConfig, error) {
	v, err := initViper(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{}
	loadServerConfig(v, cfg)
	loadProfileConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadMetricsConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NETCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9443)

	v.SetDefault("profile.recv_buffer_size_tcp", 64*1024)
	v.SetDefault("profile.recv_buffer_size_udp", 65507)
	v.SetDefault("profile.udp_enabled", true)
	v.SetDefault("profile.decrypt_key_udp", "")

	v.SetDefault("profile.handshake_enabled", true)
	v.SetDefault("profile.mode_tcp", string(TCPModeLengthPrefix))
	v.SetDefault("profile.mode_udp", string(UDPModeCatchAllNo))
	v.SetDefault("profile.auto_resize_tcp", false)
	v.SetDefault("profile.postfix_tcp", "\r\n")

	v.SetDefault("profile.send_timeout_ms", 5000)
	v.SetDefault("profile.graceful_disconnect_enabled", true)
	v.SetDefault("profile.nagle_enabled", false)
	v.SetDefault("profile.reusable_tcp", false)
	v.SetDefault("profile.reusable_udp", true)
	v.SetDefault("profile.connection_to_server_timeout_ms", 10000)
	v.SetDefault("profile.num_operations", 1)

	v.SetDefault("profile.send_memory_limit_tcp", 4*1024*1024)
	v.SetDefault("profile.send_memory_limit_udp", 4*1024*1024)
	v.SetDefault("profile.recv_memory_limit_tcp", 4*1024*1024)
	v.SetDefault("profile.recv_memory_limit_udp", 4*1024*1024)

	v.SetDefault("profile.recycle_tcp_packets", 256)
	v.SetDefault("profile.recycle_tcp_packet_bytes", 4096)
	v.SetDefault("profile.recycle_udp_packets", 256)
	v.SetDefault("profile.recycle_udp_packet_bytes", 2048)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", true)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9090)
}

func loadServerConfig(v *viper.Viper, cfg *ServerConfig) {
	cfg.Host = v.GetString("server.host")
	cfg.Port = v.GetInt("server.port")
}

func loadProfileConfig(v *viper.Viper, cfg *ServerConfig) {
	p := &cfg.Profile
	p.RecvBufferSizeTCP = v.GetInt("profile.recv_buffer_size_tcp")
	p.RecvBufferSizeUDP = v.GetInt("profile.recv_buffer_size_udp")
	p.UDPEnabled = v.GetBool("profile.udp_enabled")
	p.DecryptKeyUDP = v.GetString("profile.decrypt_key_udp")

	p.HandshakeEnabled = v.GetBool("profile.handshake_enabled")
	p.ModeTCP = TCPModeKind(v.GetString("profile.mode_tcp"))
	p.ModeUDP = UDPModeKind(v.GetString("profile.mode_udp"))
	p.AutoResizeTCP = v.GetBool("profile.auto_resize_tcp")
	p.PostfixTCP = v.GetString("profile.postfix_tcp")

	p.SendTimeoutMS = v.GetInt("profile.send_timeout_ms")
	p.GracefulDisconnectEnabled = v.GetBool("profile.graceful_disconnect_enabled")
	p.NagleEnabled = v.GetBool("profile.nagle_enabled")
	p.ReusableTCP = v.GetBool("profile.reusable_tcp")
	p.ReusableUDP = v.GetBool("profile.reusable_udp")
	p.ConnectionToServerTimeoutMS = v.GetInt("profile.connection_to_server_timeout_ms")
	p.NumOperations = v.GetInt("profile.num_operations")

	p.SendMemoryLimitTCP = v.GetInt("profile.send_memory_limit_tcp")
	p.SendMemoryLimitUDP = v.GetInt("profile.send_memory_limit_udp")
	p.RecvMemoryLimitTCP = v.GetInt("profile.recv_memory_limit_tcp")
	p.RecvMemoryLimitUDP = v.GetInt("profile.recv_memory_limit_udp")

	p.RecycleTCPPackets = v.GetInt("profile.recycle_tcp_packets")
	p.RecycleTCPPacketBytes = v.GetInt("profile.recycle_tcp_packet_bytes")
	p.RecycleUDPPackets = v.GetInt("profile.recycle_udp_packets")
	p.RecycleUDPPacketBytes = v.GetInt("profile.recycle_udp_packet_bytes")
}

func loadLoggingConfig(v *viper.Viper, cfg *ServerConfig) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadMetricsConfig(v *viper.Viper, cfg *ServerConfig) {
	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Metrics.Host = v.GetString("metrics.host")
	cfg.Metrics.Port = v.GetInt("metrics.port")
}

func normalizeConfig(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("config: server.port must be 1..65535")
	}
	if !cfg.Profile.HandshakeEnabled && cfg.Profile.UDPEnabled {
		return errors.New("config: udp must be disabled when handshake is disabled")
	}
	switch cfg.Profile.ModeTCP {
	case TCPModeLengthPrefix, TCPModeDelimiter, TCPModeRaw:
	default:
		return fmt.Errorf("config: unknown profile.mode_tcp %q", cfg.Profile.ModeTCP)
	}
	switch cfg.Profile.ModeUDP {
	case UDPModeCatchAll, UDPModeCatchAllNo, UDPModePerClient, UDPModePerClientPerOperation:
	default:
		return fmt.Errorf("config: unknown profile.mode_udp %q", cfg.Profile.ModeUDP)
	}
	if cfg.Profile.PostfixTCP == "" {
		cfg.Profile.PostfixTCP = "\r\n"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return errors.New("config: metrics.port must be 1..65535")
	}
	return nil
}
