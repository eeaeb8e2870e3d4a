package config

// TCPModeKind selects a TCPMode implementation.
type TCPModeKind string

const (
	TCPModeLengthPrefix TCPModeKind = "length_prefix"
	TCPModeDelimiter    TCPModeKind = "delimiter"
	TCPModeRaw          TCPModeKind = "raw"
)

// UDPModeKind selects a UDPMode implementation.
type UDPModeKind string

const (
	UDPModeCatchAll              UDPModeKind = "catch_all"
	UDPModeCatchAllNo            UDPModeKind = "catch_all_no"
	UDPModePerClient             UDPModeKind = "per_client"
	UDPModePerClientPerOperation UDPModeKind = "per_client_per_operation"
)

// InstanceProfile holds every option recognized for one client, server,
// or broadcast instance — the config-table knobs named in the external
// interfaces section of the configuration this system loads.
type InstanceProfile struct {
	RecvBufferSizeTCP int
	RecvBufferSizeUDP int
	UDPEnabled        bool
	DecryptKeyUDP     string // hex-encoded AES key, empty disables decryption

	HandshakeEnabled bool
	ModeTCP          TCPModeKind
	ModeUDP          UDPModeKind
	AutoResizeTCP    bool
	PostfixTCP       string

	SendTimeoutMS               int
	GracefulDisconnectEnabled   bool
	NagleEnabled                bool
	ReusableTCP                 bool
	ReusableUDP                 bool
	ConnectionToServerTimeoutMS int
	NumOperations               int

	SendMemoryLimitTCP int
	SendMemoryLimitUDP int
	RecvMemoryLimitTCP int
	RecvMemoryLimitUDP int

	RecycleTCPPackets     int
	RecycleTCPPacketBytes int
	RecycleUDPPackets     int
	RecycleUDPPacketBytes int
}

// ServerConfig is the top-level configuration for the netcore server
// binary.
type ServerConfig struct {
	Host string
	Port int

	Profile InstanceProfile

	Logging LoggingConfig
	Metrics MetricsConfig
}

// LoggingConfig mirrors internal/logging.Config's shape so config and
// logging stay decoupled (config never imports logging).
type LoggingConfig struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool
	Host    string
	Port    int
}
