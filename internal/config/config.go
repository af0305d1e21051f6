package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Absent-bound policies accepted by ABSENT_BOUND_POLICY.
const (
	PolicyUnbounded = "unbounded"
	PolicyZero      = "zero"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	MQTT struct {
		Host                  string
		Port                  int
		Username              string
		Password              string
		ClientID              string
		UseTLS                bool
		CACertPath            string
		TLSVersion            string
		InsecureSkipVerify    bool
		QoS                   byte
		KeepAlive             time.Duration
		ConnectTimeout        time.Duration
		PublishTimeout        time.Duration
		InitialConnectRetries int
	}
	Store struct {
		Driver       string
		DSN          string
		QueryTimeout time.Duration
	}
	Check struct {
		Window            time.Duration
		CoarseInterval    time.Duration
		FineInterval      time.Duration
		SchedulerTick     time.Duration
		AbsentBoundPolicy string
	}
	Logging struct {
		Dir   string
		Level string
	}
	API struct {
		Port     string
		BasePath string
	}
	Kafka struct {
		Broker string
		Topic  string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit .env path. A missing file is not an error.
func LoadFrom(envFile string) (Config, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	var invalid []string

	// MQTT broker settings
	cfg.MQTT.Host = os.Getenv("MQTT_HOST")
	cfg.MQTT.Username = os.Getenv("MQTT_USER")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.MQTT.ClientID = os.Getenv("MQTT_CLIENT_ID")
	cfg.MQTT.CACertPath = os.Getenv("MQTT_CA_CERT_PATH")
	cfg.MQTT.TLSVersion = os.Getenv("MQTT_TLS_VERSION")
	cfg.MQTT.UseTLS = getBool("MQTT_USE_TLS", false, &invalid)
	cfg.MQTT.InsecureSkipVerify = getBool("MQTT_TLS_INSECURE_SKIP_VERIFY", false, &invalid)
	cfg.MQTT.Port = getInt("MQTT_PORT", 0, &invalid)
	qos := getInt("MQTT_QOS", 1, &invalid)
	if qos < 0 || qos > 1 {
		return Config{}, fmt.Errorf("MQTT_QOS %d unsupported: want 0 or 1", qos)
	}
	cfg.MQTT.QoS = byte(qos)
	cfg.MQTT.KeepAlive = getDuration("MQTT_KEEPALIVE", 30*time.Second, &invalid)
	cfg.MQTT.ConnectTimeout = getDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second, &invalid)
	cfg.MQTT.PublishTimeout = getDuration("MQTT_PUBLISH_TIMEOUT", 5*time.Second, &invalid)
	cfg.MQTT.InitialConnectRetries = getInt("MQTT_CONNECT_RETRIES", 5, &invalid)

	// Telemetry store
	cfg.Store.Driver = os.Getenv("STORE_DRIVER")
	cfg.Store.DSN = os.Getenv("DB_DSN")
	cfg.Store.QueryTimeout = getDuration("STORE_QUERY_TIMEOUT", 30*time.Second, &invalid)

	// Check cadences
	cfg.Check.Window = getDuration("CHECK_WINDOW", time.Hour, &invalid)
	cfg.Check.CoarseInterval = getDuration("COARSE_CHECK_INTERVAL", time.Hour, &invalid)
	cfg.Check.FineInterval = getDuration("FINE_CHECK_INTERVAL", time.Minute, &invalid)
	cfg.Check.SchedulerTick = getDuration("SCHEDULER_TICK", time.Second, &invalid)
	cfg.Check.AbsentBoundPolicy = strings.ToLower(os.Getenv("ABSENT_BOUND_POLICY"))

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configurations: %v", invalid)
	}

	// Apply defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverPostgres
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
		if cfg.MQTT.UseTLS {
			cfg.MQTT.Port = 8883
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.MQTT.Username
	}
	if cfg.MQTT.TLSVersion == "" {
		cfg.MQTT.TLSVersion = "1.2"
	}
	if cfg.Check.AbsentBoundPolicy == "" {
		cfg.Check.AbsentBoundPolicy = PolicyUnbounded
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "alert_events"
	}

	// Validate required settings
	missing := []string{}
	if cfg.MQTT.Host == "" {
		missing = append(missing, "MQTT_HOST")
	}
	if cfg.Store.Driver == DriverPostgres && cfg.Store.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.MQTT.Port <= 0 || cfg.MQTT.Port > 65535 {
		return fmt.Errorf("MQTT_PORT %d is out of range [1, 65535]", cfg.MQTT.Port)
	}
	switch cfg.MQTT.TLSVersion {
	case "1.2", "1.3":
	default:
		return fmt.Errorf("MQTT_TLS_VERSION %q unknown: want 1.2|1.3", cfg.MQTT.TLSVersion)
	}
	if cfg.MQTT.InitialConnectRetries < 1 {
		return fmt.Errorf("MQTT_CONNECT_RETRIES must be at least 1")
	}
	switch cfg.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q unknown: want postgres|memory", cfg.Store.Driver)
	}
	if cfg.Store.Driver == DriverMemory && cfg.API.Port == "off" {
		return fmt.Errorf("STORE_DRIVER memory is fed through the API: API_PORT cannot be off")
	}
	switch cfg.Check.AbsentBoundPolicy {
	case PolicyUnbounded, PolicyZero:
	default:
		return fmt.Errorf("ABSENT_BOUND_POLICY %q unknown: want unbounded|zero", cfg.Check.AbsentBoundPolicy)
	}
	positive := map[string]time.Duration{
		"CHECK_WINDOW":          cfg.Check.Window,
		"COARSE_CHECK_INTERVAL": cfg.Check.CoarseInterval,
		"FINE_CHECK_INTERVAL":   cfg.Check.FineInterval,
		"SCHEDULER_TICK":        cfg.Check.SchedulerTick,
		"MQTT_CONNECT_TIMEOUT":  cfg.MQTT.ConnectTimeout,
		"MQTT_PUBLISH_TIMEOUT":  cfg.MQTT.PublishTimeout,
		"STORE_QUERY_TIMEOUT":   cfg.Store.QueryTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func getInt(key string, fallback int, invalid *[]string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*invalid = append(*invalid, key)
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool, invalid *[]string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		*invalid = append(*invalid, key)
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration, invalid *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*invalid = append(*invalid, key)
		return fallback
	}
	return parsed
}
