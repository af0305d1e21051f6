package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"MQTT_HOST", "MQTT_PORT", "MQTT_USER", "MQTT_PASSWORD", "MQTT_CLIENT_ID",
	"MQTT_USE_TLS", "MQTT_CA_CERT_PATH", "MQTT_TLS_VERSION", "MQTT_TLS_INSECURE_SKIP_VERIFY",
	"MQTT_QOS", "MQTT_KEEPALIVE", "MQTT_CONNECT_TIMEOUT", "MQTT_PUBLISH_TIMEOUT", "MQTT_CONNECT_RETRIES",
	"STORE_DRIVER", "DB_DSN", "STORE_QUERY_TIMEOUT",
	"CHECK_WINDOW", "COARSE_CHECK_INTERVAL", "FINE_CHECK_INTERVAL", "SCHEDULER_TICK", "ABSENT_BOUND_POLICY",
	"LOG_DIR", "LOG_LEVEL", "API_PORT", "API_BASE_PATH", "KAFKA_BROKER", "KAFKA_TOPIC",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MQTT_USER", "monitor")
	t.Setenv("DB_DSN", "postgres://localhost/iot")

	cfg, err := LoadFrom(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "monitor", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.False(t, cfg.MQTT.UseTLS)
	assert.False(t, cfg.MQTT.InsecureSkipVerify)
	assert.Equal(t, "1.2", cfg.MQTT.TLSVersion)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, time.Hour, cfg.Check.Window)
	assert.Equal(t, time.Hour, cfg.Check.CoarseInterval)
	assert.Equal(t, time.Minute, cfg.Check.FineInterval)
	assert.Equal(t, time.Second, cfg.Check.SchedulerTick)
	assert.Equal(t, PolicyUnbounded, cfg.Check.AbsentBoundPolicy)
	assert.Equal(t, "logs", cfg.Logging.Dir)
	assert.Equal(t, ":8080", cfg.API.Port)
	assert.Equal(t, "alert_events", cfg.Kafka.Topic)
}

func TestLoadTLSDefaultsPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MQTT_USE_TLS", "true")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadFrom(noEnvFile(t))
	require.NoError(t, err)
	assert.True(t, cfg.MQTT.UseTLS)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.False(t, cfg.MQTT.InsecureSkipVerify)
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)

	_, err := LoadFrom(noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_HOST")
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"unparseable port":   {"MQTT_PORT", "eighteen"},
		"port out of range":  {"MQTT_PORT", "70000"},
		"qos 2":              {"MQTT_QOS", "2"},
		"qos 256":            {"MQTT_QOS", "256"},
		"qos 257":            {"MQTT_QOS", "257"},
		"qos negative":       {"MQTT_QOS", "-1"},
		"memory without api": {"API_PORT", "off"},
		"tls version":        {"MQTT_TLS_VERSION", "1.0"},
		"policy":             {"ABSENT_BOUND_POLICY", "ignore"},
		"driver":             {"STORE_DRIVER", "influx"},
		"window":             {"CHECK_WINDOW", "-1h"},
		"interval":           {"FINE_CHECK_INTERVAL", "soon"},
		"bool":               {"MQTT_USE_TLS", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("MQTT_HOST", "broker.local")
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(kv[0], kv[1])

			_, err := LoadFrom(noEnvFile(t))
			require.Error(t, err)
		})
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)
	for _, k := range allKeys {
		// godotenv does not override variables that are already set.
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"MQTT_HOST=mqtt.example\nSTORE_DRIVER=memory\nABSENT_BOUND_POLICY=zero\nFINE_CHECK_INTERVAL=30s\n",
	), 0o600))
	t.Cleanup(func() {
		for _, k := range allKeys {
			_ = os.Unsetenv(k)
		}
	})

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "mqtt.example", cfg.MQTT.Host)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, PolicyZero, cfg.Check.AbsentBoundPolicy)
	assert.Equal(t, 30*time.Second, cfg.Check.FineInterval)
}
