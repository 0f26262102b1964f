// Package config provides runtime configuration loaded from environment
// variables. All fields have safe defaults so the binary runs locally without
// any env setup.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the roadsense service.
type Config struct {
	HTTPHost string // HTTP_HOST — default: "0.0.0.0"
	HTTPPort int    // HTTP_PORT — default: 8000

	BatchSize    int           // BATCH_SIZE — flush threshold, default: 10
	FlushTimeout time.Duration // FLUSH_TIMEOUT — per-flush sink/publish budget, default: 5s

	DBPath string // DB_PATH — SQLite file, default: "roadsense.db"

	MQTTBrokerHost string // MQTT_BROKER_HOST — default: "localhost"
	MQTTBrokerPort int    // MQTT_BROKER_PORT — default: 1883
	MQTTTopic      string // MQTT_TOPIC — inbound single-record topic
	MQTTBatchTopic string // MQTT_BATCH_TOPIC — outbound batch topic
	MQTTClientID   string // MQTT_CLIENT_ID — default: "roadsense-hub"
}

// Load reads configuration from environment variables, applying defaults for
// missing values.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8000)
	v.SetDefault("BATCH_SIZE", 10)
	v.SetDefault("FLUSH_TIMEOUT", "5s")
	v.SetDefault("DB_PATH", "roadsense.db")
	v.SetDefault("MQTT_BROKER_HOST", "localhost")
	v.SetDefault("MQTT_BROKER_PORT", 1883)
	v.SetDefault("MQTT_TOPIC", "processed_agent_data")
	v.SetDefault("MQTT_BATCH_TOPIC", "processed_agent_data/batch")
	v.SetDefault("MQTT_CLIENT_ID", "roadsense-hub")

	return Config{
		HTTPHost:       v.GetString("HTTP_HOST"),
		HTTPPort:       v.GetInt("HTTP_PORT"),
		BatchSize:      v.GetInt("BATCH_SIZE"),
		FlushTimeout:   v.GetDuration("FLUSH_TIMEOUT"),
		DBPath:         v.GetString("DB_PATH"),
		MQTTBrokerHost: v.GetString("MQTT_BROKER_HOST"),
		MQTTBrokerPort: v.GetInt("MQTT_BROKER_PORT"),
		MQTTTopic:      v.GetString("MQTT_TOPIC"),
		MQTTBatchTopic: v.GetString("MQTT_BATCH_TOPIC"),
		MQTTClientID:   v.GetString("MQTT_CLIENT_ID"),
	}
}
