package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
)

// Environment variable names read by Load.
const (
	EnvPubSubSystem             = "PUBSUB_SYSTEM"
	EnvKafkaBrokers             = "KAFKA_BROKERS"
	EnvKafkaClientID            = "KAFKA_CLIENT_ID"
	EnvKafkaGroupID             = "KAFKA_GROUP_ID"
	EnvKafkaConnectionTimeout   = "KAFKA_CONNECTION_TIMEOUT"
	EnvKafkaPollTimeout         = "KAFKA_POLL_TIMEOUT"
	EnvKafkaFromBeginning       = "KAFKA_FROM_BEGINNING"
	EnvReconnectInitialInterval = "KAFKA_RECONNECT_INITIAL_INTERVAL"
	EnvReconnectMaxInterval     = "KAFKA_RECONNECT_MAX_INTERVAL"
	EnvReconnectMaxAttempts     = "KAFKA_RECONNECT_MAX_ATTEMPTS"
	EnvMetricsEnabled           = "METRICS_ENABLED"
	EnvMetricsPort              = "METRICS_PORT"
)

// Load reads the configuration from the environment once. Any envFiles are
// loaded first with godotenv; variables already set in the process win and
// missing files are ignored.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(EnvPubSubSystem, DefaultPubSubSystem)
	v.SetDefault(EnvKafkaBrokers, DefaultBroker)
	v.SetDefault(EnvKafkaClientID, DefaultProducerClientID)
	v.SetDefault(EnvKafkaConnectionTimeout, DefaultConnectionTimeout)
	v.SetDefault(EnvKafkaPollTimeout, DefaultPollTimeout)
	v.SetDefault(EnvReconnectInitialInterval, DefaultReconnectInterval)

	cfg := Config{
		PubSubSystem:             strings.ToLower(strings.TrimSpace(v.GetString(EnvPubSubSystem))),
		KafkaBrokers:             splitList(v.GetString(EnvKafkaBrokers)),
		KafkaClientID:            v.GetString(EnvKafkaClientID),
		KafkaConsumerGroup:       strings.TrimSpace(v.GetString(EnvKafkaGroupID)),
		ConnectionTimeout:        v.GetDuration(EnvKafkaConnectionTimeout),
		PollTimeout:              v.GetDuration(EnvKafkaPollTimeout),
		FromBeginning:            v.GetBool(EnvKafkaFromBeginning),
		ReconnectInitialInterval: v.GetDuration(EnvReconnectInitialInterval),
		ReconnectMaxInterval:     v.GetDuration(EnvReconnectMaxInterval),
		ReconnectMaxAttempts:     v.GetInt(EnvReconnectMaxAttempts),
		MetricsEnabled:           v.GetBool(EnvMetricsEnabled),
		MetricsPort:              v.GetInt(EnvMetricsPort),
	}.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, errspkg.NewConfigValidationError(err)
	}
	return cfg, nil
}

// splitList parses a comma separated list, dropping blanks.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
