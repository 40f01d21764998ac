package config

import (
	"errors"
	"strings"
	"time"
)

// Consumer family names.
const (
	FamilyMovie        = "movie"
	FamilyAnalytics    = "analytics"
	FamilyNotification = "notification"
)

// Endpoint is the connection identity of the publisher: who it is, where
// the brokers are and how it retries.
type Endpoint struct {
	PubSubSystem      string
	ClientID          string
	Brokers           []string
	ConnectionTimeout time.Duration
	Retry             RetryPolicy
}

// Getter methods to implement the transport.Config contract.
func (e Endpoint) GetPubSubSystem() string             { return e.PubSubSystem }
func (e Endpoint) GetKafkaBrokers() []string           { return e.Brokers }
func (e Endpoint) GetKafkaClientID() string            { return e.ClientID }
func (e Endpoint) GetKafkaConsumerGroup() string       { return "" }
func (e Endpoint) GetTopics() []string                 { return nil }
func (e Endpoint) GetConnectionTimeout() time.Duration { return e.ConnectionTimeout }
func (e Endpoint) GetPollTimeout() time.Duration       { return 0 }
func (e Endpoint) GetFromBeginning() bool              { return false }
func (e Endpoint) GetReconnectInterval() time.Duration { return e.Retry.InitialBackoff }

// ConsumerConfig describes one consumer runtime: its identity, its group
// and the topics it reads.
type ConsumerConfig struct {
	// Name labels the topic family in logs and metrics.
	Name              string
	PubSubSystem      string
	ClientID          string
	GroupID           string
	Brokers           []string
	Topics            []string
	ConnectionTimeout time.Duration
	PollTimeout       time.Duration
	FromBeginning     bool
	Retry             RetryPolicy
}

func (c ConsumerConfig) GetPubSubSystem() string             { return c.PubSubSystem }
func (c ConsumerConfig) GetKafkaBrokers() []string           { return c.Brokers }
func (c ConsumerConfig) GetKafkaClientID() string            { return c.ClientID }
func (c ConsumerConfig) GetKafkaConsumerGroup() string       { return c.GroupID }
func (c ConsumerConfig) GetTopics() []string                 { return c.Topics }
func (c ConsumerConfig) GetConnectionTimeout() time.Duration { return c.ConnectionTimeout }
func (c ConsumerConfig) GetPollTimeout() time.Duration       { return c.PollTimeout }
func (c ConsumerConfig) GetFromBeginning() bool              { return c.FromBeginning }
func (c ConsumerConfig) GetReconnectInterval() time.Duration { return c.Retry.InitialBackoff }

// Validate checks the fields a consumer runtime cannot start without.
func (c ConsumerConfig) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("consumer: client id is required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("consumer: group id is required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("consumer: at least one topic is required"))
	}
	seen := make(map[string]struct{}, len(c.Topics))
	for _, topic := range c.Topics {
		if strings.TrimSpace(topic) == "" {
			errs = append(errs, errors.New("consumer: topic name cannot be empty"))
			continue
		}
		if _, dup := seen[topic]; dup {
			errs = append(errs, errors.New("consumer: duplicate topic "+topic))
		}
		seen[topic] = struct{}{}
	}
	return errors.Join(errs...)
}

// NewConsumerConfig derives a consumer config from the shared settings.
func (c Config) NewConsumerConfig(name, clientID, groupID string, topics ...string) ConsumerConfig {
	return ConsumerConfig{
		Name:              name,
		PubSubSystem:      c.PubSubSystem,
		ClientID:          clientID,
		GroupID:           groupID,
		Brokers:           cloneStrings(c.KafkaBrokers),
		Topics:            cloneStrings(topics),
		ConnectionTimeout: c.ConnectionTimeout,
		PollTimeout:       c.PollTimeout,
		FromBeginning:     c.FromBeginning,
		Retry:             c.Retry(),
	}
}

// DefaultConsumers returns the topic families started at boot, in order.
func (c Config) DefaultConsumers() []ConsumerConfig {
	return []ConsumerConfig{
		c.NewConsumerConfig(FamilyMovie, "movie-consumer", c.FamilyGroup("movie-group"), TopicMovieEvents, TopicMovieViews),
		c.NewConsumerConfig(FamilyAnalytics, "analytics-consumer", c.FamilyGroup("analytics-group"), TopicAnalyticsEvents, TopicUserActions),
	}
}

// NotificationConsumer is the configuration for the notification family.
// It is not started by default since it has no built-in router.
func (c Config) NotificationConsumer() ConsumerConfig {
	return c.NewConsumerConfig(FamilyNotification, "notification-consumer", c.FamilyGroup("notification-group"), TopicNotificationEvents)
}

// FamilyGroup prefixes group with KafkaConsumerGroup when one is set.
func (c Config) FamilyGroup(group string) string {
	if c.KafkaConsumerGroup == "" {
		return group
	}
	return c.KafkaConsumerGroup + "." + group
}
