package transport

// Capabilities describes the features supported by a driver.
type Capabilities struct {
	// Name is the human-readable name of the driver.
	Name string

	// SupportsOrdering indicates records within a partition are delivered in order.
	SupportsOrdering bool

	// SupportsPartitioning indicates partition keys route records to a fixed partition.
	SupportsPartitioning bool

	// SupportsConsumerGroups indicates the broker splits partitions between group members.
	SupportsConsumerGroups bool

	// SupportsAck indicates the driver commits progress on Ack.
	SupportsAck bool

	// SupportsNack indicates the driver redelivers a message on Nack.
	SupportsNack bool

	// SupportsBatching indicates a multi-message Publish is sent as one request.
	SupportsBatching bool

	// ReportsConnectionEvents indicates the driver calls the ConnectionListener
	// on broker connects and disconnects.
	ReportsConnectionEvents bool
}

// SupportsReliableDelivery returns true if the driver supports ack + nack.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the bundled drivers.
var (
	// ChannelCapabilities for the in-memory Go channel driver.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Sarama based driver.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsPartitioning:   true,
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsBatching:       true,
	}

	// FranzCapabilities for the franz-go driver.
	FranzCapabilities = Capabilities{
		Name:                    "franz",
		SupportsOrdering:        true,
		SupportsPartitioning:    true,
		SupportsConsumerGroups:  true,
		SupportsAck:             true,
		SupportsNack:            true,
		SupportsBatching:        true,
		ReportsConnectionEvents: true,
	}
)

// GetCapabilities returns the capabilities registered for a driver in the
// default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
