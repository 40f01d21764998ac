// Package metadata names the record headers moviebus writes and reads, and
// converts them to and from the broker coordinates of a record.
package metadata

import (
	"maps"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Header keys written by the publisher and the transports. They travel as
// record headers so consumers can recover routing details without parsing
// the payload.
const (
	KeyPartitionKey = "partition_key"
	KeyPartition    = "partition"
	KeyOffset       = "offset"
	KeyTopic        = "topic"
	KeyPublishedAt  = "published_at"
	KeyContentType  = "content_type"
	KeyEventType    = "event_type"

	ContentTypeJSON = "application/json"
)

// Metadata is the read-only view of a record's headers handed to handlers.
type Metadata map[string]string

// Get returns the value for key, or "" when absent.
func (m Metadata) Get(key string) string { return m[key] }

// New builds Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromWatermill copies md so handlers cannot mutate the message headers.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// Stamp writes the publish headers: publish time in epoch milliseconds,
// JSON content type, and the partition key and event type when known.
func Stamp(md message.Metadata, key, eventType string, now time.Time) {
	md.Set(KeyPublishedAt, strconv.FormatInt(now.UnixMilli(), 10))
	md.Set(KeyContentType, ContentTypeJSON)
	if key != "" {
		md.Set(KeyPartitionKey, key)
	}
	if eventType != "" {
		md.Set(KeyEventType, eventType)
	}
}

// PublishedAt returns the publish time stamped by Stamp.
func PublishedAt(md message.Metadata) (time.Time, bool) {
	ms, err := strconv.ParseInt(md.Get(KeyPublishedAt), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SetPartition records the partition and offset a record was read from.
func SetPartition(md message.Metadata, partition int32, offset int64) {
	md.Set(KeyPartition, strconv.FormatInt(int64(partition), 10))
	md.Set(KeyOffset, strconv.FormatInt(offset, 10))
}

// Partition returns the partition stamped by the transport, or -1 when the
// transport does not expose partitions.
func Partition(md message.Metadata) int32 {
	p, err := strconv.ParseInt(md.Get(KeyPartition), 10, 32)
	if err != nil {
		return -1
	}
	return int32(p)
}

// Offset returns the offset stamped by the transport, or -1.
func Offset(md message.Metadata) int64 {
	o, err := strconv.ParseInt(md.Get(KeyOffset), 10, 64)
	if err != nil {
		return -1
	}
	return o
}
