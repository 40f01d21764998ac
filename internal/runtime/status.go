package runtime

import (
	"net/http"

	jsoncodec "github.com/drblury/moviebus/internal/runtime/jsoncodec"
)

// ConsumerStatus is the JSON view of one consumer runtime.
type ConsumerStatus struct {
	Name    string   `json:"name"`
	GroupID string   `json:"group_id"`
	Topics  []string `json:"topics"`
	State   string   `json:"state"`
}

// PublisherStatus is the JSON view of the publisher.
type PublisherStatus struct {
	ClientID string `json:"client_id"`
	State    string `json:"state"`
}

// BusStatus is served on /consumers next to the metrics.
type BusStatus struct {
	PubSubSystem string           `json:"pubsub_system"`
	Publisher    PublisherStatus  `json:"publisher"`
	Consumers    []ConsumerStatus `json:"consumers"`
}

// Status snapshots the publisher and consumer states.
func (b *Bus) Status() BusStatus {
	pub := b.Publisher()
	status := BusStatus{
		PubSubSystem: b.Conf.PubSubSystem,
		Publisher: PublisherStatus{
			ClientID: pub.endpoint.ClientID,
			State:    pub.State().String(),
		},
	}
	for _, rt := range b.consumers.Runtimes() {
		cc := rt.Config()
		status.Consumers = append(status.Consumers, ConsumerStatus{
			Name:    cc.Name,
			GroupID: cc.GroupID,
			Topics:  cc.Topics,
			State:   rt.State().String(),
		})
	}
	return status
}

func (b *Bus) handleGetConsumers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(b.Status())
	if err != nil {
		b.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
