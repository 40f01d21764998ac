package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

var (
	// ErrUnknownTransport is returned when no driver is registered under the
	// configured pub/sub system name.
	ErrUnknownTransport = errors.New("unknown transport")
	// ErrUnsupportedSide is returned when a driver was registered without the
	// publisher or subscriber half that was asked for.
	ErrUnsupportedSide = errors.New("transport side not supported")
)

type driver struct {
	builder Builder
	caps    Capabilities
}

// Registry maps pub/sub system names to drivers. Driver packages add
// themselves to DefaultRegistry from init; tests build private registries.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]driver
}

// DefaultRegistry is the registry the bus uses unless told otherwise.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]driver)}
}

// Register adds or replaces a driver with no advertised capabilities.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds or replaces a driver.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	r.drivers[name] = driver{builder: builder, caps: caps}
	r.mu.Unlock()
}

// GetCapabilities reports what a driver supports. Unknown names get a zero
// set carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if d, ok := r.get(name); ok {
		return d.caps
	}
	return Capabilities{Name: name}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.get(name)
	return ok
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.drivers))
}

func (r *Registry) get(name string) (driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	return d, ok
}

func (r *Registry) resolve(cfg Config) (driver, error) {
	if cfg == nil {
		return driver{}, errors.New("transport config is required")
	}
	name := cfg.GetPubSubSystem()
	d, ok := r.get(name)
	if !ok {
		return driver{}, fmt.Errorf("%w %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}
	return d, nil
}

// BuildPublisher opens the producer side of the driver named by cfg.
func (r *Registry) BuildPublisher(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	d, err := r.resolve(cfg)
	if err != nil {
		return nil, err
	}
	if d.builder.NewPublisher == nil {
		return nil, fmt.Errorf("%w: %q has no publisher", ErrUnsupportedSide, d.caps.Name)
	}
	return d.builder.NewPublisher(ctx, cfg, logger)
}

// BuildSubscriber opens the consumer side of the driver named by cfg.
func (r *Registry) BuildSubscriber(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	d, err := r.resolve(cfg)
	if err != nil {
		return nil, err
	}
	if d.builder.NewSubscriber == nil {
		return nil, fmt.Errorf("%w: %q has no subscriber", ErrUnsupportedSide, d.caps.Name)
	}
	return d.builder.NewSubscriber(ctx, cfg, logger)
}

// Register adds a driver to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a driver and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}
