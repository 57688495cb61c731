package courier

import (
	"github.com/arcline-labs/courier-go/refreshable"
)

// ClientFactory builds clients bound to a live-reloadable ServicesConfig.
// Every client stays subscribed to the configuration: when it changes, each
// client rebuilds its internal state and swaps it in atomically. A reload
// that fails validation for one service is reported to the updater and that
// client keeps its previous state.
type ClientFactory struct {
	config *refreshable.Value[ServicesConfig]
	opts   []Option
}

// NewClientFactory creates a factory over the given configuration source.
// The options are applied to every client the factory builds, before any
// per-client options.
func NewClientFactory(config *refreshable.Value[ServicesConfig], opts ...Option) *ClientFactory {
	return &ClientFactory{config: config, opts: opts}
}

// Client builds a client for the named service. A service the current
// configuration does not name still gets a client; its requests fail fast
// with a ConfigError until a reload adds the service. Returns a ConfigError
// only when the configured host list is malformed.
func (f *ClientFactory) Client(service string, opts ...Option) (*Client, error) {
	cfg := newClientConfig(service, append(append([]Option{}, f.opts...), opts...)...)

	metrics, err := newClientMetrics(cfg.meter(), service)
	if err != nil {
		return nil, err
	}
	cfg.metrics = metrics

	c := &Client{cfg: cfg}

	sub, err := f.config.Subscribe(func(sc ServicesConfig) error {
		// An unconfigured service still yields a client, just one with no
		// candidate hosts: every request fails fast with a ConfigError
		// until a reload names the service.
		svc, _ := sc.MergedService(service)
		state, err := newClientState(cfg, svc)
		if err != nil {
			return err
		}
		c.state.Store(state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.unsubscribe = sub.Unsubscribe
	return c, nil
}
