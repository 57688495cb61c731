// Package courier provides a resilient HTTP client for services addressed
// by logical name. A client owns a list of candidate hosts and handles node
// selection, retries with backoff, failover, and QoS signals (429/503)
// behind a single Do call, with OpenTelemetry tracing and metrics built in.
//
// # Quick Start
//
//	client, err := courier.NewClient("widgets", courier.ServiceConfig{
//	    URIs: []string{"https://widgets-1.example.com", "https://widgets-2.example.com"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	resp, err := client.Get(ctx, "/api/widgets")
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
// # Live Configuration
//
// ClientFactory builds clients bound to a refreshable configuration. When
// the configuration updates, clients rebuild their state atomically;
// requests already in flight finish against the snapshot they started with:
//
//	cfg := refreshable.New(servicesConfig)
//	factory := courier.NewClientFactory(cfg)
//	client, err := factory.Client("widgets")
//
// # Request Bodies
//
// Request payloads implement the Body interface, which supports both fully
// buffered and streamed bodies. A body that reports Reset() as impossible
// is sent at most once; see the Body documentation.
//
// # Errors
//
// Failed requests return typed errors: TransportError for network
// failures, ServiceError for structured server errors, QosError for
// propagated throttle and unavailable responses, BudgetExhaustedError when
// retries run out, and ConfigError for unusable configuration.
package courier
