package metrics

import "github.com/prometheus/client_golang/prometheus"

type Config struct {
	ServiceName string
	Registry    prometheus.Registerer
}

type OptionFn func(config Config) Config

func WithServiceName(serviceName string) OptionFn {
	return func(config Config) Config {
		config.ServiceName = serviceName
		return config
	}
}

// WithRegistry registers the exporter on r instead of the default registry.
func WithRegistry(r prometheus.Registerer) OptionFn {
	return func(config Config) Config {
		config.Registry = r
		return config
	}
}
