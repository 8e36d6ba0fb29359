package bus

import "github.com/maxpert/muster/cfg"

func cfgTransport(transportType string) cfg.TransportConfiguration {
	return cfg.TransportConfiguration{
		Type:          cfg.TransportType(transportType),
		SubjectPrefix: "muster-test",
		Compression:   "zstd",
	}
}
