package metrics

import (
	coremetrics "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/metrics"
)

// NewSink builds the sink stack selected by the configuration. Prometheus is
// always on; InfluxDB joins when enabled and healthy.
func NewSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	prom, err := NewPromSink()
	if err != nil {
		return nil, err
	}
	if !cfg.InfluxEnabled {
		return prom, nil
	}
	influx := NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
	return NewMultiSink(prom, influx), nil
}
