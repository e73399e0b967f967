package entity

import "github.com/prometheus/client_golang/prometheus"

var operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_operations_total",
	Help: "Entity pipeline operations by kind, operation and outcome",
}, []string{"kind", "op", "outcome"})

func init() {
	prometheus.MustRegister(operationsTotal)
}

func opCounter(kind string, op Op, outcome string) {
	operationsTotal.WithLabelValues(kind, string(op), outcome).Inc()
}
