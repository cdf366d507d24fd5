package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lintRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapeoutops",
		Name:      "lint_runs_total",
		Help:      "Specification lint runs by result.",
	}, []string{"result"})

	evidenceUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapeoutops",
		Name:      "evidence_uploads_total",
		Help:      "Evidence upload attempts by outcome.",
	}, []string{"outcome"})
)
