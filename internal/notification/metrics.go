// internal/notification/metrics.go

package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notification_pushes_total",
	Help: "Push notifications by event type and outcome",
}, []string{"type", "outcome"})
