package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(wsConnections, wsRooms, wsEventsDelivered, wsSlowConsumers, broadcastEvents)
}

var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open client connections on this gateway.",
	})

	wsRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms",
		Help: "Conversation rooms with at least one member.",
	})

	wsEventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Events written to client connections, by event name.",
		},
		[]string{"event"},
	)

	wsSlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_slow_consumers_total",
		Help: "Connections dropped because their outbound buffer was full.",
	})

	broadcastEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_total",
			Help: "Events on the broadcast channel, by direction and type.",
		},
		[]string{"direction", "type"}, // published, received
	)
)

func AddConnections(d float64)  { wsConnections.Add(d) }
func SetRooms(n int)            { wsRooms.Set(float64(n)) }
func IncSlowConsumer()          { wsSlowConsumers.Inc() }
func IncDelivered(event string) { wsEventsDelivered.WithLabelValues(norm(event)).Inc() }

func IncBroadcast(direction, eventType string) {
	broadcastEvents.WithLabelValues(norm(direction), norm(eventType)).Inc()
}
