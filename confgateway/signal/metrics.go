package signal

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/taskhive/realtime/internal/otel"
)

var (
	// WebSocket connection metrics
	wsConnectionsActive metric.Int64UpDownCounter
	wsConnectionsTotal  metric.Int64Counter
	wsDisconnectsTotal  metric.Int64Counter

	// Auth metrics
	authAttempts metric.Int64Counter
	authFailures metric.Int64Counter

	// RPC metrics
	rpcRequestsTotal  metric.Int64Counter
	rpcRequestsFailed metric.Int64Counter
	rateLimitedTotal  metric.Int64Counter

	// Conference metrics
	sessionsActive       metric.Int64UpDownCounter
	sessionsCreatedTotal metric.Int64Counter
	speakerGrantsTotal   metric.Int64Counter
	speakerExpiriesTotal metric.Int64Counter
	adminActionsTotal    metric.Int64Counter
	relayMessagesTotal   metric.Int64Counter

	// Notification metrics
	notificationsSent   metric.Int64Counter
	notificationsFailed metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("confgateway.signal", intotel.PrefixConfGateway)

	f.Int64UpDownCounter(&wsConnectionsActive, "connections.active",
		metric.WithDescription("Number of active WebSocket connections"))

	f.Int64Counter(&wsConnectionsTotal, "connections.total",
		metric.WithDescription("Total WebSocket connections established"))

	f.Int64Counter(&wsDisconnectsTotal, "disconnects.total",
		metric.WithDescription("Total WebSocket disconnections"))

	f.Int64Counter(&authAttempts, "auth.attempts",
		metric.WithDescription("Total authentication attempts"))

	f.Int64Counter(&authFailures, "auth.failures",
		metric.WithDescription("Total authentication failures"))

	f.Int64Counter(&rpcRequestsTotal, "rpc.requests.total",
		metric.WithDescription("Total RPC requests processed"))

	f.Int64Counter(&rpcRequestsFailed, "rpc.requests.failed",
		metric.WithDescription("Total failed RPC requests"))

	f.Int64Counter(&rateLimitedTotal, "rpc.requests.rate_limited",
		metric.WithDescription("Total RPC requests rejected by the rate limiter"))

	f.Int64UpDownCounter(&sessionsActive, "sessions.active",
		metric.WithDescription("Number of live conference sessions"))

	f.Int64Counter(&sessionsCreatedTotal, "sessions.created.total",
		metric.WithDescription("Total conference sessions created"))

	f.Int64Counter(&speakerGrantsTotal, "speaker.grants.total",
		metric.WithDescription("Total times the floor was granted"))

	f.Int64Counter(&speakerExpiriesTotal, "speaker.expiries.total",
		metric.WithDescription("Total speaker slots released by timer expiry"))

	f.Int64Counter(&adminActionsTotal, "admin.actions.total",
		metric.WithDescription("Total admin actions processed"))

	f.Int64Counter(&relayMessagesTotal, "relay.messages.total",
		metric.WithDescription("Total signaling messages relayed"))

	f.Int64Counter(&notificationsSent, "notifications.sent",
		metric.WithDescription("Total notifications sent to clients"))

	f.Int64Counter(&notificationsFailed, "notifications.failed",
		metric.WithDescription("Total failed notification deliveries"))
}
