package otel

// Metric prefixes per service area.
const (
	PrefixConfGateway = "confgateway"
	PrefixTeams       = "teams"
)
