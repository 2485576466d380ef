// Package logging builds the zap loggers used by the Subgate server and
// carries request-scoped loggers through contexts.
package logging

// Standard field names for consistent logging across the application.
const (
	// FieldUserID is the external account id owning a subscription.
	FieldUserID = "user_id"

	// FieldNodeID is the id of a registered node.
	FieldNodeID = "node_id"

	// FieldGroupID is the id of a permission group.
	FieldGroupID = "group_id"

	// FieldRouteID is the id of a route rule.
	FieldRouteID = "route_id"

	// FieldProtocol is a node protocol tag.
	FieldProtocol = "protocol"

	// FieldFormat is the subscription output format.
	FieldFormat = "format"

	// FieldRequestID is a unique identifier for each HTTP request.
	FieldRequestID = "request_id"

	// FieldDuration is the duration of an operation.
	FieldDuration = "duration"

	FieldStatusCode = "status_code"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRemoteAddr = "remote_addr"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"

	// FieldComponent identifies the component or service generating the log.
	FieldComponent = "component"
)
