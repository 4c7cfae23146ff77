package protocol

// Reserved characters of the burst format.
const (
	// BurstSeparator separates the security token from the payload.
	BurstSeparator = '\x1d'

	// EscapeChar escapes BurstSeparator and itself inside the payload.
	EscapeChar = '\x1b'

	// escapeShift is added to an escaped character.
	escapeShift = 0x30

	// MessageDelimiter terminates the length prefix of a framed message.
	MessageDelimiter = '|'
)

// Response envelope.
const (
	// JSONPrefix guards responses against JSON hijacking.
	JSONPrefix = "for(;;);"

	// JSONContentType is the content type of UIDL responses.
	JSONContentType = "application/json; charset=UTF-8"

	// HTMLContentType is used for upload responses.
	HTMLContentType = "text/html; charset=UTF-8"
)

// Legacy change-variables invocation signature.
const (
	LegacyInterface = "v"
	LegacyMethod    = "v"

	// LegacyCloseVariable is the variable a removed window sends on close.
	LegacyCloseVariable = "close"
)

// DragAndDropID addresses the connector-less drag and drop service.
const DragAndDropID = "DD"

// InitToken is the content of a single-segment burst requesting the
// security key.
const InitToken = "init"

// Request parameter and response field names.
const (
	ParamUIID           = "v-uiId"
	ParamPushID         = "v-pushId"
	ParamCSRFToken      = "v-csrfToken"
	ParamRepaintAll     = "v-repaintAll"
	ParamAnalyzeLayouts = "v-analyzeLayouts"
	ParamResourcePath   = "v-resourcePath"
	ParamTransport      = "X-Atmosphere-Transport"

	FieldSyncID      = "syncId"
	FieldSecurityKey = "Vaadin-Security-Key"
	FieldPushID      = "Vaadin-Push-ID"
	FieldUIID        = "v-uiId"
)

// Request path prefixes, relative to the service root.
const (
	PathUIDL      = "/UIDL/"
	PathInit      = "/INIT"
	PathHeartbeat = "/HEARTBEAT/"
	PathPush      = "/PUSH"
	PathUpload    = "/APP/UPLOAD"
)
