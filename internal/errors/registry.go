package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Protocol Errors (E100-E109)
	// ============================================

	"E100": {
		Category:   CategoryProtocol,
		Message:    "Malformed client message",
		Detail:     "The message is not valid JSON or an invocation does not have the expected tuple shape.",
		Suggestion: "Check that the client library matches the server version.",
	},
	"E101": {
		Category: CategoryProtocol,
		Message:  "Invalid message framing",
		Detail:   "A push message carried a bad length prefix, or the stream ended before the declared length was read.",
	},
	"E102": {
		Category:   CategoryProtocol,
		Message:    "Message too large",
		Detail:     "The client message exceeds the maximum accepted size.",
		Suggestion: "Raise maxRequestSize in uisync.json if large messages are expected.",
	},
	"E103": {
		Category: CategoryProtocol,
		Message:  "Multiple bursts in one message",
		Detail:   "A message may carry a single burst preceded by one security token.",
	},

	// ============================================
	// Security Errors (E110-E119)
	// ============================================

	"E110": {
		Category:   CategorySecurity,
		Message:    "Security key mismatch",
		Detail:     "The burst token does not match the CSRF token of the session. No invocation of the message was applied.",
		Suggestion: "Reload the page to receive a fresh security key.",
	},
	"E111": {
		Category: CategorySecurity,
		Message:  "Invalid push id",
		Detail:   "The push connection presented an id that does not belong to the session.",
	},

	// ============================================
	// Application Errors (E120-E129)
	// ============================================

	"E120": {
		Category: CategoryApplication,
		Message:  "Connector handler failed",
		Detail:   "A server method invoked by the client, or a task queued with Access, panicked. The error was routed to the nearest error handler.",
	},
	"E121": {
		Category: CategoryApplication,
		Message:  "Invalid invocation parameters",
		Detail:   "The invocation targets the wrong connector type or has the wrong number of parameters for the registered method.",
	},
	"E122": {
		Category:   CategoryApplication,
		Message:    "Connector type not available",
		Detail:     "The requested connector or UI type is not registered with the server.",
		Suggestion: "Register the type before starting the server.",
	},

	// ============================================
	// Resolution Errors (E130-E139)
	// ============================================

	"E130": {
		Category:   CategoryResolution,
		Message:    "Session expired",
		Detail:     "The session cookie does not name an open session.",
		Suggestion: "Reload the page to start a new session.",
	},
	"E131": {
		Category:   CategoryResolution,
		Message:    "UI not found",
		Detail:     "The UI id in the request does not belong to the session.",
		Suggestion: "Reload the page to create a new UI.",
	},
	"E132": {
		Category:   CategoryResolution,
		Message:    "Session limit reached",
		Detail:     "The server refuses new sessions while maxSessions sessions are open.",
		Suggestion: "Raise maxSessions in uisync.json or lower sessionTimeout.",
	},

	// ============================================
	// Transport Errors (E140-E149)
	// ============================================

	"E140": {
		Category: CategoryTransport,
		Message:  "Push connection not established",
		Detail:   "A push was requested before the client opened its push connection.",
	},
	"E141": {
		Category: CategoryTransport,
		Message:  "Push resource closed",
		Detail:   "The underlying websocket or HTTP response was closed while a message was being sent.",
	},
	"E142": {
		Category:   CategoryTransport,
		Message:    "Push disabled",
		Detail:     "The UI has push mode disabled.",
		Suggestion: "Set push.mode to \"manual\" or \"automatic\".",
	},
	"E143": {
		Category: CategoryTransport,
		Message:  "Session lock not held",
		Detail:   "Push and UI state changes require the session lock. Use Access to run code under the lock.",
	},

	// ============================================
	// Upload Errors (E150-E159)
	// ============================================

	"E150": {
		Category: CategoryUpload,
		Message:  "Upload interrupted",
		Detail:   "The application asked the stream variable to stop.",
	},
	"E151": {
		Category:   CategoryUpload,
		Message:    "Upload too large",
		Detail:     "The upload exceeds the configured maximum size.",
		Suggestion: "Raise upload.maxSize in uisync.json.",
	},
	"E152": {
		Category: CategoryUpload,
		Message:  "Upload ended unexpectedly",
		Detail:   "The multipart stream ended before the closing boundary.",
	},
	"E153": {
		Category: CategoryUpload,
		Message:  "No upload destination",
		Detail:   "The stream variable returned no output stream for the file.",
	},
	"E154": {
		Category: CategoryUpload,
		Message:  "Upload rejected",
		Detail:   "The upload target is unknown, disabled or the security key does not match.",
	},

	// ============================================
	// Config Errors (E160-E169)
	// ============================================

	"E160": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration file",
		Detail:     "uisync.json could not be parsed.",
		Suggestion: "Check the file for JSON syntax errors.",
	},
	"E161": {
		Category:   CategoryConfig,
		Message:    "Invalid port",
		Detail:     "The port must be between 1 and 65535.",
		Suggestion: "Set port in uisync.json or UISYNC_PORT.",
	},
	"E162": {
		Category:   CategoryConfig,
		Message:    "Invalid push setting",
		Detail:     "push.mode must be disabled, manual or automatic, and push.transport must be websocket, streaming or long-polling.",
	},
	"E163": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations use Go syntax such as \"30s\" or \"5m\".",
	},
	"E164": {
		Category:   CategoryConfig,
		Message:    "Invalid upload configuration",
		Detail:     "upload.storage must be \"file\" or \"s3\", and s3 storage needs upload.bucket.",
	},

	"E165": {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Suggestion: "Run 'uisync init' to create uisync.json, or start without --config to use defaults.",
	},

	// ============================================
	// Internal Errors (E199)
	// ============================================

	"E199": {
		Category: CategoryInternal,
		Message:  "Internal error",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a custom error code. Registration is not safe for
// concurrent use and should happen during init.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
