package uidl

import (
	"encoding/json"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// Notification is a critical message shown by the client, typically
// followed by a reload of url.
type Notification struct {
	Caption string `json:"caption,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Notifications shown for framework level failures.
var (
	SessionExpired = Notification{Caption: "Session Expired", Message: "Take note of any unsaved data, and click here or press ESC to continue."}
	InternalError  = Notification{Caption: "Internal error", Message: "Please notify the administrator. Take note of any unsaved data, and click here or press ESC to continue."}
	Communication  = Notification{Caption: "Communication problem", Message: "Take note of any unsaved data, and click here or press ESC to continue."}
	OutOfSync      = Notification{Caption: "Out of sync", Message: "Your session needs to be refreshed. Click here or press ESC to reload and resynchronize."}
	UINotFound     = Notification{Caption: "UI not found", Message: "The requested UI could not be found. Click here or press ESC to reload."}
)

// WithURL returns a copy of n pointing at url.
func (n Notification) WithURL(url string) Notification {
	n.URL = url
	return n
}

// CriticalNotification encodes n as a complete response the client shows
// before reloading.
func CriticalNotification(n Notification) []byte {
	body, _ := json.Marshal(struct {
		Changes   []any          `json:"changes"`
		Meta      map[string]any `json:"meta"`
		Resources map[string]any `json:"resources"`
		Locales   []any          `json:"locales"`
	}{
		Changes:   []any{},
		Meta:      map[string]any{"appError": n},
		Resources: map[string]any{},
		Locales:   []any{},
	})
	out := make([]byte, 0, len(protocol.JSONPrefix)+len(body)+2)
	out = append(out, protocol.JSONPrefix...)
	out = append(out, '[')
	out = append(out, body...)
	return append(out, ']')
}

// RefreshNotification asks the client to reload without showing a message.
func RefreshNotification() []byte {
	return CriticalNotification(Notification{})
}
