package uidl

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// ClientCache records what one UI's client already knows: the numeric tag
// of every type and which type mappings were sent. It is guarded by the
// session lock.
type ClientCache struct {
	tags        map[string]int
	nextTag     int
	sent        map[string]struct{}
	lastTimeout int
}

// NewClientCache creates an empty cache.
func NewClientCache() *ClientCache {
	return &ClientCache{
		tags: make(map[string]int),
		sent: make(map[string]struct{}),
	}
}

// Tag returns the numeric tag for a type name, assigning one on first use.
// Tags survive Clear so ids already held by the client stay valid.
func (c *ClientCache) Tag(typeName string) int {
	if t, ok := c.tags[typeName]; ok {
		return t
	}
	t := c.nextTag
	c.nextTag++
	c.tags[typeName] = t
	return t
}

// Cache marks typeName as sent and reports whether it was new.
func (c *ClientCache) Cache(typeName string) bool {
	if _, ok := c.sent[typeName]; ok {
		return false
	}
	c.sent[typeName] = struct{}{}
	return true
}

// Sent reports whether the mapping of typeName was sent.
func (c *ClientCache) Sent(typeName string) bool {
	_, ok := c.sent[typeName]
	return ok
}

// Clear forgets sent mappings, used on full repaint.
func (c *ClientCache) Clear() {
	clear(c.sent)
	c.lastTimeout = 0
}

// ConnectorProtocolPrefix marks dependency urls served by the connector
// resource handler.
const ConnectorProtocolPrefix = "connector://"

// ResourceRegistry maps connector resource names to the type that declared
// them. It is shared by all UIs of a session.
type ResourceRegistry struct {
	mu       sync.Mutex
	contexts map[string]string
	logger   *slog.Logger
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry(logger *slog.Logger) *ResourceRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceRegistry{contexts: make(map[string]string), logger: logger}
}

// Register records a dependency url declared by typeName and returns the
// url to send to the client. Absolute urls are returned unchanged; bare
// paths and connector:// urls become connector resources.
func (r *ResourceRegistry) Register(resource, typeName string) string {
	u, err := url.Parse(resource)
	if err != nil {
		r.logger.Warn("could not parse resource url", "url", resource, "error", err)
		return resource
	}
	switch {
	case u.Scheme == "connector":
		name := strings.TrimPrefix(u.Host+u.Path, "/")
		return r.registerConnectorResource(name, typeName)
	case u.Scheme != "" || u.Host != "":
		return resource
	default:
		return r.registerConnectorResource(resource, typeName)
	}
}

func (r *ResourceRegistry) registerConnectorResource(name, typeName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.contexts[name]; ok {
		if owner != typeName {
			r.logger.Warn("resource defined by two types, using the first",
				"resource", name, "type", typeName, "first", owner)
		}
	} else {
		r.contexts[name] = typeName
	}
	return ConnectorProtocolPrefix + name
}

// Owner returns the type that registered name.
func (r *ResourceRegistry) Owner(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.contexts[name]
	return t, ok
}

func tagString(t int) string { return strconv.Itoa(t) }
