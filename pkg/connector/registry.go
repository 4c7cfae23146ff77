package connector

import (
	"fmt"
	"sync"
)

// TypeInfo describes a connector type.
type TypeInfo struct {
	// Name is the type name sent to the client.
	Name string

	// Super is the declared supertype, empty for a root type.
	Super string

	// Scripts and Styles are client dependencies loaded the first time the
	// client learns about the type.
	Scripts []string
	Styles  []string
}

type methodKey struct {
	typeName string
	iface    string
	method   string
	arity    int
}

// Registry holds the connector type graph and the server RPC methods of each
// type. Types form a DAG: a supertype must be registered before its
// subtypes, which rules out cycles. A Registry is safe for concurrent use
// and is normally shared by all sessions.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]*TypeInfo
	depth   map[string]int
	methods map[methodKey]Method
	ifaces  map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]*TypeInfo),
		depth:   make(map[string]int),
		methods: make(map[methodKey]Method),
		ifaces:  make(map[string]map[string]struct{}),
	}
}

// RegisterType adds a type. The supertype, if any, must already exist.
func (r *Registry) RegisterType(info TypeInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownType)
	}
	if _, ok := r.types[info.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTypeExists, info.Name)
	}
	depth := 0
	if info.Super != "" {
		d, ok := r.depth[info.Super]
		if !ok {
			return fmt.Errorf("%w: supertype %s of %s", ErrUnknownType, info.Super, info.Name)
		}
		depth = d + 1
	}
	t := info
	r.types[info.Name] = &t
	r.depth[info.Name] = depth
	return nil
}

// MustRegisterType is like RegisterType but panics on error.
func (r *Registry) MustRegisterType(info TypeInfo) {
	if err := r.RegisterType(info); err != nil {
		panic(err)
	}
}

// Type returns the registered type info.
func (r *Registry) Type(name string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return TypeInfo{}, false
	}
	return *t, true
}

// Super returns the supertype of name, empty for roots and unknown types.
func (r *Registry) Super(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[name]; ok {
		return t.Super
	}
	return ""
}

// Depth returns the inheritance depth of name; root types have depth 0.
// Unknown types report -1.
func (r *Registry) Depth(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.depth[name]
	if !ok {
		return -1
	}
	return d
}

// Ancestors returns the supertypes of name, nearest first.
func (r *Registry) Ancestors(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for t, ok := r.types[name]; ok && t.Super != ""; t, ok = r.types[t.Super] {
		out = append(out, t.Super)
	}
	return out
}

// RegisterRPC adds a server RPC method for a type. Subtypes inherit it.
func (r *Registry) RegisterRPC(typeName, iface, method string, m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[methodKey{typeName, iface, method, m.Arity}] = m
	set := r.ifaces[typeName]
	if set == nil {
		set = make(map[string]struct{})
		r.ifaces[typeName] = set
	}
	set[iface] = struct{}{}
}

// HasInterface reports whether typeName or one of its supertypes has any
// method registered for iface.
func (r *Registry) HasInterface(typeName, iface string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := typeName; name != ""; name = r.superLocked(name) {
		if _, ok := r.ifaces[name][iface]; ok {
			return true
		}
	}
	return false
}

// LookupRPC finds the method for typeName, walking supertypes.
func (r *Registry) LookupRPC(typeName, iface, method string, arity int) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := typeName; name != ""; name = r.superLocked(name) {
		if m, ok := r.methods[methodKey{name, iface, method, arity}]; ok {
			return m, true
		}
	}
	return Method{}, false
}

func (r *Registry) superLocked(name string) string {
	if t, ok := r.types[name]; ok {
		return t.Super
	}
	return ""
}
