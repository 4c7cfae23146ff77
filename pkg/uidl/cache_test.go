package uidl

import "testing"

func TestClientCache(t *testing.T) {
	c := NewClientCache()
	if !c.Cache("ui.Button") {
		t.Fatal("first Cache() = false, want true")
	}
	if c.Cache("ui.Button") {
		t.Fatal("second Cache() = true, want false")
	}
	tag := c.Tag("ui.Button")
	if c.Tag("ui.Label") == tag {
		t.Fatal("distinct types share a tag")
	}

	c.Clear()
	if c.Sent("ui.Button") {
		t.Fatal("Sent() after Clear = true")
	}
	if c.Tag("ui.Button") != tag {
		t.Fatal("tag changed after Clear")
	}
}

func TestResourceRegistry(t *testing.T) {
	tests := []struct {
		resource string
		want     string
	}{
		{"button.js", "connector://button.js"},
		{"connector://theme/base.css", "connector://theme/base.css"},
		{"https://cdn.example.com/x.js", "https://cdn.example.com/x.js"},
		{"//cdn.example.com/y.js", "//cdn.example.com/y.js"},
	}
	r := NewResourceRegistry(nil)
	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			if got := r.Register(tt.resource, "ui.Button"); got != tt.want {
				t.Fatalf("Register(%q) = %q, want %q", tt.resource, got, tt.want)
			}
		})
	}

	r.Register("button.js", "ui.Other")
	if owner, _ := r.Owner("button.js"); owner != "ui.Button" {
		t.Fatalf("Owner(button.js) = %q, want first registration", owner)
	}
	if owner, _ := r.Owner("theme/base.css"); owner != "ui.Button" {
		t.Fatalf("Owner(theme/base.css) = %q", owner)
	}
}
