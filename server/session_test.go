package server

import (
	"strings"
	"testing"
)

func TestDeriveSessionID(t *testing.T) {
	t.Parallel()

	id := DeriveSessionID("203.0.113.7")
	if !strings.HasPrefix(id, "session_") {
		t.Errorf("id = %q, want session_ prefix", id)
	}
	if suffix := strings.TrimPrefix(id, "session_"); len(suffix) != 16 {
		t.Errorf("suffix %q has length %d, want 16", suffix, len(suffix))
	}

	if again := DeriveSessionID("203.0.113.7"); again != id {
		t.Errorf("same IP produced different sessions: %q vs %q", id, again)
	}
	if other := DeriveSessionID("203.0.113.8"); other == id {
		t.Errorf("different IPs produced the same session %q", id)
	}
	// Surrounding whitespace must not change the identity.
	if trimmed := DeriveSessionID("  203.0.113.7 "); trimmed != id {
		t.Errorf("whitespace changed the session: %q vs %q", trimmed, id)
	}
}
