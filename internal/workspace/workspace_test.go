package workspace

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "my-workspace", "ws_2", "a"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Main", "work space", "ws/1", "..", strings.Repeat("a", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsUnderWorkspaceDir(t *testing.T) {
	dir := Dir("main")
	for _, p := range []string{
		LockPath("main"),
		GatewayDBPath("main"),
		CacheDBPath("main"),
		LogPath("main"),
	} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("path %q not under workspace dir %q", p, dir)
		}
	}
}

func TestPathsDistinctPerWorkspace(t *testing.T) {
	if CacheDBPath("work") == CacheDBPath("personal") {
		t.Error("cache paths must differ per workspace")
	}
	if GatewayDBPath("work") == GatewayDBPath("personal") {
		t.Error("gateway store paths must differ per workspace")
	}
}

func TestGatewayAndCacheDBsSeparate(t *testing.T) {
	if GatewayDBPath("main") == CacheDBPath("main") {
		t.Error("gateway session store and engine cache must be separate files")
	}
}
