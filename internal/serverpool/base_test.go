package serverpool

import (
	"testing"
)

func TestServersFromNames(t *testing.T) {
	servers := ServersFromNames([]string{"a:53", "b:53", "c:53"})
	if len(servers) != 3 {
		t.Fatal("Expected 3 servers, got", len(servers))
	}
	for ix, want := range []string{"a:53", "b:53", "c:53"} {
		if servers[ix].Name() != want {
			t.Error("Server", ix, "should be", want, "not", servers[ix].Name())
		}
	}
}

func TestBaseAccessors(t *testing.T) {
	sp, err := NewFailover(FailoverConfig{}, ServersFromNames([]string{"a:53", "b:53"}))
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	if sp.Algorithm() != string(FailoverAlgorithm) {
		t.Error("Algorithm() returned", sp.Algorithm())
	}
	if sp.Len() != 2 {
		t.Error("Len() should be 2, not", sp.Len())
	}

	servers := sp.Servers()
	if len(servers) != 2 || servers[0].Name() != "a:53" {
		t.Error("Servers() should return the configured order", servers)
	}

	servers[0] = servers[1] // Mutating the copy must not affect the pool
	if sp.Servers()[0].Name() != "a:53" {
		t.Error("Servers() must return a copy")
	}
}
