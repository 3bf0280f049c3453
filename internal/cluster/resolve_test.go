package cluster

import (
	"testing"

	"github.com/slurmgate/slurmgate/internal/config"
)

func testClusterConfig(name string) config.ClusterConfig {
	gpus := 0
	return config.ClusterConfig{
		Name:    name,
		SSHUser: "alice",
		SSHPort: 22,
		Nodes: map[string][]string{
			"login":   {"h1", "h2"},
			"data":    {"h3"},
			"compute": {"c1.example.org", "c2.example.org"},
			"empty":   {},
		},
		DefaultNode:            "login",
		CommandTimeout:         60,
		InteractivePartition:   "interactive",
		InteractiveDefaultTime: "1:00:00",
		InteractiveDefaultGpus: &gpus,
		InteractiveTimeout:     3600,
	}
}

func TestResolveHost(t *testing.T) {
	cfg := testClusterConfig("alpha")

	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{"login", "h1", false},
		{"data", "h3", false},
		{"login:1", "h2", false},
		{"compute:0", "c1.example.org", false},
		{"login:5", "", true},
		{"login:-1", "", true},
		{"login:x", "", true},
		{"h2", "h2", false},
		{"c2.example.org", "c2.example.org", false},
		{"other.example.org", "other.example.org", false},
		{"empty", "", true},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ResolveHost(&cfg, tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveHost(%q) = %q; want error", tt.spec, got)
				}
				if !config.IsConfigurationError(err) {
					t.Errorf("ResolveHost(%q) error = %T; want *config.ConfigurationError", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveHost(%q) unexpected error: %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("ResolveHost(%q) = %q; want %q", tt.spec, got, tt.want)
			}
		})
	}
}
