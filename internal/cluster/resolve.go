package cluster

import (
	"strconv"
	"strings"

	"github.com/slurmgate/slurmgate/internal/config"
)

// ResolveHost turns a node spec into a hostname. A spec may be a role
// ("login"), a role with an index ("compute:1"), a configured hostname,
// or any dotted hostname.
func ResolveHost(cfg *config.ClusterConfig, spec string) (string, error) {
	if hosts, ok := cfg.Nodes[spec]; ok && len(hosts) > 0 {
		return hosts[0], nil
	}

	if role, idx, ok := strings.Cut(spec, ":"); ok {
		if hosts, found := cfg.Nodes[role]; found {
			i, err := strconv.Atoi(idx)
			if err != nil {
				return "", config.NewConfigurationError(cfg.Name, "node", "invalid index in %q", spec)
			}
			if i < 0 || i >= len(hosts) {
				return "", config.NewConfigurationError(cfg.Name, "node",
					"index %d out of range for role %q (%d hosts)", i, role, len(hosts))
			}
			return hosts[i], nil
		}
	}

	if cfg.HasHost(spec) {
		return spec, nil
	}
	if strings.Contains(spec, ".") {
		return spec, nil
	}

	return "", config.NewConfigurationError(cfg.Name, "node",
		"cannot resolve %q; available roles: %s", spec, strings.Join(cfg.Roles(), ", "))
}
