package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/utils"
)

var disconnectAll bool

var clustersCmd = &cobra.Command{
	Use:     "clusters",
	Aliases: []string{"cl"},
	Short:   "List configured clusters",
	Example: `  slurmgate clusters              # List clusters and their node roles
  slurmgate clusters -o json      # Same, as JSON`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		statuses := a.mgr.Clusters()
		return emit(statuses, func() *table {
			t := &table{Header: []string{"Name", "Default", "User", "Nodes", "Description"}}
			for _, st := range statuses {
				def := ""
				if st.IsDefault {
					def = "*"
				}
				t.add(st.Name, def, st.SSHUser, formatRoles(st.AvailableNodes), orDash(st.Description))
			}
			return t
		})
	},
}

var clustersNodesCmd = &cobra.Command{
	Use:   "nodes [cluster]",
	Short: "Show the node roles of a cluster",
	Example: `  slurmgate clusters nodes           # Default cluster
  slurmgate clusters nodes alpha     # A named cluster`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: clusterNameCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := clusterName
		if len(args) > 0 {
			name = args[0]
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		cfg, err := a.mgr.ClusterConfig(name)
		if err != nil {
			return err
		}
		nodes := cfg.Nodes
		return emit(nodes, func() *table {
			t := &table{Header: []string{"Role", "Index", "Host", "Default"}}
			for _, role := range cfg.Roles() {
				for i, host := range nodes[role] {
					def := ""
					if role == cfg.DefaultNode && i == 0 {
						def = "*"
					}
					t.add(role, fmt.Sprint(i), host, def)
				}
			}
			return t
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Test the SSH connection to a cluster node",
	Example: `  slurmgate connect                  # Default node of the default cluster
  slurmgate connect -c alpha -n data # First host of the data role`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			res, err := nc.Transport.Execute(ctx, "hostname", remote.ExecOptions{})
			if err != nil {
				return err
			}
			utils.PrintSuccess("Connected to %s on cluster %s (remote hostname: %s)",
				utils.StyleName(nc.Hostname), utils.StyleName(nc.Cluster), strings.TrimSpace(res.Output()))
			return nil
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Close connections to a cluster",
	Long: `Close connections to a cluster.

Connections only live as long as one command, except under "slurmgate serve".
This command is mostly useful to verify that a connection can be torn down
cleanly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		if disconnectAll {
			if err := a.mgr.DisconnectAll(); err != nil {
				return err
			}
			utils.PrintSuccess("Disconnected from all clusters")
			return nil
		}
		if nodeSpec != "" {
			cfg, err := a.mgr.ClusterConfig(clusterName)
			if err != nil {
				return err
			}
			host, err := cluster.ResolveHost(cfg, nodeSpec)
			if err != nil {
				return err
			}
			found, err := a.mgr.DisconnectNode(cfg.Name, host)
			if err != nil {
				return err
			}
			if !found {
				utils.PrintMessage("No open connection to %s", utils.StyleName(host))
				return nil
			}
			utils.PrintSuccess("Disconnected from %s", utils.StyleName(host))
			return nil
		}
		name := clusterName
		if name == "" {
			name = a.mgr.DefaultCluster()
		}
		if _, err := a.mgr.DisconnectCluster(name); err != nil {
			return err
		}
		utils.PrintSuccess("Disconnected from cluster %s", utils.StyleName(name))
		return nil
	},
}

func formatRoles(nodes map[string][]string) string {
	var parts []string
	for _, role := range sortedKeys(nodes) {
		parts = append(parts, fmt.Sprintf("%s(%d)", role, len(nodes[role])))
	}
	return strings.Join(parts, " ")
}

func init() {
	clustersCmd.AddCommand(clustersNodesCmd)
	disconnectCmd.Flags().BoolVar(&disconnectAll, "all", false, "Disconnect from every cluster")

	rootCmd.AddCommand(clustersCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}
