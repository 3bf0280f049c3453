package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/utils"
)

// app is what a command needs to talk to the clusters: the manager and
// the logger it was built with.
type app struct {
	mgr *cluster.Manager
	log *logger.Logger
}

// loadClusters reads the cluster document named by --clusters, the
// settings file or the standard search path.
func loadClusters() (*config.MultiClusterConfig, error) {
	mc, err := config.LoadClusters(config.Global.ClustersConfig)
	if err != nil {
		return nil, err
	}
	utils.PrintDebug("Loaded %d cluster(s) from %s", len(mc.Clusters), utils.StylePath(mc.Source))
	return mc, nil
}

// newApp builds the manager for one command run. The caller must call
// close when done.
func newApp() (*app, error) {
	mc, err := loadClusters()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(config.Global.Log)
	if err != nil {
		return nil, err
	}
	mgr, err := cluster.NewManager(mc, cluster.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if config.Global.DefaultCluster != "" {
		if err := mgr.SetDefaultCluster(config.Global.DefaultCluster); err != nil {
			return nil, err
		}
	}
	return &app{mgr: mgr, log: log}, nil
}

// close ends any sessions this run left behind and drops the connections.
func (a *app) close(ctx context.Context) {
	if err := a.mgr.Close(context.WithoutCancel(ctx)); err != nil {
		utils.PrintWarning("Error while closing connections: %v", err)
	}
	_ = a.log.Sync()
}

// node resolves the --cluster/--node selection.
func (a *app) node(ctx context.Context) (*cluster.NodeConnection, error) {
	nc, err := a.mgr.Resolve(ctx, clusterName, nodeSpec)
	if err != nil {
		return nil, err
	}
	utils.PrintDebug("Using %s on cluster %s", utils.StyleName(nc.Hostname), utils.StyleName(nc.Cluster))
	return nc, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withNode runs fn against the selected node and cleans up afterwards.
func withNode(cmd *cobra.Command, fn func(ctx context.Context, nc *cluster.NodeConnection) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close(ctx)

	nc, err := a.node(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, nc)
}

// clusterNameCompletion completes --cluster from the cluster document.
func clusterNameCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	mc, err := completionClusters(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return mc.Names(), cobra.ShellCompDirectiveNoFileComp
}

// nodeSpecCompletion completes --node with the roles and hosts of the
// selected cluster.
func nodeSpecCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	mc, err := completionClusters(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	name, _ := cmd.Flags().GetString("cluster")
	cfg, ok := mc.Cluster(name)
	if !ok {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, role := range cfg.Roles() {
		out = append(out, role)
		out = append(out, cfg.Nodes[role]...)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func completionClusters(cmd *cobra.Command) (*config.MultiClusterConfig, error) {
	path, _ := cmd.Flags().GetString("clusters")
	return config.LoadClusters(path)
}
