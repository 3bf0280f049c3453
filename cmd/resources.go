package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/utils"
)

var (
	filterPartition string
	filterState     string
	imagePattern    string
	validateImage   string
)

var partitionsCmd = &cobra.Command{
	Use:     "partitions",
	Aliases: []string{"part"},
	Short:   "List Slurm partitions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			parts, err := nc.Slurm.Partitions(ctx)
			if err != nil {
				return err
			}
			return emit(parts, func() *table {
				t := &table{Header: []string{"Partition", "State", "Nodes (idle/total)", "CPUs (idle/total)", "GPUs", "Max Time"}}
				for _, p := range parts {
					name := p.Name
					if p.Default {
						name += "*"
					}
					gpus := "-"
					if p.HasGpus {
						gpus = fmt.Sprintf("%d %s", p.TotalGpus, strings.Join(p.GpuTypes, ","))
					}
					t.add(name, string(p.State),
						fmt.Sprintf("%d/%d", p.AvailableNodes, p.TotalNodes),
						fmt.Sprintf("%d/%d", p.AvailableCpus, p.TotalCpus),
						strings.TrimSpace(gpus), orDash(p.MaxTime))
				}
				return t
			})
		})
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List compute nodes",
	Example: `  slurmgate nodes                  # All nodes
  slurmgate nodes -p gpu -t idle   # Idle nodes of the gpu partition`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			nodes, err := nc.Slurm.Nodes(ctx, scheduler.NodeFilter{Partition: filterPartition, State: filterState})
			if err != nil {
				return err
			}
			return emit(nodes, func() *table {
				t := &table{Header: []string{"Node", "State", "CPUs (free/total)", "Memory (free/total)", "GPUs", "Partitions"}}
				for _, n := range nodes {
					t.add(n.Name, string(n.State),
						fmt.Sprintf("%d/%d", n.CpusAvailable, n.CpusTotal),
						fmt.Sprintf("%s/%s", utils.FormatMB(n.MemoryAvailableMB), utils.FormatMB(n.MemoryTotalMB)),
						formatGpus(n.Gpus), strings.Join(n.Partitions, ","))
				}
				return t
			})
		})
	},
}

var gpusCmd = &cobra.Command{
	Use:   "gpus",
	Short: "Summarize GPU availability",
	Long: `Summarize GPU availability by partition and GPU type.

Nodes in the "mixed" state are counted as half allocated; the numbers are an
estimate, not an exact count.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			summary, err := nc.Slurm.GpuAvailability(ctx, filterPartition)
			if err != nil {
				return err
			}
			return emit(summary, func() *table {
				t := &table{Header: []string{"Bucket", "Name", "Total", "Allocated", "Available", "Types"}}
				for _, name := range sortedKeys(summary.ByPartition) {
					st := summary.ByPartition[name]
					t.add("partition", name, fmt.Sprint(st.Total), fmt.Sprint(st.Allocated), fmt.Sprint(st.Available), strings.Join(st.Types, ","))
				}
				for _, name := range sortedKeys(summary.ByType) {
					st := summary.ByType[name]
					t.add("type", name, fmt.Sprint(st.Total), fmt.Sprint(st.Allocated), fmt.Sprint(st.Available), "")
				}
				t.add("all", "", fmt.Sprint(summary.Total), fmt.Sprint(summary.Allocated), fmt.Sprint(summary.Available), "")
				return t
			})
		})
	},
}

var imagesCmd = &cobra.Command{
	Use:   "images [dir]",
	Short: "List container images on the cluster",
	Example: `  slurmgate images                     # The cluster's image_dir
  slurmgate images /scratch/images --pattern 'pytorch*'
  slurmgate images --validate /images/pytorch.sqsh`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			if validateImage != "" {
				if err := checkImage(ctx, nc, validateImage); err != nil {
					return err
				}
				if !tableOutput() {
					return emit(map[string]interface{}{"path": validateImage, "valid": true}, nil)
				}
				utils.PrintSuccess("%s is a readable squashfs image", utils.StylePath(validateImage))
				return nil
			}
			images, err := nc.Slurm.ContainerImages(ctx, dir, imagePattern)
			if err != nil {
				return err
			}
			if len(images) == 0 && tableOutput() {
				utils.PrintMessage("No container images found")
				return nil
			}
			return emit(images, func() *table {
				t := &table{Header: []string{"Name", "Size", "Modified", "Path"}}
				for _, img := range images {
					t.add(img.Name, utils.FormatBytes(img.Size), img.Modified.Format("2006-01-02 15:04"), img.Path)
				}
				return t
			})
		})
	},
}

var schedulerCmd = &cobra.Command{
	Use:     "scheduler",
	Aliases: []string{"sched"},
	Short:   "Display scheduler information",
	Long: `Display information about the Slurm installation of a cluster.

Shows the scheduler type, version and whether it answered.`,
	Example: `  slurmgate scheduler           # Default cluster
  slurmgate sched -c beta       # Short alias`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			info := nc.Slurm.Info(ctx)
			if !tableOutput() {
				return emit(info, nil)
			}

			fmt.Println("Scheduler Information:")
			fmt.Printf("  Cluster:   %s\n", utils.StyleName(nc.Cluster))
			fmt.Printf("  Host:      %s\n", utils.StyleName(nc.Hostname))
			fmt.Printf("  Type:      %s\n", utils.StyleInfo(info.Type))
			if info.Version != "" {
				fmt.Printf("  Version:   %s\n", utils.StyleNumber(info.Version))
			}
			if info.Available {
				fmt.Printf("  Status:    %s\n", utils.StyleSuccess("Available"))
			} else {
				fmt.Printf("  Status:    %s\n", utils.StyleError("Unavailable"))
				fmt.Println()
				fmt.Println("sinfo did not answer on this node; check that Slurm is installed and in PATH.")
			}
			return nil
		})
	},
}

// isImagePath reports whether image names a file on the cluster rather
// than a registry reference such as nvcr.io#nvidia/pytorch:24.01-py3.
func isImagePath(image string) bool {
	return strings.HasPrefix(image, "/") || strings.HasPrefix(image, "~") || utils.IsSqf(image)
}

// checkImage fails when image is a file path the cluster cannot read as a
// squashfs image. Registry references are left to pyxis.
func checkImage(ctx context.Context, nc *cluster.NodeConnection, image string) error {
	if !isImagePath(image) {
		return nil
	}
	valid, err := nc.Slurm.ValidateContainerImage(ctx, image)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("container image %s is not a readable squashfs image on %s", image, nc.Hostname)
	}
	return nil
}

func formatGpus(gpus []scheduler.GpuResource) string {
	if len(gpus) == 0 {
		return "-"
	}
	parts := make([]string, len(gpus))
	for i, g := range gpus {
		parts[i] = fmt.Sprintf("%s:%d", g.Type, g.Count)
	}
	return strings.Join(parts, ",")
}

func init() {
	nodesCmd.Flags().StringVarP(&filterPartition, "partition", "p", "", "Only nodes of this partition")
	nodesCmd.Flags().StringVarP(&filterState, "state", "t", "", "Only nodes in this state (idle, mixed, ...)")
	gpusCmd.Flags().StringVarP(&filterPartition, "partition", "p", "", "Only GPUs of this partition")
	imagesCmd.Flags().StringVar(&imagePattern, "pattern", "", "Only images whose file name matches this glob")
	imagesCmd.Flags().StringVar(&validateImage, "validate", "", "Check that this image path is a readable squashfs image instead of listing")

	rootCmd.AddCommand(partitionsCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(gpusCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(schedulerCmd)
}
