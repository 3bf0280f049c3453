package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/slurmgate/slurmgate/internal/utils"
	"github.com/spf13/viper"
)

// ClustersConfigEnv names the environment variable holding the cluster document path.
const ClustersConfigEnv = "SLURMGATE_CLUSTERS_CONFIG"

// DefaultNodeRole is the role used when a cluster does not set default_node_type.
const DefaultNodeRole = "login"

// clustersConfigExtensions are tried, in order, for each search directory.
var clustersConfigExtensions = []string{"json", "yaml", "yml", "toml"}

// ClusterConfig describes one Slurm cluster. It is immutable once loaded.
type ClusterConfig struct {
	Name        string `mapstructure:"name" json:"name" yaml:"name"`
	Description string `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty"`

	// Deprecated: use Nodes["login"]. Migrated on load.
	SSHHost        string              `mapstructure:"ssh_host" json:"ssh_host,omitempty" yaml:"ssh_host,omitempty"`
	SSHPort        int                 `mapstructure:"ssh_port" json:"ssh_port" yaml:"ssh_port"`
	SSHUser        string              `mapstructure:"ssh_user" json:"ssh_user" yaml:"ssh_user"`
	SSHKeyPath     string              `mapstructure:"ssh_key_path" json:"ssh_key_path,omitempty" yaml:"ssh_key_path,omitempty"`
	SSHPassword    string              `mapstructure:"ssh_password" json:"-" yaml:"-"`
	SSHKnownHosts  string              `mapstructure:"ssh_known_hosts" json:"ssh_known_hosts,omitempty" yaml:"ssh_known_hosts,omitempty"`
	Nodes          map[string][]string `mapstructure:"nodes" json:"nodes" yaml:"nodes"`
	DefaultNode    string              `mapstructure:"default_node_type" json:"default_node_type" yaml:"default_node_type"`
	CommandTimeout int                 `mapstructure:"command_timeout" json:"command_timeout" yaml:"command_timeout"`

	DefaultPartition string `mapstructure:"default_partition" json:"default_partition,omitempty" yaml:"default_partition,omitempty"`
	DefaultAccount   string `mapstructure:"default_account" json:"default_account,omitempty" yaml:"default_account,omitempty"`
	GpuPartitions    string `mapstructure:"gpu_partitions" json:"gpu_partitions,omitempty" yaml:"gpu_partitions,omitempty"`
	CpuPartitions    string `mapstructure:"cpu_partitions" json:"cpu_partitions,omitempty" yaml:"cpu_partitions,omitempty"`

	ImageDir     string `mapstructure:"image_dir" json:"image_dir,omitempty" yaml:"image_dir,omitempty"`
	DefaultImage string `mapstructure:"default_image" json:"default_image,omitempty" yaml:"default_image,omitempty"`

	InteractivePartition   string `mapstructure:"interactive_partition" json:"interactive_partition" yaml:"interactive_partition"`
	InteractiveAccount     string `mapstructure:"interactive_account" json:"interactive_account,omitempty" yaml:"interactive_account,omitempty"`
	InteractiveDefaultTime string `mapstructure:"interactive_default_time" json:"interactive_default_time" yaml:"interactive_default_time"`
	InteractiveDefaultGpus *int   `mapstructure:"interactive_default_gpus" json:"interactive_default_gpus" yaml:"interactive_default_gpus"`
	InteractiveTimeout     int    `mapstructure:"interactive_session_timeout" json:"interactive_session_timeout" yaml:"interactive_session_timeout"`

	UserRoot         string `mapstructure:"user_root" json:"user_root,omitempty" yaml:"user_root,omitempty"`
	DirDatasets      string `mapstructure:"dir_datasets" json:"dir_datasets,omitempty" yaml:"dir_datasets,omitempty"`
	DirResults       string `mapstructure:"dir_results" json:"dir_results,omitempty" yaml:"dir_results,omitempty"`
	DirModels        string `mapstructure:"dir_models" json:"dir_models,omitempty" yaml:"dir_models,omitempty"`
	DirLogs          string `mapstructure:"dir_logs" json:"dir_logs,omitempty" yaml:"dir_logs,omitempty"`
	DirProjects      string `mapstructure:"dir_projects" json:"dir_projects,omitempty" yaml:"dir_projects,omitempty"`
	DirScratch       string `mapstructure:"dir_scratch" json:"dir_scratch,omitempty" yaml:"dir_scratch,omitempty"`
	DirHome          string `mapstructure:"dir_home" json:"dir_home,omitempty" yaml:"dir_home,omitempty"`
	DirContainerRoot string `mapstructure:"dir_container_root" json:"dir_container_root,omitempty" yaml:"dir_container_root,omitempty"`
	GpfsRoot         string `mapstructure:"gpfs_root" json:"gpfs_root,omitempty" yaml:"gpfs_root,omitempty"`
}

// MultiClusterConfig is the root of the cluster document.
type MultiClusterConfig struct {
	DefaultCluster string          `mapstructure:"default_cluster" json:"default_cluster" yaml:"default_cluster"`
	Clusters       []ClusterConfig `mapstructure:"clusters" json:"clusters" yaml:"clusters"`

	// Source is the file the document was loaded from.
	Source string `mapstructure:"-" json:"-" yaml:"-"`
}

// CommandTimeoutDuration is the per-command bound for remote commands.
func (c *ClusterConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// IdleTimeout is how long an interactive session may sit unused.
func (c *ClusterConfig) IdleTimeout() time.Duration {
	return time.Duration(c.InteractiveTimeout) * time.Second
}

// DefaultGpus is the GPU count for a new interactive session.
func (c *ClusterConfig) DefaultGpus() int {
	if c.InteractiveDefaultGpus == nil {
		return 0
	}
	return *c.InteractiveDefaultGpus
}

// Roles returns the configured node roles, sorted.
func (c *ClusterConfig) Roles() []string {
	roles := make([]string, 0, len(c.Nodes))
	for role := range c.Nodes {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// HasHost reports whether hostname is listed under any role.
func (c *ClusterConfig) HasHost(hostname string) bool {
	for _, hosts := range c.Nodes {
		for _, h := range hosts {
			if h == hostname {
				return true
			}
		}
	}
	return false
}

// GpuPartitionList splits gpu_partitions.
func (c *ClusterConfig) GpuPartitionList() []string { return splitList(c.GpuPartitions) }

// CpuPartitionList splits cpu_partitions.
func (c *ClusterConfig) CpuPartitionList() []string { return splitList(c.CpuPartitions) }

// ContainerMounts builds the --container-mounts value from the configured
// directories.
func (c *ClusterConfig) ContainerMounts() string {
	pairs := []struct{ src, dst string }{
		{c.DirDatasets, "/datasets"},
		{c.DirResults, "/results"},
		{c.DirModels, "/models"},
		{c.DirLogs, "/logs"},
		{c.DirProjects, "/projects"},
		{c.DirContainerRoot, "/root"},
		{c.DirHome, "/home"},
		{c.GpfsRoot, "/lustre"},
	}
	var mounts []string
	for _, p := range pairs {
		if p.src != "" {
			mounts = append(mounts, p.src+":"+p.dst)
		}
	}
	return strings.Join(mounts, ",")
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// normalize migrates deprecated keys, fills defaults and checks the
// fields a connection needs.
func (c *ClusterConfig) normalize() error {
	if c.Name == "" {
		return NewConfigurationError("", "name", "cluster name is required")
	}
	if c.SSHUser == "" {
		return NewConfigurationError(c.Name, "ssh_user", "is required")
	}

	hasNodes := false
	for _, hosts := range c.Nodes {
		if len(hosts) > 0 {
			hasNodes = true
			break
		}
	}
	if !hasNodes && c.SSHHost != "" {
		c.Nodes = map[string][]string{DefaultNodeRole: {c.SSHHost}}
		hasNodes = true
	}
	if !hasNodes {
		return NewConfigurationError(c.Name, "nodes", `at least one node must be configured, e.g. "nodes": {"login": ["login.example.org"]}`)
	}

	if c.SSHPort == 0 {
		c.SSHPort = 22
	}
	if c.DefaultNode == "" {
		c.DefaultNode = DefaultNodeRole
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 60
	}
	if c.InteractivePartition == "" {
		c.InteractivePartition = "interactive"
	}
	if c.InteractiveDefaultTime == "" {
		c.InteractiveDefaultTime = "4:00:00"
	}
	if c.InteractiveDefaultGpus == nil {
		gpus := 8
		c.InteractiveDefaultGpus = &gpus
	}
	if c.InteractiveTimeout <= 0 {
		c.InteractiveTimeout = 3600
	}

	if root := strings.TrimRight(c.UserRoot, "/"); root != "" {
		setDefault(&c.DirDatasets, root+"/data")
		setDefault(&c.DirResults, root+"/results")
		setDefault(&c.DirModels, root+"/models")
		setDefault(&c.DirLogs, root+"/logs")
		setDefault(&c.DirProjects, root+"/Projects")
		setDefault(&c.DirContainerRoot, root+"/root")
		setDefault(&c.ImageDir, root+"/images")
	}

	if c.InteractiveAccount == "" {
		c.InteractiveAccount = c.DefaultAccount
	}
	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate normalizes every cluster and checks document-level rules.
func (m *MultiClusterConfig) Validate() error {
	seen := make(map[string]bool, len(m.Clusters))
	for i := range m.Clusters {
		if err := m.Clusters[i].normalize(); err != nil {
			return err
		}
		name := m.Clusters[i].Name
		if seen[name] {
			return NewConfigurationError(name, "", "duplicate cluster name")
		}
		seen[name] = true
	}

	if len(m.Clusters) == 0 {
		return nil
	}
	if m.DefaultCluster == "" {
		m.DefaultCluster = m.Clusters[0].Name
	}
	if !seen[m.DefaultCluster] {
		return NewConfigurationError("", "default_cluster", "cluster %q not found in clusters list", m.DefaultCluster)
	}
	return nil
}

// Cluster returns the named cluster, or the default when name is empty.
func (m *MultiClusterConfig) Cluster(name string) (*ClusterConfig, bool) {
	if name == "" {
		name = m.DefaultCluster
	}
	for i := range m.Clusters {
		if m.Clusters[i].Name == name {
			return &m.Clusters[i], true
		}
	}
	return nil, false
}

// Names lists cluster names in document order.
func (m *MultiClusterConfig) Names() []string {
	names := make([]string, len(m.Clusters))
	for i, c := range m.Clusters {
		names[i] = c.Name
	}
	return names
}

// ClustersConfigCandidates lists the paths searched when no explicit
// cluster document is given.
func ClustersConfigCandidates() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".slurmgate"))
	}
	var out []string
	for _, dir := range dirs {
		for _, ext := range clustersConfigExtensions {
			out = append(out, filepath.Join(dir, "clusters."+ext))
		}
	}
	return out
}

// FindClustersConfig resolves the cluster document path: explicit path,
// then $SLURMGATE_CLUSTERS_CONFIG, then the standard candidates.
func FindClustersConfig(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(ClustersConfigEnv)
	}
	if explicit != "" {
		p := utils.ExpandHome(explicit)
		if !utils.FileExists(p) {
			return "", fmt.Errorf("%w: %s", ErrNoClustersConfig, p)
		}
		return p, nil
	}
	for _, candidate := range ClustersConfigCandidates() {
		if utils.FileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: create ./clusters.json or ~/.slurmgate/clusters.json, or set %s",
		ErrNoClustersConfig, ClustersConfigEnv)
}

// LoadClusters finds, decodes and validates the cluster document.
func LoadClusters(explicit string) (*MultiClusterConfig, error) {
	path, err := FindClustersConfig(explicit)
	if err != nil {
		return nil, err
	}
	return LoadClustersFile(path)
}

// LoadClustersFile decodes and validates one cluster document. The format
// follows the file extension; unknown extensions are read as JSON.
func LoadClustersFile(path string) (*MultiClusterConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".") {
	case "json", "yaml", "yml", "toml":
	default:
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read clusters config %s: %w", path, err)
	}

	var mc MultiClusterConfig
	if err := v.Unmarshal(&mc); err != nil {
		return nil, fmt.Errorf("failed to decode clusters config %s: %w", path, err)
	}
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	mc.Source = path
	return &mc, nil
}
