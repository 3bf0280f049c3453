package server

import (
	"github.com/gin-gonic/gin"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/scheduler"
)

type clusterRoutes struct {
	mgr *cluster.Manager
}

func (rt *clusterRoutes) Register(r *gin.RouterGroup) {
	r.GET("/clusters", rt.listClusters) // GET /api/v1/clusters
	g := r.Group("/clusters/:cluster")
	g.POST("/connect", rt.connect)              // POST /api/v1/clusters/{cluster}/connect?node=
	g.POST("/disconnect", rt.disconnect)        // POST /api/v1/clusters/{cluster}/disconnect?node=
	g.GET("/scheduler", rt.schedulerInfo)       // GET /api/v1/clusters/{cluster}/scheduler
	g.GET("/partitions", rt.partitions)         // GET /api/v1/clusters/{cluster}/partitions
	g.GET("/nodes", rt.nodes)                   // GET /api/v1/clusters/{cluster}/nodes?partition=&state=
	g.GET("/gpus", rt.gpus)                     // GET /api/v1/clusters/{cluster}/gpus?partition=
	g.GET("/images", rt.images)                 // GET /api/v1/clusters/{cluster}/images?dir=&pattern=
	g.GET("/images/validate", rt.validateImage) // GET /api/v1/clusters/{cluster}/images/validate?path=
}

// resolveNode picks the node named by ?node= on the path's cluster and
// writes the error reply when that fails.
func resolveNode(c *gin.Context, mgr *cluster.Manager) (*cluster.NodeConnection, bool) {
	nc, err := mgr.Resolve(c.Request.Context(), c.Param("cluster"), c.Query("node"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return nc, true
}

func (rt *clusterRoutes) listClusters(c *gin.Context) {
	list(c, rt.mgr.Clusters())
}

func (rt *clusterRoutes) connect(c *gin.Context) {
	host, err := rt.mgr.ConnectNode(c.Request.Context(), c.Param("cluster"), c.Query("node"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cluster": c.Param("cluster"), "host": host})
}

func (rt *clusterRoutes) disconnect(c *gin.Context) {
	name := c.Param("cluster")
	node := c.Query("node")
	if node == "" {
		found, err := rt.mgr.DisconnectCluster(name)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"cluster": name, "disconnected": found})
		return
	}

	cfg, err := rt.mgr.ClusterConfig(name)
	if err != nil {
		fail(c, err)
		return
	}
	host, err := cluster.ResolveHost(cfg, node)
	if err != nil {
		fail(c, err)
		return
	}
	found, err := rt.mgr.DisconnectNode(name, host)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cluster": name, "host": host, "disconnected": found})
}

func (rt *clusterRoutes) schedulerInfo(c *gin.Context) {
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	ok(c, nc.Slurm.Info(c.Request.Context()))
}

func (rt *clusterRoutes) partitions(c *gin.Context) {
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	parts, err := nc.Slurm.Partitions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	list(c, parts)
}

func (rt *clusterRoutes) nodes(c *gin.Context) {
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	nodes, err := nc.Slurm.Nodes(c.Request.Context(), scheduler.NodeFilter{
		Partition: c.Query("partition"),
		State:     c.Query("state"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	list(c, nodes)
}

func (rt *clusterRoutes) gpus(c *gin.Context) {
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	summary, err := nc.Slurm.GpuAvailability(c.Request.Context(), c.Query("partition"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, summary)
}

func (rt *clusterRoutes) images(c *gin.Context) {
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	images, err := nc.Slurm.ContainerImages(c.Request.Context(), c.Query("dir"), c.Query("pattern"))
	if err != nil {
		fail(c, err)
		return
	}
	list(c, images)
}

func (rt *clusterRoutes) validateImage(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		badRequest(c, "path is required")
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	valid, err := nc.Slurm.ValidateContainerImage(c.Request.Context(), path)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"path": path, "valid": valid})
}
