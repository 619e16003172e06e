package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePopulation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"population": s.queue.Population(),
		"cap":        s.queue.Cap(),
		"sessions":   s.sessions.Count(),
	})
}

func (s *Server) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"depth": s.queue.Len(),
	})
}

func (s *Server) handlePatches(c *gin.Context) {
	summaries := s.patcher.BucketSummaries()
	buckets := make([]gin.H, 0, len(summaries))
	for _, b := range summaries {
		buckets = append(buckets, gin.H{
			"locale":  b.Locale,
			"arch":    b.Arch,
			"os":      b.OS,
			"edges":   b.Edges,
			"rollups": b.Rollups,
		})
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func (s *Server) handleBans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.bans.Count()})
}
