package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

// VersionInfo contains build and runtime information.
type VersionInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit,omitempty"`
	BuildDate   string `json:"build_date,omitempty"`
	GoVersion   string `json:"go_version"`
	StoreDriver string `json:"store_driver"`
}

// VersionHandler serves build information.
type VersionHandler struct {
	info VersionInfo
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(version, commit, buildDate, storeDriver string) *VersionHandler {
	return &VersionHandler{
		info: VersionInfo{
			Version:     version,
			Commit:      commit,
			BuildDate:   buildDate,
			GoVersion:   runtime.Version(),
			StoreDriver: storeDriver,
		},
	}
}

// RegisterPublicRoutes registers the version route.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/version", h.Get)
}

// Get returns the build information.
// GET /version
func (h *VersionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}
