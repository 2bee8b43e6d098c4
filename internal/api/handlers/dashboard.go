package handlers

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MacJediWizard/licensegate/internal/admin"
	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templatesFS embed.FS

// maxFlashLen bounds the confirmation text carried in the redirect URL.
const maxFlashLen = 200

var dashboardFuncs = template.FuncMap{
	"deref": models.StringValue,
	"upper": strings.ToUpper,
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	},
	"isActive": func(l *models.License) bool { return l.IsActive() },
}

// DashboardTemplates parses the embedded dashboard templates.
func DashboardTemplates() (*template.Template, error) {
	return template.New("").Funcs(dashboardFuncs).ParseFS(templatesFS, "templates/*.html")
}

// DashboardHandler serves the HTML operator view.
type DashboardHandler struct {
	operator        Operator
	refreshInterval time.Duration
	logger          zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(operator Operator, refreshInterval time.Duration, logger zerolog.Logger) *DashboardHandler {
	if refreshInterval <= 0 {
		refreshInterval = admin.DefaultRefreshInterval
	}
	return &DashboardHandler{
		operator:        operator,
		refreshInterval: refreshInterval,
		logger:          logger.With().Str("component", "dashboard_handler").Logger(),
	}
}

// RegisterPublicRoutes installs the templates on r and registers the dashboard routes.
func (h *DashboardHandler) RegisterPublicRoutes(r *gin.Engine) error {
	tmpl, err := DashboardTemplates()
	if err != nil {
		return err
	}
	r.SetHTMLTemplate(tmpl)

	r.GET("/dashboard", h.Show)
	r.POST("/dashboard/licenses/status", h.SetStatus)
	return nil
}

type dashboardPage struct {
	Snapshot       *admin.Snapshot
	RefreshSeconds int
	Flash          string
	Error          string
}

// Show renders the latest snapshot.
// GET /dashboard
func (h *DashboardHandler) Show(c *gin.Context) {
	page := dashboardPage{
		RefreshSeconds: int(h.refreshInterval / time.Second),
		Flash:          truncate(c.Query("flash"), maxFlashLen),
		Error:          truncate(c.Query("error"), maxFlashLen),
	}
	if page.RefreshSeconds < 1 {
		page.RefreshSeconds = 1
	}

	snap, err := h.operator.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load dashboard snapshot")
		page.Error = "license storage is unavailable; retrying"
		c.HTML(http.StatusServiceUnavailable, "dashboard.html", page)
		return
	}
	page.Snapshot = snap
	c.HTML(http.StatusOK, "dashboard.html", page)
}

// SetStatus applies the status posted by the kill switch form and redirects
// back with a confirmation. The form carries the target status, so a repeated
// submission leaves the license where the operator put it.
// POST /dashboard/licenses/status
func (h *DashboardHandler) SetStatus(c *gin.Context) {
	key := strings.TrimSpace(c.PostForm("license_key"))
	q := url.Values{}

	status, err := models.ParseLicenseStatus(c.PostForm("status"))
	switch {
	case key == "":
		q.Set("error", "license key is required")
	case err != nil:
		q.Set("error", "unknown status for "+key)
	default:
		change, err := h.operator.SetStatus(c.Request.Context(), key, status)
		switch {
		case err == nil:
			q.Set("flash", change.Message)
		case errors.Is(err, models.ErrLicenseNotFound):
			q.Set("error", "license "+key+" not found")
		default:
			h.logger.Error().Err(err).Str("license_key", key).Msg("dashboard status change failed")
			q.Set("error", "could not change "+key)
		}
	}

	c.Redirect(http.StatusSeeOther, "/dashboard?"+q.Encode())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
