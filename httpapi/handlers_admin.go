package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/roma-frontend/fitauth"
)

func (h *Handler) BlockUser(c *gin.Context) {
	var input struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Engine.BlockUser(c.Request.Context(), c.Param("id"), input.Reason, caller(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) UnblockUser(c *gin.Context) {
	if err := h.Engine.UnblockUser(c.Request.Context(), c.Param("id"), caller(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) UserRisk(c *gin.Context) {
	p, err := h.Engine.GetUserRiskProfile(c.Request.Context(), c.Param("id"), c.Query("period"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// auditFilter reads user_id, method, action, success, from, to (RFC 3339)
// and limit from the query string.
func auditFilter(c *gin.Context) (fitauth.AuditFilter, error) {
	f := fitauth.AuditFilter{
		UserID: c.Query("user_id"),
		Method: fitauth.Method(c.Query("method")),
		Action: c.Query("action"),
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("success: %w", err)
		}
		f.Success = &b
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := c.Query(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s: %w", name, err)
			}
			*dst = t
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("limit: %w", err)
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) AccessLogs(c *gin.Context) {
	f, err := auditFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	entries, err := h.Engine.GetAccessLogs(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []fitauth.AuditEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) ExportLogs(c *gin.Context) {
	f, err := auditFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	format := fitauth.ExportFormat(c.DefaultQuery("format", string(fitauth.ExportJSON)))
	data, err := h.Engine.ExportSecurityLogs(c.Request.Context(), format, f)
	if err != nil {
		writeError(c, err)
		return
	}

	contentType := "application/json"
	if format == fitauth.ExportCSV {
		contentType = "text/csv"
	}
	c.Header("Content-Disposition", "attachment; filename=security-logs."+string(format))
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) VerifyChain(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.Engine.VerifyAuditChain(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": n})
}

func (h *Handler) CleanupLogs(c *gin.Context) {
	var input struct {
		OlderThan string `json:"older_than" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	d, err := time.ParseDuration(input.OlderThan)
	if err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.Engine.CleanupAuditLogs(c.Request.Context(), d)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) Analytics(c *gin.Context) {
	report, err := h.Engine.GetSecurityAnalytics(c.Request.Context(), c.Query("period"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Suspicious(c *gin.Context) {
	suspects, err := h.Engine.DetectSuspiciousActivity(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if suspects == nil {
		suspects = []fitauth.Suspect{}
	}
	c.JSON(http.StatusOK, suspects)
}

func (h *Handler) RunProtection(c *gin.Context) {
	report, err := h.Engine.AutoBlockOnSuspiciousActivity(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Posture(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.SecurityPosture())
}
