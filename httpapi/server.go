package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/permission"
)

// Handler serves the fitauth JSON API.
type Handler struct {
	Engine *fitauth.Engine
	Roles  *permission.Roles
}

// New returns a handler. A nil roles table uses [DefaultRoles].
func New(engine *fitauth.Engine, roles *permission.Roles) *Handler {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &Handler{Engine: engine, Roles: roles}
}

// Router builds a gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r)
	return r
}

// Register mounts the API under /v1 on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.Use(clientMetadata())

	v1.POST("/login", h.Login)

	me := v1.Group("")
	me.Use(h.requireToken())
	me.GET("/me", h.Me)
	me.POST("/logout", h.Logout)
	me.POST("/logout-all", h.LogoutAll)
	me.POST("/password", h.ChangePassword)
	me.POST("/qr", h.IssueQR)
	me.GET("/faceid", h.FaceIDStatus)
	me.POST("/faceid", h.RegisterFaceID)
	me.PUT("/faceid", h.UpdateFaceID)
	me.DELETE("/faceid", h.DisableFaceID)
	me.GET("/faceid/adaptive", h.AdaptiveFaceID)

	admin := v1.Group("/admin")
	admin.Use(h.requireToken())

	admin.POST("/users/:id/block", h.requirePermission(PermAccountsManage), h.BlockUser)
	admin.POST("/users/:id/unblock", h.requirePermission(PermAccountsManage), h.UnblockUser)
	admin.GET("/users/:id/risk", h.requirePermission(PermSecurityRead), h.UserRisk)
	admin.GET("/users/:id/faceid", h.requirePermission(PermFaceIDManage), h.UserFaceIDStatus)
	admin.POST("/users/:id/faceid/disable", h.requirePermission(PermFaceIDManage), h.AdminDisableFaceID)
	admin.POST("/users/:id/faceid/suspend", h.requirePermission(PermFaceIDManage), h.TemporaryDisableFaceID)
	admin.POST("/users/:id/faceid/reregister", h.requirePermission(PermFaceIDManage), h.ForceReregistration)

	admin.GET("/logs", h.requirePermission(PermAuditRead), h.AccessLogs)
	admin.GET("/logs/export", h.requirePermission(PermAuditExport), h.ExportLogs)
	admin.GET("/logs/verify", h.requirePermission(PermAuditRead), h.VerifyChain)
	admin.POST("/logs/cleanup", h.requirePermission(PermAuditManage), h.CleanupLogs)

	admin.GET("/analytics", h.requirePermission(PermSecurityRead), h.Analytics)
	admin.GET("/suspicious", h.requirePermission(PermSecurityRead), h.Suspicious)
	admin.POST("/protection/run", h.requirePermission(PermSecurityManage), h.RunProtection)
	admin.GET("/posture", h.requirePermission(PermSecurityRead), h.Posture)
}
