package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/roma-frontend/fitauth"
)

type faceRequest struct {
	Descriptor fitauth.Descriptor `json:"descriptor"`
	FaceData   string             `json:"face_data"`
	Confidence float64            `json:"confidence" binding:"required"`
	Device     fitauth.DeviceInfo `json:"device"`
}

func (r faceRequest) registration(c *gin.Context) fitauth.FaceRegistration {
	device := r.Device
	if device.UserAgent == "" {
		device.UserAgent = c.Request.UserAgent()
	}
	return fitauth.FaceRegistration{
		Descriptor: r.Descriptor,
		FaceData:   r.FaceData,
		Confidence: r.Confidence,
		Device:     device,
	}
}

func (h *Handler) FaceIDStatus(c *gin.Context) {
	h.faceStatus(c, caller(c).UserID)
}

func (h *Handler) UserFaceIDStatus(c *gin.Context) {
	h.faceStatus(c, c.Param("id"))
}

func (h *Handler) faceStatus(c *gin.Context, userID string) {
	st, err := h.Engine.GetFaceIDStatus(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) RegisterFaceID(c *gin.Context) {
	var req faceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.Engine.RegisterFaceID(c.Request.Context(), caller(c).UserID, req.registration(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) UpdateFaceID(c *gin.Context) {
	var req faceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.Engine.UpdateFaceID(c.Request.Context(), caller(c).UserID, req.registration(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// DisableFaceID lets the caller switch off their own face login.
func (h *Handler) DisableFaceID(c *gin.Context) {
	me := caller(c).UserID
	if err := h.Engine.DisableFaceID(c.Request.Context(), me, me); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) AdaptiveFaceID(c *gin.Context) {
	s, err := h.Engine.GetAdaptiveFaceIDSettings(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) AdminDisableFaceID(c *gin.Context) {
	if err := h.Engine.DisableFaceID(c.Request.Context(), c.Param("id"), caller(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) TemporaryDisableFaceID(c *gin.Context) {
	var input struct {
		Duration string `json:"duration" binding:"required"`
		Reason   string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	d, err := time.ParseDuration(input.Duration)
	if err != nil {
		badRequest(c, err)
		return
	}

	until, err := h.Engine.TemporaryDisableFaceID(c.Request.Context(), c.Param("id"), d, input.Reason, caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled_until": until})
}

func (h *Handler) ForceReregistration(c *gin.Context) {
	var input struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Engine.ForceFaceIDReregistration(c.Request.Context(), c.Param("id"), input.Reason, caller(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
