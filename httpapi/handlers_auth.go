package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/roma-frontend/fitauth"
)

type loginRequest struct {
	Method     fitauth.Method     `json:"method" binding:"required"`
	Email      string             `json:"email"`
	Password   string             `json:"password"`
	Descriptor fitauth.Descriptor `json:"descriptor"`
	FaceData   string             `json:"face_data"`
	QRPayload  string             `json:"qr_payload"`
}

// Login runs the unified login pipeline. Failures carry only the generic
// message of the method.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res := h.Engine.Login(c.Request.Context(), fitauth.Credentials{
		Method:     req.Method,
		Email:      req.Email,
		Password:   req.Password,
		Descriptor: req.Descriptor,
		FaceData:   req.FaceData,
		QRPayload:  req.QRPayload,
	})

	switch {
	case res.Success:
		c.JSON(http.StatusOK, res)
	case res.Error == fitauth.MessageRateLimited:
		c.JSON(http.StatusTooManyRequests, res)
	case res.Error == fitauth.MessageMethodUnsupported:
		c.JSON(http.StatusBadRequest, res)
	default:
		c.JSON(http.StatusUnauthorized, res)
	}
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, caller(c))
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.Engine.Logout(c.Request.Context(), caller(c).SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) LogoutAll(c *gin.Context) {
	n, err := h.Engine.LogoutAll(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var input struct {
		Current string `json:"current" binding:"required"`
		Next    string `json:"next" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Engine.ChangePassword(c.Request.Context(), caller(c).UserID, input.Current, input.Next); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// IssueQR returns a signed QR payload for the caller to display on a second
// device.
func (h *Handler) IssueQR(c *gin.Context) {
	payload, err := h.Engine.IssueQRPayload(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": payload})
}
