package handler

import (
	"applybureau/internal/config"
	"applybureau/internal/service"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type Handler struct {
	serviceLayer service.Service
	cfg          *config.Config
	log          *slog.Logger
}

func NewHandler(srvc service.Service, cfg *config.Config, lgr *slog.Logger) *Handler {
	return &Handler{
		serviceLayer: srvc,
		cfg:          cfg,
		log:          lgr,
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	jwtKey := []byte(h.cfg.TokenSecret)

	auth := router.Group("/auth")
	{
		auth.POST("/validate-token", h.ValidateToken)
		auth.POST("/activate", h.Activate)
	}

	clients := router.Group("/clients")
	{
		clients.GET("/:id/unlock-status", h.UnlockStatus)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/login", h.AdminLogin)

		protected := admin.Group("/")
		protected.Use(AdminAuthMiddleware(jwtKey))
		{
			protected.POST("/invites", h.IssueInvite)
			protected.GET("/clients", h.ListClients)
			protected.GET("/clients/:id", h.GetClient)
			protected.POST("/clients/:id/approve-onboarding", h.ApproveOnboarding)
		}
	}

	return router
}

// POST /admin/invites
func (h *Handler) IssueInvite(c *gin.Context) {
	const op = "handler.IssueInvite"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Email            string `json:"email"`
		FullName         string `json:"full_name"`
		PaymentReference string `json:"payment_reference"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "invalid request body")

		return
	}

	if ok := IsValidEmail(req.Email); !ok {
		log.Error("given invalid email", slog.String("email", req.Email))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "not valid email")

		return
	}

	if req.FullName == "" {
		log.Error("given empty full name")

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "empty full name")

		return
	}

	invite, err := h.serviceLayer.IssueRegistrationCredential(c.Request.Context(), req.Email, req.FullName, req.PaymentReference)
	if err != nil {
		log.Error("failed to issue registration credential", slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	// The credential itself travels only inside the invite email.
	c.JSON(http.StatusCreated, gin.H{
		"registrant_id": invite.RegistrantID,
		"expires_at":    invite.ExpiresAt,
	})
}

// POST /auth/validate-token
func (h *Handler) ValidateToken(c *gin.Context) {
	const op = "handler.ValidateToken"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Token string `json:"token"`
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		log.Error("missing registration token", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "missing token")

		return
	}

	registrant, err := h.serviceLayer.ValidateCredential(c.Request.Context(), req.Token)
	if err != nil {
		log.Error("credential rejected", slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"registrant_id": registrant.ID,
		"email":         registrant.Email,
		"full_name":     registrant.FullName,
	})
}

// POST /auth/activate
func (h *Handler) Activate(c *gin.Context) {
	const op = "handler.Activate"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		log.Error("missing registration token", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "missing token")

		return
	}

	if req.Password == "" {
		log.Error("given empty password")

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "empty password")

		return
	}

	account, err := h.serviceLayer.ActivateAccount(c.Request.Context(), req.Token, req.Password)
	if err != nil {
		log.Error("failed to activate account", slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	log.Info("account activated", slog.Any("registrant_id", account.ID))

	c.JSON(http.StatusCreated, account)
}

// GET /clients/:id/unlock-status
func (h *Handler) UnlockStatus(c *gin.Context) {
	const op = "handler.UnlockStatus"

	log := h.log.With(slog.String("op", op))

	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		log.Error("failed to convert to uuid", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "invalid id")

		return
	}

	unlocked, err := h.serviceLayer.IsProfileUnlocked(c.Request.Context(), id)
	if err != nil {
		log.Error("failed to compute unlock status", slog.Any("registrant_id", id), slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// POST /admin/login
func (h *Handler) AdminLogin(c *gin.Context) {
	const op = "handler.AdminLogin"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "invalid request body")

		return
	}

	token, err := h.serviceLayer.AdminLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.Error("admin login rejected", slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// GET /admin/clients
func (h *Handler) ListClients(c *gin.Context) {
	const op = "handler.ListClients"

	log := h.log.With(slog.String("op", op))

	registrants, err := h.serviceLayer.ListRegistrants(c.Request.Context())
	if err != nil {
		log.Error("failed to list registrants", slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	c.JSON(http.StatusOK, registrants)
}

// GET /admin/clients/:id
func (h *Handler) GetClient(c *gin.Context) {
	const op = "handler.GetClient"

	log := h.log.With(slog.String("op", op))

	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		log.Error("failed to convert to uuid", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "invalid id")

		return
	}

	registrant, err := h.serviceLayer.GetRegistrantByID(c.Request.Context(), id)
	if err != nil {
		log.Error("failed to get registrant", slog.Any("registrant_id", id), slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	c.JSON(http.StatusOK, registrant)
}

// POST /admin/clients/:id/approve-onboarding
func (h *Handler) ApproveOnboarding(c *gin.Context) {
	const op = "handler.ApproveOnboarding"

	log := h.log.With(slog.String("op", op))

	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		log.Error("failed to convert to uuid", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, kindValidation, "invalid id")

		return
	}

	if err := h.serviceLayer.ApproveOnboarding(c.Request.Context(), id); err != nil {
		log.Error("failed to approve onboarding", slog.Any("registrant_id", id), slog.Any("error", err))

		handleServiceError(c, err)

		return
	}

	log.Info("onboarding approved", slog.Any("registrant_id", id))

	c.JSON(http.StatusOK, gin.H{"message": "onboarding approved"})
}
