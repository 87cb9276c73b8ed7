package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"member-registry/internal/domain"
	"member-registry/internal/service"
	"member-registry/internal/token"
)

// Config carries router-level settings.
type Config struct {
	ServiceName string
	CORSOrigins []string
	RateLimiter *RateLimiter
	Logger      *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	cfg       Config
	referrals service.ReferralService
	users     service.UserService
	activity  service.ActivityService
	tokens    *token.Issuer
}

func NewHandler(cfg Config, referrals service.ReferralService, users service.UserService, activity service.ActivityService, tokens *token.Issuer) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "member-registry"
	}
	return &Handler{
		cfg:       cfg,
		referrals: referrals,
		users:     users,
		activity:  activity,
		tokens:    tokens,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.cfg.Logger))
	router.Use(corsMiddleware(h.cfg.CORSOrigins))
	router.Use(otelgin.Middleware(h.cfg.ServiceName))
	router.Use(authenticate(h.tokens, h.users))

	limited := h.cfg.RateLimiter.Handler()
	authed := requireActor()
	admin := requireAdmin()

	api := router.Group("/api/v1")
	{
		api.POST("/referrer", h.confirmReferral)
		api.DELETE("/referrer", h.rejectReferral)
		api.GET("/social/referrer", h.pendingReferrals)
		api.GET("/social/referrer/:id", h.pendingReferrals)

		api.POST("/user", limited, h.createUser)
		api.PUT("/user", authed, h.updateUser)
		api.DELETE("/user", authed, h.deleteUser)
		api.GET("/user", h.getUsers)
		api.GET("/user/usercount", h.countUsers)
		api.GET("/user/:id", h.getUsers)
		api.POST("/user/validatereferee", h.validateReferee)
		api.POST("/user/alertreferee", limited, h.alertReferees)
		api.POST("/user/upload", limited, h.uploadImage)
		api.PUT("/user/change/:token", h.changePassword)
		api.PUT("/user/:id", limited, h.forgotPassword)

		api.POST("/auth/login", limited, h.login)

		api.GET("/notifications", authed, h.listNotifications)
		api.PUT("/notifications/:id/read", authed, h.markNotificationRead)

		api.GET("/audit", admin, h.listAudit)
		api.GET("/storage/objects", admin, h.listObjects)

		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

type referralRequest struct {
	ID        string `json:"id" form:"id"`
	RefereeID string `json:"refereeId" form:"refereeId"`
}

type createUserRequest struct {
	domain.Profile
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
	Referrer1       string `json:"referrer1" form:"referrer1"`
	Referrer2       string `json:"referrer2" form:"referrer2"`
	MembershipPlan  string `json:"membershipPlan" form:"membershipPlan"`
}

type updateUserRequest struct {
	domain.ProfilePatch
	ID               string                   `json:"id" form:"id"`
	Email            *string                  `json:"email" form:"email"`
	Role             *domain.Role             `json:"role" form:"role"`
	MembershipStatus *domain.MembershipStatus `json:"membershipStatus" form:"membershipStatus"`
	MembershipFee    *domain.MembershipFee    `json:"membershipFee" form:"membershipFee"`
	MembershipPlan   *string                  `json:"membershipPlan" form:"membershipPlan"`
}

type idRequest struct {
	ID string `json:"id" form:"id"`
}

type emailRequest struct {
	Email string `json:"email" form:"email"`
}

type alertRequest struct {
	ID          string `json:"id" form:"id"`
	ReferrerURL string `json:"referrerUrl" form:"referrerUrl"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" form:"email"`
	URL   string `json:"url" form:"url"`
}

type changePasswordRequest struct {
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// bind decodes a JSON body when one is sent and falls back to query parameters.
func bind(c *gin.Context, dst any) bool {
	if c.Request.ContentLength != 0 && strings.Contains(c.ContentType(), "json") {
		if err := c.ShouldBindJSON(dst); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "err": "invalid request body: " + err.Error()})
			return false
		}
		return true
	}
	if err := c.ShouldBindQuery(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "err": "invalid query: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) confirmReferral(c *gin.Context) {
	h.decideReferral(c, true)
}

func (h *Handler) rejectReferral(c *gin.Context) {
	h.decideReferral(c, false)
}

func (h *Handler) decideReferral(c *gin.Context, approved bool) {
	var req referralRequest
	if !bind(c, &req) {
		return
	}

	decide := h.referrals.Confirm
	if !approved {
		decide = h.referrals.Reject
	}
	outcome, err := decide(c.Request.Context(), req.ID, req.RefereeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": outcome.Message})
}

func (h *Handler) pendingReferrals(c *gin.Context) {
	if id := c.Param("id"); id != "" {
		user, err := h.referrals.Pending(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
		return
	}

	users, err := h.referrals.ListPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) validateReferee(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}
	if err := h.referrals.ValidateReferee(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "The referee is valid"})
}

func (h *Handler) alertReferees(c *gin.Context) {
	var req alertRequest
	if !bind(c, &req) {
		return
	}
	if err := h.referrals.AlertReferees(c.Request.Context(), req.ID, req.ReferrerURL); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "The referees has been alerted."})
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.users.Create(c.Request.Context(), service.CreateUserInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Referrer1:       req.Referrer1,
		Referrer2:       req.Referrer2,
		MembershipPlan:  req.MembershipPlan,
		Profile:         req.Profile,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": user.Email, "id": user.ID, "role": user.Role})
}

func (h *Handler) updateUser(c *gin.Context) {
	var req updateUserRequest
	if !bind(c, &req) {
		return
	}
	actor, _ := actorFrom(c)

	_, err := h.users.Update(c.Request.Context(), actor, service.UpdateUserInput{
		ID:               req.ID,
		Email:            req.Email,
		Profile:          req.ProfilePatch,
		Role:             req.Role,
		MembershipStatus: req.MembershipStatus,
		MembershipFee:    req.MembershipFee,
		MembershipPlan:   req.MembershipPlan,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "User with id " + strings.TrimSpace(req.ID) + " has been updated"})
}

func (h *Handler) deleteUser(c *gin.Context) {
	var req idRequest
	if !bind(c, &req) {
		return
	}
	actor, _ := actorFrom(c)

	if err := h.users.Delete(c.Request.Context(), actor, req.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "User with id " + strings.TrimSpace(req.ID) + " has been deleted"})
}

func (h *Handler) getUsers(c *gin.Context) {
	if id := c.Param("id"); id != "" {
		user, err := h.users.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
		return
	}

	users, err := h.users.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) countUsers(c *gin.Context) {
	count, err := h.users.Count(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, strconv.FormatInt(count, 10))
}

func (h *Handler) uploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxImageBytes+1<<20)

	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, fmt.Errorf("%w: No file uploaded!", service.ErrMissingParameter))
		return
	}
	src, err := file.Open()
	if err != nil {
		writeError(c, fmt.Errorf("%w: No file uploaded!", service.ErrMissingParameter))
		return
	}
	defer src.Close()

	objectURL, err := h.users.UploadImage(c.Request.Context(), file.Filename, file.Size, src, file.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "bannerUrl": objectURL})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.users.ForgotPassword(c.Request.Context(), req.Email, req.URL); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Click on the link sent to your email to change your password."})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bind(c, &req) {
		return
	}
	actor, _ := actorFrom(c)

	if err := h.users.ChangePassword(c.Request.Context(), actor, c.Param("token"), req.Password, req.ConfirmPassword); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Password successfully changed."})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"id":    result.User.ID,
		"email": result.User.Email,
		"role":  result.User.Role,
	})
}

func (h *Handler) listNotifications(c *gin.Context) {
	actor, _ := actorFrom(c)
	list, err := h.activity.Notifications(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	actor, _ := actorFrom(c)
	if err := h.activity.MarkRead(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Notification marked as read."})
}

func (h *Handler) listAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "err": "invalid limit"})
		return
	}
	actor, _ := actorFrom(c)
	entries, err := h.activity.AuditLog(c.Request.Context(), actor, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) listObjects(c *gin.Context) {
	actor, _ := actorFrom(c)
	objects, err := h.users.ListImages(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, objects)
}
