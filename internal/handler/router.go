package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tutorstack/tutorstack-api/internal/middleware"
	"github.com/tutorstack/tutorstack-api/internal/models"
	"github.com/tutorstack/tutorstack-api/internal/repository"
	"github.com/tutorstack/tutorstack-api/internal/service"
)

// Handlers bundles every HTTP handler for route registration.
type Handlers struct {
	Auth       *AuthHandler
	Users      *UserHandler
	Instructor *InstructorHandler
	Courses    *CourseHandler
	Invites    *InviteHandler
	Billing    *BillingHandler
	Exports    *ExportHandler
	Metrics    *MetricsHandler
}

// RouterConfig toggles optional route groups.
type RouterConfig struct {
	BillingEnabled bool
	ExportsEnabled bool
}

// RegisterRoutes mounts every route group under the API prefix. Webhook and
// invite-accept endpoints are public by design; everything else sits behind
// the JWT gate.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, authSvc *service.AuthService, auditRepo *repository.UserRepository, cfg RouterConfig) {
	api := r.Group(prefix)

	auth := api.Group("/auth")
	{
		auth.POST("/signup", h.Auth.Signup)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), h.Auth.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), h.Auth.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), h.Auth.Me)
	}

	invites := api.Group("/invites")
	{
		invites.POST("", middleware.JWT(authSvc), h.Invites.Create)
		invites.POST("/accept", h.Invites.Accept)
	}

	users := api.Group("/users", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", h.Users.List)
		users.GET("/:id", h.Users.Get)
		users.PATCH("/:id", h.Users.Update)
		users.POST("/:id/suspend", middleware.Audit(auditRepo, "SUSPEND", "user"), h.Users.Suspend)
	}

	instructors := api.Group("/instructors", middleware.JWT(authSvc))
	{
		instructors.GET("", h.Instructor.List)
		instructors.GET("/me", h.Instructor.Me)
		instructors.GET("/:id", h.Instructor.Get)
		instructors.POST("", h.Instructor.Create)
		instructors.PATCH("/:id", h.Instructor.Update)
		instructors.POST("/:id/link", h.Instructor.Link)
		instructors.DELETE("/:id", middleware.Audit(auditRepo, models.AuditActionDelete, "instructor"), h.Instructor.Delete)
	}

	courses := api.Group("/courses", middleware.JWT(authSvc))
	{
		courses.GET("", h.Courses.List)
		courses.GET("/:id", h.Courses.Get)
		courses.POST("", h.Courses.Create)
		courses.PATCH("/:id", h.Courses.Update)
		courses.POST("/:id/regenerate-sessions", h.Courses.Regenerate)
		courses.PUT("/:id/attendance", h.Courses.UpdateAttendance)
		courses.DELETE("/:id", middleware.Audit(auditRepo, models.AuditActionDelete, "course"), h.Courses.Delete)

		if cfg.ExportsEnabled {
			courses.GET("/:id/export/schedule", h.Exports.Schedule)
			courses.GET("/:id/export/financials", h.Exports.Financials)
		}
	}

	if cfg.BillingEnabled {
		billing := api.Group("/billing")
		{
			billing.GET("/subscription", middleware.JWT(authSvc), h.Billing.Subscription)
			billing.POST("/checkout", middleware.JWT(authSvc), h.Billing.Checkout)
			billing.POST("/portal", middleware.JWT(authSvc), h.Billing.Portal)
			billing.POST("/webhook", h.Billing.Webhook)
		}
	}

	r.GET("/metrics", h.Metrics.Prometheus)
}
