package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

type planRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) GetBillingStatus(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}

	status, err := s.subscriptionSvc.GetBillingStatus(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) UpgradePlan(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}
	target, ok := s.planBody(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.UpgradePlan(c.Request.Context(), tenantID, target); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "upgrade_requested"})
}

func (s *Server) ScheduleDowngrade(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}
	target, ok := s.planBody(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.ScheduleDowngrade(c.Request.Context(), tenantID, target); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "downgrade_scheduled"})
}

func (s *Server) CancelScheduledDowngrade(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.CancelScheduledDowngrade(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "downgrade_canceled"})
}

func (s *Server) DismissDisputeBanner(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.DismissDisputeBanner(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

func (s *Server) DismissRefundBanner(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.DismissRefundBanner(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

func (s *Server) StartCheckout(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}
	target, ok := s.planBody(c)
	if !ok {
		return
	}

	url, err := s.subscriptionSvc.StartCheckout(c.Request.Context(), tenantID, target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) OpenBillingPortal(c *gin.Context) {
	tenantID, ok := s.tenantParam(c)
	if !ok {
		return
	}

	url, err := s.subscriptionSvc.OpenBillingPortal(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) tenantParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) planBody(c *gin.Context) (subscriptiondomain.Plan, bool) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return "", false
	}

	plan := subscriptiondomain.Plan(strings.ToUpper(strings.TrimSpace(req.Plan)))
	if !plan.Valid() {
		AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
		return "", false
	}
	return plan, true
}
