package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ReprocessCustomer re-runs pending ledger events for a gateway customer. It
// is an operator endpoint; there is nothing tenant-facing about it.
func (s *Server) ReprocessCustomer(c *gin.Context) {
	customerRef := strings.TrimSpace(c.Param("ref"))
	if customerRef == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.reconciler.ReprocessCustomer(c.Request.Context(), customerRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type ledgerEventView struct {
	EventID         string     `json:"event_id"`
	EventType       string     `json:"event_type"`
	CustomerRef     *string    `json:"customer_ref,omitempty"`
	SubscriptionRef *string    `json:"subscription_ref,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	Ignored         bool       `json:"ignored"`
}

// ListLedgerEvents serves ledger diagnostics by customer reference.
func (s *Server) ListLedgerEvents(c *gin.Context) {
	customerRef := strings.TrimSpace(c.Query("customer_ref"))
	if customerRef == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	events, err := s.ledgerRepo.ListByCustomer(c.Request.Context(), s.db, customerRef, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]ledgerEventView, 0, len(events))
	for _, event := range events {
		views = append(views, ledgerEventView{
			EventID:         event.EventID,
			EventType:       event.EventType,
			CustomerRef:     event.CustomerRef,
			SubscriptionRef: event.SubscriptionRef,
			ReceivedAt:      event.ReceivedAt,
			ProcessedAt:     event.ProcessedAt,
			Ignored:         event.Ignored,
		})
	}

	c.JSON(http.StatusOK, gin.H{"events": views})
}
