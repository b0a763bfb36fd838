package server

import (
	"errors"
	"io"
	"net/http"

	gatewaydomain "github.com/clearhaven/dunlin/internal/gateway/domain"
	"github.com/clearhaven/dunlin/internal/reconcile"
	"github.com/gin-gonic/gin"
)

const signatureHeader = "Stripe-Signature"

// HandlePaymentWebhook is the two-phase ingress. Only a signature failure is a
// client error; replays and unresolvable events acknowledge with 200 so the
// gateway stops redelivering, while gateway outages answer 502 so it retries.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ack, err := s.reconciler.Acknowledge(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidSignature) || errors.Is(err, gatewaydomain.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		AbortWithError(c, err)
		return
	}

	if ack.Ignored {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	// A replayed event still runs phase 2: if a previous delivery crashed
	// between the ledger write and the reconcile, the redelivery finishes
	// the work; otherwise the ledger short-circuits it.
	if err := s.reconciler.Reconcile(c.Request.Context(), ack); err != nil {
		if errors.Is(err, reconcile.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
