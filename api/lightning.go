package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/go-playground/validator.v8"

	"github.com/volta-protocol/voltgate/amounts"
	"github.com/volta-protocol/voltgate/lnerr"
	"github.com/volta-protocol/voltgate/orchestrator"
)

// getConfig is the route handler for reporting service configuration to
// frontends. Diagnostic fields only show up in development mode.
func (r *RestServer) getConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{
			"isConfigured":  r.config.ProviderConfigured,
			"isDevelopment": r.config.isDevelopment(),
			"environment":   r.config.Environment,
			"network":       r.config.Network,
			"paymentLimits": gin.H{
				"min": amounts.MinVusdAmount,
				"max": amounts.MaxVusdAmount,
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if r.config.isDevelopment() {
			status["webhookUrl"] = r.config.WebhookBaseURL + "/api/lightning/webhook"
			status["debugEnabled"] = r.config.Debug
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  status,
		})
	}
}

// createPaymentFlow is the route handler for starting a new payment: it
// creates the bridge request and invoice pair and hands back the full
// flow.
func (r *RestServer) createPaymentFlow() gin.HandlerFunc {
	type request struct {
		VusdAmount          float64 `json:"vusdAmount"`
		UserStarknetAddress string  `json:"userStarknetAddress" binding:"omitempty,starknetaddress"`
		BtcPriceUsd         float64 `json:"btcPriceUsd"`
		Description         string  `json:"description"`
	}

	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			if _, ok := err.(validator.ValidationErrors); ok {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":  "Validation failed",
					"errors": []string{lnerr.InvalidAddress("userStarknetAddress is not a valid Starknet address").Error()},
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		var missing []string
		if req.VusdAmount == 0 {
			missing = append(missing, "vusdAmount")
		}
		if req.UserStarknetAddress == "" {
			missing = append(missing, "userStarknetAddress")
		}
		if req.BtcPriceUsd == 0 {
			missing = append(missing, "btcPriceUsd")
		}
		if len(missing) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "Missing required fields",
				"required": missing,
			})
			return
		}

		args := orchestrator.CreatePaymentFlowArgs{
			VusdAmount:          req.VusdAmount,
			UserStarknetAddress: req.UserStarknetAddress,
			BtcPriceUsd:         req.BtcPriceUsd,
			Description:         req.Description,
		}
		if result := r.orchestrator.ValidatePaymentRequirements(args); !result.IsValid {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "Validation failed",
				"errors": result.Errors,
			})
			return
		}

		flow, err := r.orchestrator.CreatePaymentFlow(args)
		if err != nil {
			log.WithError(err).Error("Could not create payment flow")
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to create payment flow",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"paymentFlow": flow,
		})
	}
}

// getInvoiceStatus is the route handler for polling a single invoice.
func (r *RestServer) getInvoiceStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		invoiceID := c.Param("invoiceId")
		if invoiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId is required"})
			return
		}

		invoice, err := r.orchestrator.GetInvoice(invoiceID)
		if err != nil {
			log.WithError(err).WithField("invoiceId", invoiceID).
				Error("Could not fetch invoice")
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch invoice",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"invoice": invoice,
		})
	}
}

// getPaymentSummary is the route handler for quoting a payment before
// the caller commits to a flow.
func (r *RestServer) getPaymentSummary() gin.HandlerFunc {
	return func(c *gin.Context) {
		vusdAmount, err := strconv.ParseFloat(c.Query("vusdAmount"), 64)
		if err != nil || vusdAmount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "vusdAmount must be a positive number"})
			return
		}
		btcPriceUsd, err := strconv.ParseFloat(c.Query("btcPriceUsd"), 64)
		if err != nil || btcPriceUsd <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "btcPriceUsd must be a positive number"})
			return
		}

		summary, err := r.orchestrator.GetPaymentSummary(orchestrator.SummaryArgs{
			VusdAmount:  vusdAmount,
			BtcPriceUsd: btcPriceUsd,
		})
		if err != nil {
			if lnerr.Code(err) == lnerr.CodeInvalidAmount {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to compute payment summary",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"summary": summary,
		})
	}
}

// webhookEvent is the payload Chipi Pay posts to our webhook endpoint.
type webhookEvent struct {
	EventType string `json:"event_type"`
	InvoiceID string `json:"invoice_id"`
}

// handleWebhook is the route handler for payment processor callbacks.
// The signature is verified over the exact raw body before any
// processing happens. Unknown event types are acknowledged with 200 so
// the provider doesn't keep retrying them.
func (r *RestServer) handleWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		bridgeID := c.Param("bridgeId")

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
			return
		}

		signature := c.GetHeader("x-chipipay-signature")
		if !r.orchestrator.VerifyWebhookSignature(body, signature) {
			log.WithField("bridgeId", bridgeID).Warn("Rejected webhook with bad signature")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid webhook signature",
			})
			return
		}

		var event webhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
			return
		}

		logger := log.WithField("bridgeId", bridgeID).
			WithField("invoiceId", event.InvoiceID).
			WithField("eventType", event.EventType)

		switch event.EventType {
		case "invoice.paid":
			if _, err := r.orchestrator.ProcessPaymentCompletion(event.InvoiceID); err != nil {
				logger.WithError(err).Error("Could not process payment completion")
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Failed to process payment",
					"message": err.Error(),
				})
				return
			}
			logger.Info("Processed payment completion")
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment processed"})

		case "invoice.expired", "invoice.cancelled":
			reason := orchestrator.TimeoutReasonCancelled
			if event.EventType == "invoice.expired" {
				reason = orchestrator.TimeoutReasonExpired
			}
			if err := r.orchestrator.HandlePaymentTimeout(event.InvoiceID, reason); err != nil {
				logger.WithError(err).Error("Could not handle payment timeout")
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Failed to handle payment timeout",
					"message": err.Error(),
				})
				return
			}
			logger.Info("Handled payment timeout")
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment timeout handled"})

		default:
			logger.Info("Acknowledged unhandled webhook event")
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Event acknowledged"})
		}
	}
}
