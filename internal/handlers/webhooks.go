package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/models"
)

type publishWebhookRequest struct {
	ExternalPostID string `json:"external_post_id" binding:"required"`
	Status         string `json:"status" binding:"required"`
}

// PublishWebhook receives platform publish callbacks. It records the
// webhook signal into extra_metadata and opportunistically resolves the
// log to a terminal state ahead of the reconciler. The status transition
// is conditional on the current status, so a reconciliation pass that got
// there first wins and this call degrades to annotation only.
func PublishWebhook(c *gin.Context) {
	platform := c.Param("platform")

	var req publishWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_post_id and status are required"})
		return
	}

	annotations := models.JSONB{
		models.MetaWebhookReceived: true,
		models.MetaWebhookStatus:   req.Status,
	}

	result, err := db.ExecContext(c.Request.Context(), `
		UPDATE helmsman.publish_logs
		SET extra_metadata = extra_metadata || $3, updated_at = NOW()
		WHERE external_post_id = $1 AND platform = $2`,
		req.ExternalPostID, platform, annotations)
	if err != nil {
		logger.WithError(err).Error("Failed to record webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record webhook"})
		return
	}

	annotated, _ := result.RowsAffected()
	if annotated == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no publish log for external_post_id"})
		return
	}

	resolved := false
	if terminal, newStatus := terminalStatusFor(req.Status); terminal {
		result, err := db.ExecContext(c.Request.Context(), `
			UPDATE helmsman.publish_logs
			SET status = $3, updated_at = NOW()
			WHERE external_post_id = $1 AND platform = $2 AND status IN ('processing', 'retry')`,
			req.ExternalPostID, platform, newStatus)
		if err != nil {
			logger.WithError(err).Error("Failed to resolve publish log from webhook")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve publish log"})
			return
		}
		affected, _ := result.RowsAffected()
		resolved = affected > 0
	}

	logger.WithFields(logging.Fields{
		"platform":         platform,
		"external_post_id": req.ExternalPostID,
		"webhook_status":   req.Status,
		"resolved":         resolved,
	}).Info("Publish webhook received")

	c.JSON(http.StatusOK, gin.H{"recorded": true, "resolved": resolved})
}

// terminalStatusFor maps a platform callback status onto the publish log
// state machine. Non-terminal callback statuses only annotate.
func terminalStatusFor(webhookStatus string) (bool, string) {
	switch webhookStatus {
	case "published":
		return true, models.PublishStatusSuccess
	case "failed", "rejected", "removed":
		return true, models.PublishStatusFailed
	default:
		return false, ""
	}
}
