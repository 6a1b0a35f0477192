package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/aievent-booking/internal/service"
	"github.com/prohmpiriya/aievent-booking/internal/worker"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/middleware"
	"github.com/prohmpiriya/aievent-booking/pkg/response"
	"github.com/prohmpiriya/aievent-booking/pkg/telemetry"
)

// WorkerStats is implemented by the outbox worker when it runs in-process
type WorkerStats interface {
	GetStats() *worker.OutboxWorkerStats
}

// AdminHandler handles operator endpoints for ticket issuance
type AdminHandler struct {
	bookingService service.BookingService
	worker         WorkerStats
}

// NewAdminHandler creates a new admin handler. w may be nil when the
// worker runs as a separate process.
func NewAdminHandler(bookingService service.BookingService, w WorkerStats) *AdminHandler {
	return &AdminHandler{bookingService: bookingService, worker: w}
}

// ReissueTickets handles POST /admin/bookings/:id/reissue
func (h *AdminHandler) ReissueTickets(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.reissue")
	defer span.End()

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.ReissueTickets(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	uid, _ := middleware.GetUserID(c)
	logger.Get().Ctx(ctx).Info("issuance requeued by operator",
		zap.String("booking_id", bookingID),
		zap.String("operator_id", uid))

	response.Accepted(c, result)
}

// ListFailedIssuance handles GET /admin/bookings/failed-issuance
func (h *AdminHandler) ListFailedIssuance(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.bookingService.ListFailedIssuance(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, result, gin.H{"count": len(result)})
}

// WorkerStatus handles GET /admin/worker
func (h *AdminHandler) WorkerStatus(c *gin.Context) {
	if h.worker == nil {
		response.NotFound(c, "outbox worker is not running in this process")
		return
	}
	response.Success(c, h.worker.GetStats())
}
