package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/medialib"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/worker"
	"go.uber.org/zap"
)

type exportManager interface {
	EnqueueMonth(ctx context.Context, year, month int) (int, error)
	EnqueueYear(ctx context.Context, year int) (int, error)
	SwitchDestination(ctx context.Context, dest medialib.Destination) error
	Pause()
	Resume()
	ClearPending()
	CancelAndClear()
	Status() worker.QueueStatus
}

type recordQuery interface {
	ExportInfo(id string) (*core.ExportRecord, bool)
	Records() []*core.ExportRecord
	MonthSummary(year, month, totalItemsInBucket int) core.MonthSummary
	DestinationKey() string
}

type libraryCounter interface {
	Count(ctx context.Context, year, month int) (int, error)
}

type handler struct {
	manager exportManager
	records recordQuery
	library libraryCounter
	logger  *zap.Logger
}

const handlerTimeout = 2 * time.Minute

func NewHandler(m exportManager, r recordQuery, l libraryCounter, logger *zap.Logger) *handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{manager: m, records: r, library: l, logger: logger}
}

func (h *handler) enqueueMonth(c *gin.Context) {
	req := EnqueueMonthRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	queued, err := h.manager.EnqueueMonth(ctx, req.Year, req.Month)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	h.logger.Info("enqueued month export",
		zap.String("reqid", GetRequestID(c)),
		zap.Int("year", req.Year),
		zap.Int("month", req.Month),
		zap.Int("queued", queued),
	)
	c.JSON(http.StatusAccepted, EnqueueResponse{Queued: queued})
}

func (h *handler) enqueueYear(c *gin.Context) {
	req := EnqueueYearRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	queued, err := h.manager.EnqueueYear(ctx, req.Year)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	h.logger.Info("enqueued year export",
		zap.String("reqid", GetRequestID(c)),
		zap.Int("year", req.Year),
		zap.Int("queued", queued),
	)
	c.JSON(http.StatusAccepted, EnqueueResponse{Queued: queued})
}

func (h *handler) getRecord(c *gin.Context) {
	id := c.Param("id")
	SetItemID(c, id)

	rec, ok := h.records.ExportInfo(id)
	if !ok {
		h.errorResponse(c, core.NewRecordNotFoundError(id, "api.getRecord"))
		return
	}
	c.JSON(http.StatusOK, NewRecordResponse(rec))
}

func (h *handler) listRecords(c *gin.Context) {
	c.JSON(http.StatusOK, NewRecordsListResponse(h.records.Records()))
}

func (h *handler) monthSummary(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year <= 0 {
		h.badRequestResponse(c, err)
		return
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 1 || month > 12 {
		h.badRequestResponse(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	total, err := h.library.Count(ctx, year, month)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	summary := h.records.MonthSummary(year, month, total)
	c.JSON(http.StatusOK, NewMonthSummaryResponse(year, month, summary))
}

func (h *handler) queueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, NewQueueStatusResponse(h.manager.Status()))
}

func (h *handler) pauseQueue(c *gin.Context) {
	h.manager.Pause()
	c.JSON(http.StatusOK, NewQueueStatusResponse(h.manager.Status()))
}

func (h *handler) resumeQueue(c *gin.Context) {
	h.manager.Resume()
	c.JSON(http.StatusOK, NewQueueStatusResponse(h.manager.Status()))
}

func (h *handler) clearPending(c *gin.Context) {
	h.manager.ClearPending()
	c.JSON(http.StatusOK, NewQueueStatusResponse(h.manager.Status()))
}

func (h *handler) cancelQueue(c *gin.Context) {
	h.manager.CancelAndClear()
	c.JSON(http.StatusOK, NewQueueStatusResponse(h.manager.Status()))
}

func (h *handler) setDestination(c *gin.Context) {
	req := DestinationRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	if req.Path == nil || *req.Path == "" {
		if err := h.manager.SwitchDestination(ctx, nil); err != nil {
			h.errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, DestinationResponse{})
		return
	}

	dest, err := medialib.NewFolderDestination(*req.Path)
	if err != nil {
		h.badRequestResponse(c, err)
		return
	}
	if err := h.manager.SwitchDestination(ctx, dest); err != nil {
		h.errorResponse(c, err)
		return
	}
	h.logger.Info("destination switched",
		zap.String("reqid", GetRequestID(c)),
		zap.String("key", dest.Key()),
	)
	c.JSON(http.StatusOK, DestinationResponse{Key: dest.Key()})
}

func (h *handler) badRequestResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	p := gin.H{"error": "bad request"}
	if err != nil {
		p["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, p)
}

func (h *handler) errorResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	if err == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
		})
		return
	}

	if appErr, ok := core.AsAppError(err); ok {
		s := appErr.HTTPStatus()
		p := gin.H{
			"error": appErr.PublicMessage(),
			"code":  appErr.Code,
		}
		if appErr.SafeToShow {
			switch {
			case appErr.Err != nil:
				p["details"] = appErr.Err.Error()
			case appErr.Message != "":
				p["details"] = appErr.Message
			}
		}
		h.logger.Warn("handler error",
			zap.String("reqid", GetRequestID(c)),
			zap.String("item_id", GetItemID(c)),
			zap.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(s, p)
		return
	}

	h.logger.Error("handler unknown error",
		zap.String("reqid", GetRequestID(c)),
		zap.String("item_id", GetItemID(c)),
		zap.String("error", err.Error()),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "internal server error",
	})
}
