package reports

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xyz-asif/floodreport/internal/middleware"
	"github.com/xyz-asif/floodreport/internal/pkg/pagination"
	"github.com/xyz-asif/floodreport/internal/pkg/ratelimit"
	"github.com/xyz-asif/floodreport/internal/pkg/response"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

type Handler struct {
	svc      *Service
	ledger   Ledger
	quota    *ratelimit.DailyQuota
	loc      *time.Location
	maxPhoto int64
}

func NewHandler(svc *Service, ledger Ledger, quota *ratelimit.DailyQuota, loc *time.Location, maxPhoto int64) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, ledger: ledger, quota: quota, loc: loc, maxPhoto: maxPhoto}
}

// Submit godoc
// @Summary Submit a flood report
// @Description Accepts a report as multipart form (with optional photo) or JSON
// @Tags reports
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param address formData string true "Location of the flooding"
// @Param floodHeight formData string true "Severity category or depth in cm"
// @Param reporterName formData string true "Reporter name"
// @Param reporterPhone formData string false "Reporter phone, digits only"
// @Param photo formData file false "Photo (jpg, jpeg, png, gif; max 5 MB)"
// @Success 201 {object} response.SuccessResponse{data=Submission}
// @Failure 400 {object} response.ErrorResponse
// @Failure 413 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /reports [post]
func (h *Handler) Submit(c *gin.Context) {
	var in SubmitInput
	var photo *PhotoUpload

	if h.maxPhoto > 0 {
		limit := h.maxPhoto + formOverhead
		if c.Request.ContentLength > limit {
			h.tooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&in); err != nil {
			h.badForm(c, err)
			return
		}
		fh, err := c.FormFile("photo")
		switch {
		case err == nil:
			photo, err = readUpload(fh, h.maxPhoto)
			if err != nil {
				response.BadRequest(c, "Could not read the uploaded photo", "INVALID_FILE")
				return
			}
		case !errors.Is(err, http.ErrMissingFile):
			h.badForm(c, err)
			return
		}
	} else if err := c.ShouldBindJSON(&in); err != nil {
		if isBodyTooLarge(err) {
			h.tooLarge(c)
			return
		}
		response.BindJSONError(c, err)
		return
	}

	sub, err := h.svc.Submit(c.Request.Context(), in, photo, middleware.SubmitterID(c))
	if err != nil {
		response.FromError(c, err, sub.Message)
		return
	}
	response.Created(c, sub)
}

// formOverhead is the room left for text fields and multipart framing on top
// of the photo size limit.
const formOverhead = 1 << 20

func (h *Handler) badForm(c *gin.Context, err error) {
	if isBodyTooLarge(err) {
		h.tooLarge(c)
		return
	}
	response.BadRequest(c, "Invalid form data", "INVALID_FORM")
}

func (h *Handler) tooLarge(c *gin.Context) {
	c.Header("Connection", "close")
	response.FromError(c, apperrors.ErrPhotoTooLarge, h.svc.Message(apperrors.ErrPhotoTooLarge))
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// readUpload reads at most limit+1 bytes so an oversized photo is detected
// without buffering all of it.
func readUpload(fh *multipart.FileHeader, limit int64) (*PhotoUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if limit <= 0 {
		limit = fh.Size
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	return &PhotoUpload{Data: data, Filename: fh.Filename}, nil
}

// Today godoc
// @Summary Reports submitted today
// @Tags reports
// @Produce json
// @Success 200 {object} response.SuccessResponse{data=[]Report}
// @Router /reports/today [get]
func (h *Handler) Today(c *gin.Context) {
	list, err := h.ledger.QueryByDate(c.Request.Context(), h.quota.Today())
	if err != nil {
		response.DatabaseError(c, "Failed to load reports")
		return
	}
	response.Success(c, list)
}

// Daily godoc
// @Summary Reports for a calendar day
// @Tags reports
// @Produce json
// @Param date query string false "Day as YYYY-MM-DD, defaults to today"
// @Success 200 {object} response.SuccessResponse{data=[]Report}
// @Failure 400 {object} response.ErrorResponse
// @Router /reports/daily [get]
func (h *Handler) Daily(c *gin.Context) {
	day := h.quota.Today()
	if s := c.Query("date"); s != "" {
		d, err := time.ParseInLocation(DateLayout, s, h.loc)
		if err != nil {
			response.BadRequest(c, "date must be YYYY-MM-DD", "INVALID_DATE")
			return
		}
		day = d
	}

	list, err := h.ledger.QueryByDate(c.Request.Context(), day)
	if err != nil {
		response.DatabaseError(c, "Failed to load reports")
		return
	}
	response.Success(c, list)
}

// Monthly godoc
// @Summary Reports for a calendar month
// @Tags reports
// @Produce json
// @Param month query string false "Month as YYYY-MM, defaults to the current month"
// @Success 200 {object} response.SuccessResponse{data=[]Report}
// @Failure 400 {object} response.ErrorResponse
// @Router /reports/monthly [get]
func (h *Handler) Monthly(c *gin.Context) {
	month, ok := h.month(c)
	if !ok {
		return
	}
	list, err := h.ledger.QueryByMonth(c.Request.Context(), month)
	if err != nil {
		response.DatabaseError(c, "Failed to load reports")
		return
	}
	response.Success(c, list)
}

// List godoc
// @Summary All reports, newest first
// @Tags reports
// @Produce json
// @Param page query int false "Page number"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} response.PaginatedResponse{data=[]Report}
// @Router /reports [get]
func (h *Handler) List(c *gin.Context) {
	page := pagination.Parse(c.Query("page"), c.Query("limit"))

	list, total, err := h.ledger.QueryAll(c.Request.Context(), page.Offset(), page.Limit)
	if err != nil {
		response.DatabaseError(c, "Failed to load reports")
		return
	}
	response.Paginated(c, list, total, page.Limit, page.Number)
}

// Get godoc
// @Summary A single report
// @Tags reports
// @Produce json
// @Param id path int true "Report ID"
// @Success 200 {object} response.SuccessResponse{data=Report}
// @Failure 404 {object} response.ErrorResponse
// @Router /reports/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	rep, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err, lookupMessage(err))
		return
	}
	response.Success(c, rep)
}

// Statistics godoc
// @Summary Monthly statistics
// @Tags reports
// @Produce json
// @Param month query string false "Month as YYYY-MM, defaults to the current month"
// @Success 200 {object} response.SuccessResponse{data=Statistics}
// @Failure 400 {object} response.ErrorResponse
// @Router /reports/statistics [get]
func (h *Handler) Statistics(c *gin.Context) {
	month, ok := h.month(c)
	if !ok {
		return
	}
	stats, err := h.ledger.MonthlyStatistics(c.Request.Context(), month)
	if err != nil {
		response.DatabaseError(c, "Failed to compute statistics")
		return
	}
	response.Success(c, stats)
}

// Export godoc
// @Summary Export a month as an Excel workbook
// @Tags reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param month query string false "Month as YYYY-MM, defaults to the current month"
// @Success 200 {file} file
// @Failure 400 {object} response.ErrorResponse
// @Router /reports/export [get]
func (h *Handler) Export(c *gin.Context) {
	month, ok := h.month(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	list, err := h.ledger.QueryByMonth(ctx, month)
	if err != nil {
		response.DatabaseError(c, "Failed to load reports")
		return
	}
	stats, err := h.ledger.MonthlyStatistics(ctx, month)
	if err != nil {
		response.DatabaseError(c, "Failed to compute statistics")
		return
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, list, stats, h.loc); err != nil {
		response.InternalServerError(c, "Failed to build workbook", "EXPORT_FAILED")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=flood-reports-%s.xlsx", month))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// Quota godoc
// @Summary Caller's remaining reports for today
// @Tags reports
// @Produce json
// @Success 200 {object} response.SuccessResponse{data=Quota}
// @Router /reports/quota [get]
func (h *Handler) Quota(c *gin.Context) {
	remaining, err := h.quota.Remaining(c.Request.Context(), middleware.SubmitterID(c))
	if err != nil {
		response.DatabaseError(c, "Failed to check quota")
		return
	}
	response.Success(c, Quota{
		Limit:     h.quota.Limit(),
		Used:      h.quota.Limit() - remaining,
		Remaining: remaining,
		ResetsAt:  h.quota.ResetsAt(),
	})
}

// RetryMirror godoc
// @Summary Retry copying a report to the shared spreadsheet
// @Tags reports
// @Produce json
// @Param id path int true "Report ID"
// @Success 200 {object} response.SuccessResponse{data=Report}
// @Failure 404 {object} response.ErrorResponse
// @Router /reports/{id}/mirror [post]
func (h *Handler) RetryMirror(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	rep, err := h.svc.RetryMirror(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err, lookupMessage(err))
		return
	}
	response.Success(c, rep)
}

func (h *Handler) month(c *gin.Context) (Month, bool) {
	s := c.Query("month")
	if s == "" {
		return MonthOf(h.quota.Today()), true
	}
	m, err := ParseMonth(s)
	if err != nil {
		response.BadRequest(c, "month must be YYYY-MM", "INVALID_MONTH")
		return Month{}, false
	}
	return m, true
}

func reportID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		response.BadRequest(c, "Invalid report ID", "INVALID_ID")
		return 0, false
	}
	return id, true
}

func lookupMessage(err error) string {
	if errors.Is(err, apperrors.ErrNotFound) {
		return "Report not found"
	}
	return "Failed to load report"
}
