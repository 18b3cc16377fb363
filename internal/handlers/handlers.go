package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/body-measure/internal/auth"
	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/overlay"
	"github.com/example/body-measure/internal/pose"
	"github.com/example/body-measure/internal/repository"
	"github.com/example/body-measure/internal/session"
	"github.com/example/body-measure/internal/usecase"
)

// MaxUploadSize caps the size of an uploaded image.
const MaxUploadSize = 10 << 20

// maxRequestSize leaves room for multipart framing and form fields.
const maxRequestSize = MaxUploadSize + 1<<20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var (
	errTooLarge         = errors.New("upload exceeds size limit")
	errUnsupportedImage = errors.New("unsupported image type")
)

type handler struct {
	uc     *usecase.MeasurementUseCase
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything but
// /health goes through authMiddleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.MeasurementUseCase, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{uc: uc, logger: logger.Named("http")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("")
	api.Use(authMiddleware, limitBody)

	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.POST("/sessions/:id/calibrate", h.calibrate)
	api.POST("/sessions/:id/calibrate/reference", h.calibrateReference)
	api.POST("/sessions/:id/measure", h.measure)
	api.GET("/sessions/:id/latest", h.latest)
	api.POST("/sessions/:id/overlay", h.overlay)
	api.POST("/sessions/:id/save", h.save)
	api.GET("/sessions/:id/records", h.records)
	api.GET("/sessions/:id/export.csv", h.exportCSV)
	api.GET("/metrics/summary", h.metricsSummary)
}

func limitBody(c *gin.Context) {
	if c.Request.ContentLength > maxRequestSize {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body exceeds the upload limit"})
		return
	}
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize)
	}
	c.Next()
}

type createSessionRequest struct {
	AutoHeightCM *float64 `json:"auto_height_cm"`
}

func (h *handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.badRequest(c, err, "invalid JSON body")
			return
		}
	}

	snap, err := h.uc.CreateSession(c.Request.Context(), userID(c), req.AutoHeightCM)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *handler) getSession(c *gin.Context) {
	snap, err := h.uc.GetSession(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handler) deleteSession(c *gin.Context) {
	if err := h.uc.DeleteSession(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) calibrate(c *gin.Context) {
	req, ok := h.readFrame(c)
	if !ok {
		return
	}
	if req.HeightCM == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "height_cm is required"})
		return
	}

	state, err := h.uc.Calibrate(c.Request.Context(), userID(c), c.Param("id"), req.frame, *req.HeightCM)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibration": state})
}

func (h *handler) calibrateReference(c *gin.Context) {
	req, ok := h.readFrame(c)
	if !ok {
		return
	}
	if req.ReferenceCM == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference_cm is required"})
		return
	}
	refType := req.ReferenceType
	if refType == "" {
		refType = calibration.ReferenceShoulderWidth
	}

	state, err := h.uc.CalibrateFromReference(c.Request.Context(), userID(c), c.Param("id"), req.frame, *req.ReferenceCM, refType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibration": state})
}

func (h *handler) measure(c *gin.Context) {
	req, ok := h.readFrame(c)
	if !ok {
		return
	}

	report, err := h.uc.Measure(c.Request.Context(), userID(c), c.Param("id"), req.frame)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) latest(c *gin.Context) {
	report, err := h.uc.GetLatest(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) overlay(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	rendered, _, err := h.uc.Overlay(c.Request.Context(), userID(c), c.Param("id"), img)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", rendered)
}

type recordResponse struct {
	RecordID           string             `json:"record_id"`
	SessionID          string             `json:"session_id"`
	RecordedAt         time.Time          `json:"recorded_at"`
	UserHeightCM       *float64           `json:"user_height_cm"`
	ScaleFactorCMPerPx float64            `json:"scale_factor_cm_per_px"`
	Measurements       measurement.Result `json:"measurements"`
	Valid              bool               `json:"valid"`
	Warnings           []string           `json:"warnings"`
}

func newRecordResponse(r *repository.MeasurementRecord) recordResponse {
	warnings := r.WarningList()
	if warnings == nil {
		warnings = []string{}
	}
	return recordResponse{
		RecordID:           r.RecordID,
		SessionID:          r.SessionID,
		RecordedAt:         r.RecordedAt,
		UserHeightCM:       r.UserHeightCM,
		ScaleFactorCMPerPx: r.ScaleFactorCMPerPx,
		Measurements:       r.Result(),
		Valid:              r.Valid,
		Warnings:           warnings,
	}
}

func (h *handler) save(c *gin.Context) {
	record, err := h.uc.Save(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRecordResponse(record))
}

func (h *handler) records(c *gin.Context) {
	records, err := h.uc.ListRecords(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, newRecordResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (h *handler) exportCSV(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.uc.ExportCSV(c.Request.Context(), userID(c), c.Param("id"), &buf); err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="measurements.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// frameRequest carries the fields shared by frame endpoints. Multipart
// requests send them as form values next to the image part.
type frameRequest struct {
	Keypoints     json.RawMessage `json:"keypoints"`
	HeightCM      *float64        `json:"height_cm"`
	ReferenceCM   *float64        `json:"reference_cm"`
	ReferenceType string          `json:"reference_type"`

	frame usecase.FrameInput
}

func (h *handler) readFrame(c *gin.Context) (*frameRequest, bool) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		return h.readMultipartFrame(c)
	}

	var req frameRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		if isTooLarge(err) {
			h.writeUploadError(c, errTooLarge)
			return nil, false
		}
		h.badRequest(c, err, "invalid JSON body")
		return nil, false
	}
	if len(req.Keypoints) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image or keypoints is required"})
		return nil, false
	}
	var set pose.KeypointSet
	if err := json.Unmarshal(req.Keypoints, &set); err != nil {
		h.badRequest(c, err, err.Error())
		return nil, false
	}
	req.frame = usecase.FrameInput{Keypoints: set}
	return &req, true
}

func (h *handler) readMultipartFrame(c *gin.Context) (*frameRequest, bool) {
	img, err := readImage(c)
	if err != nil {
		h.writeUploadError(c, err)
		return nil, false
	}

	req := &frameRequest{
		ReferenceType: c.PostForm("reference_type"),
		frame:         usecase.FrameInput{Image: img},
	}
	for field, dst := range map[string]**float64{
		"height_cm":    &req.HeightCM,
		"reference_cm": &req.ReferenceCM,
	} {
		raw := strings.TrimSpace(c.PostForm(field))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = calibration.ErrInvalidHeight
		}
		if err != nil {
			h.badRequest(c, err, field+" must be a finite number")
			return nil, false
		}
		*dst = &v
	}
	return req, true
}

func readImage(c *gin.Context) ([]byte, error) {
	file, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			return nil, errTooLarge
		}
		return nil, err
	}
	if file.Size > MaxUploadSize {
		return nil, errTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxUploadSize {
		return nil, errTooLarge
	}

	contentType, _, _ := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	if !allowedImageTypes[contentType] {
		return nil, errUnsupportedImage
	}
	return data, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, errTooLarge)
}

func (h *handler) writeUploadError(c *gin.Context, err error) {
	switch {
	case isTooLarge(err):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
	case errors.Is(err, errUnsupportedImage):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be jpeg, png or webp"})
	default:
		h.badRequest(c, err, "image file is required")
	}
}

func (h *handler) badRequest(c *gin.Context, err error, message string) {
	h.logger.Debug("bad request", zap.Error(err), zap.String("path", c.FullPath()))
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func (h *handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, usecase.ErrNoReport):
		status = http.StatusNotFound
	case errors.Is(err, calibration.ErrNoKeypoints),
		errors.Is(err, calibration.ErrInvalidHeight),
		errors.Is(err, calibration.ErrNoPixelHeight),
		errors.Is(err, calibration.ErrUnsupportedReference),
		errors.Is(err, calibration.ErrMissingLandmarks),
		errors.Is(err, session.ErrInvalidPose),
		errors.Is(err, overlay.ErrDecode):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, usecase.ErrNotCalibrated), errors.Is(err, usecase.ErrNothingToSave):
		status = http.StatusConflict
	case errors.Is(err, overlay.ErrUnavailable):
		status = http.StatusNotImplemented
	case errors.Is(err, usecase.ErrEstimatorUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func userID(c *gin.Context) string {
	id, _ := auth.GetUserID(c.Request.Context())
	return id
}
