// Package api provides the REST API server for groove2groove
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/session"
	"github.com/james-see/groove2groove/pkg/slots"
)

// @title Groove2Groove API
// @version 1.0
// @description API for editing performance slots and generating style transfers and remixes
// @host localhost:8080
// @BasePath /api/v1

// maxUploadSize caps performance file uploads
var maxUploadSize int64 = 16 << 20

// Server exposes a session over HTTP
type Server struct {
	session *session.Coordinator
}

// NewRouter builds the HTTP routes for sess
func NewRouter(sess *session.Coordinator) *gin.Engine {
	s := &Server{session: sess}

	r := gin.Default()
	r.MaxMultipartMemory = maxUploadSize

	r.Use(corsMiddleware())
	r.Use(requestTracking())
	r.Use(sentryMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/slots", s.listSlots)
		v1.GET("/slots/:id", s.getSlot)
		v1.POST("/slots/:id/load", s.loadSlot)
		v1.PUT("/slots/:id/window", s.setWindow)
		v1.PUT("/slots/:id/instruments", s.setInstruments)
		v1.PUT("/slots/:id/tempo", s.setTempo)
		v1.POST("/slots/:id/generate", s.generate)
		v1.POST("/slots/:id/play", s.play)
		v1.POST("/slots/:id/stop", s.stop)
		v1.GET("/slots/:id/midi", s.downloadMIDI)
		v1.GET("/controls", s.controls)
		v1.GET("/session", s.exportSession)
		v1.POST("/session", s.importSession)
		v1.GET("/settings", s.getSettings)
		v1.PUT("/settings", s.putSettings)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// StartServer starts the API server on the specified port
func StartServer(port int, sess *session.Coordinator) error {
	return NewRouter(sess).Run(fmt.Sprintf(":%d", port))
}

// slotResponse is a slot view with its derived summary and controls
type slotResponse struct {
	slots.View
	Name     string         `json:"name"`
	Ready    bool           `json:"ready"`
	QPM      float64        `json:"qpm,omitempty"`
	Notes    int            `json:"notes"`
	Duration float64        `json:"duration"`
	Controls slots.Controls `json:"controls"`
}

func newSlotResponse(v slots.View, controls slots.Controls) slotResponse {
	resp := slotResponse{View: v, Name: v.Name(), Ready: v.Ready(), Controls: controls}
	if v.Full != nil {
		resp.QPM = v.Tempo()
	}
	if v.Effective != nil {
		resp.Notes = len(v.Effective.Notes)
		resp.Duration = v.Effective.TotalTime
	}
	return resp
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, slots.ErrUnknownSlot):
		return http.StatusNotFound
	case errors.Is(err, sequence.ErrDecode),
		errors.Is(err, session.ErrDerived),
		errors.Is(err, session.ErrNotGeneratable):
		return http.StatusBadRequest
	case errors.Is(err, slots.ErrBusy), errors.Is(err, slots.ErrStale):
		return http.StatusConflict
	case errors.Is(err, slots.ErrNotReady):
		return http.StatusPreconditionFailed
	case errors.Is(err, generation.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrNoPlayer):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// slotID parses the :id path parameter, writing a 404 on failure
func (s *Server) slotID(c *gin.Context) (slots.ID, bool) {
	id, err := slots.ParseID(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return "", false
	}
	return id, true
}

func (s *Server) respond(c *gin.Context, v slots.View, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSlotResponse(v, s.session.Controls()[v.ID]))
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "groove2groove",
	})
}

// listSlots godoc
// @Summary List slots
// @Description Returns every slot in order with its controls
// @Tags slots
// @Produce json
// @Success 200 {object} map[string][]slotResponse
// @Router /api/v1/slots [get]
func (s *Server) listSlots(c *gin.Context) {
	views := s.session.Store().Views()
	controls := s.session.Controls()

	out := make([]slotResponse, 0, len(slots.Order))
	for _, id := range slots.Order {
		out = append(out, newSlotResponse(views[id], controls[id]))
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.session.ID(),
		"slots":      out,
		"playback":   s.session.Playback(),
	})
}

// getSlot godoc
// @Summary Get a slot
// @Tags slots
// @Produce json
// @Param id path string true "Slot (content, style, output, remix)"
// @Success 200 {object} slotResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/slots/{id} [get]
func (s *Server) getSlot(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	v, err := s.session.Store().Slot(id)
	s.respond(c, v, err)
}

// loadSlot godoc
// @Summary Load a performance file
// @Description Upload a MIDI or NoteSequence file into a source slot
// @Tags slots
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Slot"
// @Param file formData file true "Performance file"
// @Success 200 {object} slotResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 413 {object} map[string]string
// @Router /api/v1/slots/{id}/load [post]
func (s *Server) loadSlot(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.badRequest(c, "No file uploaded")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		s.badRequest(c, "Failed to read file")
		return
	}
	if int64(len(data)) > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d bytes", maxUploadSize)})
		return
	}

	v, err := s.session.LoadFile(c.Request.Context(), id, header.Filename, data)
	s.respond(c, v, err)
}

type windowRequest struct {
	Start int `json:"start" binding:"min=0"`
	End   int `json:"end" binding:"gtefield=Start"`
}

// setWindow godoc
// @Summary Set the time window
// @Description Trims the slot to [start, end) steps
// @Tags slots
// @Accept json
// @Produce json
// @Param id path string true "Slot"
// @Param window body windowRequest true "Window in steps"
// @Success 200 {object} slotResponse
// @Failure 412 {object} map[string]string
// @Router /api/v1/slots/{id}/window [put]
func (s *Server) setWindow(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	v, err := s.session.OnTimeWindowChanged(id, pipeline.Window{Start: req.Start, End: req.End})
	s.respond(c, v, err)
}

type instrumentsRequest struct {
	Selected instruments.KeySet `json:"selected"`
}

// setInstruments godoc
// @Summary Set the instrument selection
// @Description Keeps only notes of the selected instruments. Drums are "DRUMS".
// @Tags slots
// @Accept json
// @Produce json
// @Param id path string true "Slot"
// @Param instruments body instrumentsRequest true "Selected instrument keys"
// @Success 200 {object} slotResponse
// @Failure 412 {object} map[string]string
// @Router /api/v1/slots/{id}/instruments [put]
func (s *Server) setInstruments(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	var req instrumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	if req.Selected == nil {
		req.Selected = instruments.NewKeySet()
	}
	v, err := s.session.OnInstrumentsChanged(id, req.Selected)
	s.respond(c, v, err)
}

type tempoRequest struct {
	QPM float64 `json:"qpm" binding:"required,gt=0"`
}

// setTempo godoc
// @Summary Set the playback tempo
// @Tags slots
// @Accept json
// @Produce json
// @Param id path string true "Slot"
// @Param tempo body tempoRequest true "Quarter notes per minute"
// @Success 200 {object} slotResponse
// @Router /api/v1/slots/{id}/tempo [put]
func (s *Server) setTempo(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	var req tempoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	v, err := s.session.OnTempoChanged(id, req.QPM)
	s.respond(c, v, err)
}

// generate godoc
// @Summary Generate into a slot
// @Description Runs style transfer into output or remix into remix
// @Tags generation
// @Produce json
// @Param id path string true "Slot (output or remix)"
// @Success 200 {object} slotResponse
// @Failure 409 {object} map[string]string
// @Failure 412 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /api/v1/slots/{id}/generate [post]
func (s *Server) generate(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	v, err := s.session.Generate(c.Request.Context(), id)
	s.respond(c, v, err)
}

// play godoc
// @Summary Start playback of a slot
// @Tags playback
// @Param id path string true "Slot"
// @Success 204
// @Failure 501 {object} map[string]string
// @Router /api/v1/slots/{id}/play [post]
func (s *Server) play(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	if err := s.session.Play(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// stop godoc
// @Summary Stop playback of a slot
// @Tags playback
// @Param id path string true "Slot"
// @Success 204
// @Router /api/v1/slots/{id}/stop [post]
func (s *Server) stop(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	if err := s.session.Stop(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// downloadMIDI godoc
// @Summary Download the effective sequence
// @Tags slots
// @Produce audio/midi
// @Param id path string true "Slot"
// @Success 200 {file} binary
// @Failure 412 {object} map[string]string
// @Router /api/v1/slots/{id}/midi [get]
func (s *Server) downloadMIDI(c *gin.Context) {
	id, ok := s.slotID(c)
	if !ok {
		return
	}
	data, name, err := s.session.Save(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "audio/midi", data)
}

// controls godoc
// @Summary Control availability
// @Description Returns which controls are enabled for each slot
// @Tags slots
// @Produce json
// @Success 200 {object} map[string]slots.Controls
// @Router /api/v1/controls [get]
func (s *Server) controls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"controls": s.session.Controls(),
		"playback": s.session.Playback(),
	})
}

// exportSession godoc
// @Summary Export the session
// @Tags session
// @Produce json
// @Success 200 {object} session.Snapshot
// @Router /api/v1/session [get]
func (s *Server) exportSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Snapshot())
}

// importSession godoc
// @Summary Import a session
// @Description Replaces every slot with the contents of a snapshot
// @Tags session
// @Accept json
// @Produce json
// @Param snapshot body session.Snapshot true "Session snapshot"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/v1/session [post]
func (s *Server) importSession(c *gin.Context) {
	var snap session.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	if err := s.session.Restore(snap); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.badRequest(c, err.Error())
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.session.ID()})
}

// getSettings godoc
// @Summary Generation settings
// @Tags generation
// @Produce json
// @Success 200 {object} generation.Options
// @Router /api/v1/settings [get]
func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Settings())
}

// putSettings godoc
// @Summary Update generation settings
// @Tags generation
// @Accept json
// @Produce json
// @Param settings body generation.Options true "Model, sampling and temperature"
// @Success 200 {object} generation.Options
// @Router /api/v1/settings [put]
func (s *Server) putSettings(c *gin.Context) {
	var opts generation.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	if err := s.session.SetSettings(opts); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.session.Settings())
}
