// Package server exposes the capture engine over HTTP.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/config"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/schedule"
	"iidc-capture/pkg/storage"
	"iidc-capture/pkg/utils"
	"iidc-capture/pkg/utils/ps"
	"iidc-capture/pkg/webdav"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

type Server struct {
	eng   *capture.Engine
	stg   *storage.Storage
	sched *schedule.Scheduler
	dav   *webdav.Webdav
	cfg   config.Server

	preview *previewHub

	lock sync.Mutex
	// recording maps a handle to the session it records into
	recording map[int]string
}

func New(eng *capture.Engine, stg *storage.Storage, sched *schedule.Scheduler, dav *webdav.Webdav, cfg config.Server) *Server {
	return &Server{
		eng:       eng,
		stg:       stg,
		sched:     sched,
		dav:       dav,
		cfg:       cfg,
		preview:   newPreviewHub(eng, cfg.PreviewWidth, cfg.PreviewQuality),
		recording: make(map[int]string),
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	if s.cfg.StaticsDir != "" {
		r.Static("/ui", s.cfg.StaticsDir)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	api := r.Group("/api")
	api.GET("/host", s.hostStatus)
	api.PUT("/webdav", s.ctlWebdav)
	api.GET("/handles", s.listHandles)

	devices := api.Group("/devices")
	devices.GET("", s.enumerate)
	devices.POST("", s.openDevice)
	devices.DELETE("/:handle", s.closeDevice)
	devices.POST("/:handle/start", s.startCapture)
	devices.POST("/:handle/stop", s.stopCapture)
	devices.GET("/:handle/stats", s.deviceStats)
	devices.GET("/:handle/frame", s.fetchFrame)
	devices.GET("/:handle/latest", s.latestFrame)
	devices.GET("/:handle/preview", s.previewVideo)
	devices.GET("/:handle/params", s.paramNames)
	devices.GET("/:handle/params/:name", s.getParam)
	devices.PUT("/:handle/params/:name", s.setParam)
	devices.PUT("/:handle/sync", s.setSync)

	sessions := api.Group("/sessions")
	sessions.GET("", s.listSessions)
	sessions.POST("", s.createSession)
	sessions.GET("/:name", s.getSession)
	sessions.DELETE("/:name", s.deleteSession)
	sessions.GET("/:name/recordings", s.listRecordings)
	sessions.GET("/:name/snapshots", s.listSnapshots)
	sessions.GET("/:name/snapshots/latest", s.latestSnapshot)
	sessions.PUT("/:name/schedule", s.beginSchedule)

	api.GET("/schedule", s.getSchedule)
	api.DELETE("/schedule", s.stopSchedule)

	return r
}

func (s *Server) hostStatus(c *gin.Context) {
	st, err := ps.Status(s.stg.Root())
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *Server) ctlWebdav(c *gin.Context) {
	switch c.Query("op") {
	case webDavStart:
		if !s.dav.Start() {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(gin.H{"port": s.dav.Port()}))
	case webDavShutdown:
		if !s.dav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func handleParam(c *gin.Context) (int, bool) {
	h, err := strconv.Atoi(c.Param("handle"))
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("handle must be an integer"))
		return 0, false
	}
	return h, true
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrInvalidHandle),
		errors.Is(err, capture.ErrNoFrameYet),
		errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrFetchTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, capture.ErrTerminated):
		return http.StatusGone
	case errors.Is(err, capture.ErrAlreadyActive),
		errors.Is(err, capture.ErrNotActive),
		errors.Is(err, capture.ErrDeviceClosed),
		errors.Is(err, storage.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, capture.ErrSyncSetupFailed):
		return http.StatusInternalServerError
	case errors.Is(err, capture.ErrInvalidSyncMode),
		errors.Is(err, capture.ErrTriggerUnsupported),
		errors.Is(err, negotiate.ErrNoSatisfyingMode),
		errors.Is(err, negotiate.ErrTooManyLayers),
		errors.Is(err, negotiate.ErrInvalidBitDepth):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(errStatus(err), jsend.SimpleErr(err.Error()))
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
