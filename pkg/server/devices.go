package server

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/ov"
	"iidc-capture/pkg/utils/image"
)

const frameQuality = 90

func (s *Server) enumerate(c *gin.Context) {
	infos, err := s.eng.Enumerate()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(infos))
}

func (s *Server) listHandles(c *gin.Context) {
	list := make([]capture.DeviceStats, 0)
	for _, h := range s.eng.Handles() {
		st, err := s.eng.Stats(h)
		if err != nil {
			continue
		}
		list = append(list, st)
	}

	c.JSON(http.StatusOK, jsend.Success(list))
}

func (s *Server) openDevice(c *gin.Context) {
	var req ov.Open
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	o := capture.OpenOptions{
		DeviceIndex:    req.Device,
		ROI:            req.ROI,
		Layers:         req.Layers,
		BitDepth:       req.BitDepth,
		NumDMABuffers:  req.NumDMABuffers,
		Framerate:      req.Framerate,
		PreferExtended: req.PreferExtended,
		Codec:          req.Codec,
		RecordOnly:     req.RecordOnly,
		Tracker:        req.Tracker,
	}
	if req.Conversion != nil {
		conv := negotiate.ConversionMode(*req.Conversion)
		o.Conversion = &conv
	}
	if req.Session != "" {
		ss, err := s.stg.GetSession(req.Session)
		if err != nil {
			internalErr(c, err)
			return
		}
		if ss == nil {
			c.JSON(http.StatusNotFound, jsend.SimpleErr("session does not exist"))
			return
		}
		o.MovieFile = ss.MoviePath(req.Device)
	}

	h, err := s.eng.OpenDevice(o)
	if err != nil {
		fail(c, err)
		return
	}
	if req.Session != "" {
		s.lock.Lock()
		s.recording[h] = req.Session
		s.lock.Unlock()
	}
	st, err := s.eng.Stats(h)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *Server) closeDevice(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	if st, err := s.eng.Stats(h); err == nil && st.Active {
		if _, err = s.eng.StopCapture(h); err != nil {
			logger.Warnf("stop device %d before close: %s", h, err)
		} else if st, err = s.eng.Stats(h); err == nil {
			s.dumpSessionStats(h, st)
		}
	}
	if err := s.eng.CloseDevice(h); err != nil {
		fail(c, err)
		return
	}
	s.lock.Lock()
	delete(s.recording, h)
	s.lock.Unlock()

	c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("device %d closed", h)))
}

func (s *Server) startCapture(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	var req ov.Start
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
			return
		}
	}
	so := s.eng.StartOptions()
	so.Framerate = req.Framerate
	if req.DropFrames != nil {
		so.DropFrames = *req.DropFrames
	}
	if req.Async != nil {
		so.Async = *req.Async
	}
	if req.StartAt != nil {
		so.StartAt = *req.StartAt
	}

	fps, err := s.eng.StartCapture(h, so)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(gin.H{"framerate": fps}))
}

func (s *Server) stopCapture(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	dropped, err := s.eng.StopCapture(h)
	if err != nil {
		fail(c, err)
		return
	}
	if st, err := s.eng.Stats(h); err == nil {
		s.dumpSessionStats(h, st)
	}

	c.JSON(http.StatusOK, jsend.Success(gin.H{"dropped": dropped}))
}

// dumpSessionStats stores the final counters next to the recording.
func (s *Server) dumpSessionStats(h int, st capture.DeviceStats) {
	s.lock.Lock()
	name, ok := s.recording[h]
	s.lock.Unlock()
	if !ok {
		return
	}
	ss, err := s.stg.GetSession(name)
	if err != nil || ss == nil {
		logger.Warnf("session %s of device %d is gone", name, h)
		return
	}
	if err = ss.DumpStats(st); err != nil {
		logger.Errorf("dump stats of device %d: %s", h, err)
	}
}

func (s *Server) deviceStats(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	st, err := s.eng.Stats(h)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

// fetchFrame hands the next frame to the HTTP client as JPEG. The frame is
// consumed like any other fetch.
func (s *Server) fetchFrame(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	mode, err := capture.ParseFetchMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	d, err := s.eng.Fetch(h, mode)
	if err != nil {
		fail(c, err)
		return
	}
	if mode == capture.FetchCheck {
		c.JSON(http.StatusOK, jsend.Success(gin.H{"pending": d.Pending}))
		return
	}

	var buf bytes.Buffer
	img := d.Image
	if err = image.EncodeFrame(&buf, img.Data, img.Width, img.Height, img.Layers, img.BitDepth, frameQuality); err != nil {
		internalErr(c, err)
		return
	}
	c.Header("X-Frame-Index", strconv.FormatInt(d.Index, 10))
	c.Header("X-Frame-Pts", strconv.FormatFloat(d.PTS, 'f', 6, 64))
	c.Header("X-Frame-Pending", strconv.Itoa(d.Pending))
	c.Header("X-Frame-Dropped", strconv.FormatInt(d.Dropped, 10))
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (s *Server) latestFrame(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	tex, err := s.eng.Latest(h)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err = image.EncodeFrame(&buf, tex.Data, tex.Width, tex.Height, tex.Layers, tex.BitDepth, frameQuality); err != nil {
		internalErr(c, err)
		return
	}
	c.Header("X-Frame-Index", strconv.FormatInt(tex.Index, 10))
	c.Header("X-Frame-Pts", strconv.FormatFloat(tex.PTS, 'f', 6, 64))
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (s *Server) previewVideo(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	if _, err := s.eng.Stats(h); err != nil {
		fail(c, err)
		return
	}
	frames, cancel := s.preview.subscribe(h)
	defer cancel()

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				logger.Warnf("failed to create multi-part writer: %s", err)
				return
			}
			if _, err := partWriter.Write(frame); err != nil {
				logger.Warnf("failed to write preview frame: %s", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *Server) paramNames(c *gin.Context) {
	names := capture.ParameterNames()
	sort.Strings(names)

	c.JSON(http.StatusOK, jsend.Success(names))
}

func (s *Server) getParam(c *gin.Context) {
	s.param(c, capture.Query())
}

func (s *Server) setParam(c *gin.Context) {
	var req ov.Param
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	v := capture.Value(req.Values...)
	if len(req.Values) == 0 {
		v = capture.Text(req.Text)
	}
	s.param(c, v)
}

func (s *Server) param(c *gin.Context, v capture.ParamValue) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	res, err := s.eng.SetParameter(h, c.Param("name"), v)
	if err != nil {
		fail(c, err)
		return
	}
	if !res.Known {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(fmt.Sprintf("unknown parameter %s", res.Name)))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(res))
}

func (s *Server) setSync(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	var req ov.Sync
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	m, err := capture.ParseSyncMode(req.Mode)
	if err != nil {
		fail(c, err)
		return
	}
	if err = s.eng.SetSyncMode(h, m); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(gin.H{"mode": m.Bitmask(), "text": m.String()}))
}
