package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"iidc-capture/pkg/ov"
	"iidc-capture/pkg/storage"
)

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.stg.ListSessions()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(list))
}

func (s *Server) createSession(c *gin.Context) {
	var req ov.Session
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	ss, err := s.stg.NewSession(req.Name, req.Info)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ss))
}

// session loads the :name session or answers 404.
func (s *Server) session(c *gin.Context) (*storage.Session, bool) {
	ss, err := s.stg.GetSession(c.Param("name"))
	if err != nil {
		internalErr(c, err)
		return nil, false
	}
	if ss == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("session not found"))
		return nil, false
	}
	return ss, true
}

func (s *Server) getSession(c *gin.Context) {
	ss, ok := s.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ss))
}

func (s *Server) deleteSession(c *gin.Context) {
	name := c.Param("name")
	if err := s.stg.DeleteSession(name); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("delete session %s success", name)))
}

func (s *Server) listRecordings(c *gin.Context) {
	ss, ok := s.session(c)
	if !ok {
		return
	}
	recs, err := ss.ListRecordings()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(recs))
}

func (s *Server) listSnapshots(c *gin.Context) {
	ss, ok := s.session(c)
	if !ok {
		return
	}
	names, err := ss.ListSnapshots()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(names))
}

func (s *Server) latestSnapshot(c *gin.Context) {
	ss, ok := s.session(c)
	if !ok {
		return
	}
	data, err := ss.LatestSnapshot()
	if err != nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) beginSchedule(c *gin.Context) {
	ss, ok := s.session(c)
	if !ok {
		return
	}
	var req ov.Schedule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if _, err := s.eng.Stats(req.Handle); err != nil {
		fail(c, err)
		return
	}
	if err := s.sched.Begin(req.Handle, ss, req.Interval); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(s.sched.Job()))
}

func (s *Server) getSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.sched.Job()))
}

func (s *Server) stopSchedule(c *gin.Context) {
	s.sched.Stop()
	c.JSON(http.StatusOK, jsend.Success(nil))
}
