package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/b3vet/swiftbase/internal/engine"
	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

// handleQuery executes one query request as the authenticated subject.
func (s *Server) handleQuery(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, model.MalformedQuery("invalid request body: %v", err))
		return
	}
	if req.Collection == "" && req.Action != query.ActionCustom {
		writeError(c, model.MalformedQuery("request requires a collection"))
		return
	}

	identity := identityFrom(c)
	result, err := s.engine.Execute(c.Request.Context(), identity.SubjectID, &req)
	if err != nil {
		s.logError(c, &req, err)
		writeError(c, err)
		return
	}

	body := okBody(result)
	if cr, ok := result.(*engine.CountResult); ok {
		body["count"] = cr.Count
	}
	c.JSON(http.StatusOK, body)
}

// Collection admin.

func (s *Server) handleCreateCollection(c *gin.Context) {
	var col model.Collection
	if err := c.ShouldBindJSON(&col); err != nil {
		writeError(c, model.MalformedQuery("invalid request body: %v", err))
		return
	}
	if err := s.store.CreateCollection(c.Request.Context(), &col); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, okBody(col))
}

func (s *Server) handleListCollections(c *gin.Context) {
	c.JSON(http.StatusOK, okBody(s.store.Collections()))
}

func (s *Server) handleGetCollection(c *gin.Context) {
	col, err := s.store.Collection(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(col))
}

func (s *Server) handleDropCollection(c *gin.Context) {
	if err := s.store.DropCollection(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(nil))
}

// Custom query admin.

func (s *Server) handleSaveQuery(c *gin.Context) {
	var def query.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		writeError(c, model.MalformedQuery("invalid request body: %v", err))
		return
	}
	if err := s.store.SaveQuery(c.Request.Context(), &def); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, okBody(def))
}

func (s *Server) handleListQueries(c *gin.Context) {
	defs, err := s.store.ListQueries(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(defs))
}

func (s *Server) handleDeleteQuery(c *gin.Context) {
	if err := s.store.DeleteQuery(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(nil))
}

// handleRealtime hands an authenticated request to the hub.
func (s *Server) handleRealtime(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request, identityFrom(c))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// logError logs server-side failures with their full cause; client errors
// log at debug only.
func (s *Server) logError(c *gin.Context, req *query.Request, err error) {
	fields := []any{
		"action", req.Action,
		"collection", req.Collection,
		"path", c.FullPath(),
		"error", err,
	}
	if model.HTTPStatus(err) >= http.StatusInternalServerError {
		s.log.Errorw("query failed", fields...)
	} else {
		s.log.Debugw("query rejected", fields...)
	}
}
