package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Mentra-Community/recorder-service/internal/recording"
)

type startRequest struct {
	Title string `json:"title"`
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleList(c echo.Context) error {
	recs, err := s.lifecycle.List(c.Request().Context(), userID(c))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) handleStart(c echo.Context) error {
	var req startRequest
	// An empty body is a valid start request.
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	rec, err := s.lifecycle.Start(c.Request().Context(), userID(c), recording.StartOptions{
		Title: strings.TrimSpace(req.Title),
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleGet(c echo.Context) error {
	rec, err := s.lifecycle.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleStop(c echo.Context) error {
	rec, err := s.lifecycle.Stop(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRename(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "title must not be empty"})
	}
	rec, err := s.lifecycle.Rename(c.Request().Context(), userID(c), c.Param("id"), title)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDelete(c echo.Context) error {
	if err := s.lifecycle.Delete(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDownload(c echo.Context) error {
	data, rec, err := s.lifecycle.Download(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	filename := rec.Title
	if filename == "" {
		filename = rec.ID
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+sanitizeFilename(filename)+`.wav"`)
	return c.Blob(http.StatusOK, "audio/wav", data)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '"', '/', '\\', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}
