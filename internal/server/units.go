package server

import (
	"net/http"
	"strings"

	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/gin-gonic/gin"
)

type listUnitsQuery struct {
	Factory string `form:"factory"`
	Status  string `form:"status"`
}

func (s *Server) ListUnits(c *gin.Context) {
	var query listUnitsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	units, err := s.units.ListUnits(c.Request.Context(), domain.ListUnitsRequest{
		Factory: strings.TrimSpace(query.Factory),
		Status:  strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, units)
}

func (s *Server) GroupUnits(c *gin.Context) {
	groups, err := s.units.GroupByFactory(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, groups)
}

func (s *Server) CreateUnit(c *gin.Context) {
	var req domain.CreateUnitRequest
	if err := decodeJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	unit, err := s.units.CreateUnit(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("unit_id", unit.ID.String())
	respond(c, http.StatusCreated, unit)
}

func (s *Server) GetUnit(c *gin.Context) {
	unit, err := s.units.GetUnit(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, unit)
}

func (s *Server) UpdateUnit(c *gin.Context) {
	var req domain.UpdateUnitRequest
	if err := decodeJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("unit_id", c.Param("id"))
	unit, err := s.units.UpdateUnit(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, unit)
}

func (s *Server) DeleteUnit(c *gin.Context) {
	c.Set("unit_id", c.Param("id"))
	if err := s.units.DeleteUnit(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": true})
}

func (s *Server) RecomputeUnit(c *gin.Context) {
	c.Set("unit_id", c.Param("id"))
	unit, err := s.units.RecomputeUnit(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, unit)
}
