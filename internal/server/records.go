package server

import (
	"net/http"
	"strings"

	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

type createRecordBody struct {
	UnitID string `json:"unit_id"`
	domain.CreateRecordRequest
}

type listRecordsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	UnitID    string `form:"unit_id"`
	CreatedBy string `form:"created_by"`
	Open      string `form:"open"`
}

func (s *Server) ListRecords(c *gin.Context) {
	var query listRecordsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	onlyOpen, err := parseOptionalBool(query.Open)
	if err != nil {
		AbortWithError(c, newValidationError("open", "invalid_open", "open must be true or false"))
		return
	}

	req := domain.ListRecordsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		UnitID:    strings.TrimSpace(query.UnitID),
		CreatedBy: strings.TrimSpace(query.CreatedBy),
	}
	if onlyOpen != nil {
		req.OnlyOpen = *onlyOpen
	}

	resp, err := s.records.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.Records, "page_info": resp.PageInfo})
}

func (s *Server) CreateRecord(c *gin.Context) {
	var body createRecordBody
	if err := decodeJSON(c, &body); err != nil {
		AbortWithError(c, err)
		return
	}
	unitID := strings.TrimSpace(body.UnitID)
	if unitID == "" {
		AbortWithError(c, newValidationError("unit_id", "invalid_unit_id", "unit_id is required"))
		return
	}

	c.Set("unit_id", unitID)
	record, err := s.records.Create(c.Request.Context(), actorFrom(c), unitID, body.CreateRecordRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, record)
}

func (s *Server) GetRecord(c *gin.Context) {
	record, err := s.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, record)
}

func (s *Server) UpdateRecord(c *gin.Context) {
	var req domain.UpdateRecordRequest
	if err := decodeJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.records.Update(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("unit_id", record.UnitID.String())
	respond(c, http.StatusOK, record)
}

func (s *Server) ResolveRecord(c *gin.Context) {
	var req domain.ResolveRecordRequest
	if err := decodeJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.records.Resolve(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("unit_id", record.UnitID.String())
	respond(c, http.StatusOK, record)
}

func (s *Server) DeleteRecord(c *gin.Context) {
	if err := s.records.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": true})
}

func (s *Server) ListPresets(c *gin.Context) {
	respond(c, http.StatusOK, s.policy.Get().Presets)
}
