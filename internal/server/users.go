package server

import (
	"net/http"

	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetMe(c *gin.Context) {
	actor := actorFrom(c)
	user, err := s.users.Get(c.Request.Context(), actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, user)
}

func (s *Server) ListUsers(c *gin.Context) {
	users, err := s.users.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, users)
}

func (s *Server) ChangeUserRole(c *gin.Context) {
	var req userdomain.ChangeRoleRequest
	if err := decodeJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	user, err := s.users.ChangeRole(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, user)
}
