package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/engineerpark/cdulog/internal/export"
	"github.com/gin-gonic/gin"
)

type exportQuery struct {
	Factory string `form:"factory"`
	Status  string `form:"status"`
	Locale  string `form:"locale"`
}

// Export streams a maintenance history download in the given format.
func (s *Server) Export(format export.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		var query exportQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}

		doc, err := s.exporter.Export(c.Request.Context(), actorFrom(c), export.Request{
			Format:  format,
			Factory: strings.TrimSpace(query.Factory),
			Status:  strings.TrimSpace(query.Status),
			Locale:  strings.TrimSpace(query.Locale),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
		c.Data(http.StatusOK, doc.ContentType, doc.Body)
	}
}
