package server

import (
	"net/http"

	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	"github.com/craftlane/craftlane/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetTimeline(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.timelineSvc.History(c.Request.Context(), timelinedomain.ListHistoryRequest{
		Pagination: page,
		OrderID:    orderID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
