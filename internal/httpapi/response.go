package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with the given data.
func RespondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// RespondNoContent sends a 204 No Content response.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// ListResponse wraps a collection.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// RespondList sends items as a ListResponse. A nil slice is sent as [].
func RespondList[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	RespondOK(c, ListResponse[T]{Items: items, Count: len(items)})
}
