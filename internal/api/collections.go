package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/records"
	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// collectionHandler serves CRUD for one typed collection.
type collectionHandler[T schema.Record[T]] struct {
	repo   *records.Repository[T]
	logger *zap.Logger
}

func registerCollection[T schema.Record[T]](g *gin.RouterGroup, path string, repo *records.Repository[T], logger *zap.Logger) {
	h := &collectionHandler[T]{repo: repo, logger: logger}
	g.GET(path, h.list)
	g.GET(path+"/:id", h.get)
	g.POST(path, h.create)
	g.PATCH(path+"/:id", h.update)
	g.PUT(path+"/:id", h.update)
	g.DELETE(path+"/:id", h.delete)
}

// list narrows by the collection's filter field when it is given as a query parameter.
func (h *collectionHandler[T]) list(c *gin.Context) {
	var filter *sdk.Filter
	if field, ok := records.FilterField(h.repo.Collection()); ok {
		if v, set := c.GetQuery(field); set {
			filter = &sdk.Filter{Field: field, Value: v}
		}
	}
	recs, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *collectionHandler[T]) get(c *gin.Context) {
	rec, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *collectionHandler[T]) create(c *gin.Context) {
	var rec T
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.repo.Create(c.Request.Context(), rec)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *collectionHandler[T]) update(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.repo.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *collectionHandler[T]) delete(c *gin.Context) {
	if err := h.repo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
