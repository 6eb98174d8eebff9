package controller

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

const inflightTimeout = 5 * time.Second

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), inflightTimeout)
}
