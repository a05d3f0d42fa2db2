package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerKey  = "X-Request-ID"
	contextKey = "request_id"
	tagsKey    = "request_tags"
	maxLength  = 128
)

// routeTags names the log field for each route parameter that identifies the
// pass or alert a request acts on.
var routeTags = map[string]string{
	"id":      "pass_id",
	"alertId": "alert_id",
}

type tag struct {
	key   string
	value string
}

// Middleware assigns a request ID to each request and echoes it back in the
// response header. Client supplied IDs are kept unless oversized.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerKey)
		if reqID == "" || len(reqID) > maxLength {
			reqID = uuid.NewString()
		}

		c.Set(contextKey, reqID)
		c.Writer.Header().Set(headerKey, reqID)

		c.Next()
	}
}

// Value returns the request ID stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Tag attaches a correlation field to the request, such as the authenticated
// user or a realtime subscriber. A later tag with the same key wins.
func Tag(c *gin.Context, key, value string) {
	if value == "" {
		return
	}
	tags := tagsOf(c)
	for i := range tags {
		if tags[i].key == key {
			tags[i].value = value
			c.Set(tagsKey, tags)
			return
		}
	}
	c.Set(tagsKey, append(tags, tag{key: key, value: value}))
}

// Fields returns the request ID, the pass or alert named by the route, and any
// tags as zap fields.
func Fields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if reqID := Value(c); reqID != "" {
		fields = append(fields, zap.String(contextKey, reqID))
	}
	for _, p := range c.Params {
		if name, ok := routeTags[p.Key]; ok && p.Value != "" {
			fields = append(fields, zap.String(name, p.Value))
		}
	}
	for _, t := range tagsOf(c) {
		fields = append(fields, zap.String(t.key, t.value))
	}
	return fields
}

func tagsOf(c *gin.Context) []tag {
	if v, exists := c.Get(tagsKey); exists {
		if tags, ok := v.([]tag); ok {
			return tags
		}
	}
	return nil
}
