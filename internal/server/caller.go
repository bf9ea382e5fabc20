package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/facilitycore/internal/authorization"
)

// Identity is established upstream; the core trusts these headers.
const (
	headerUserID       = "X-User-ID"
	headerRole         = "X-Role"
	headerPriceGroupID = "X-Price-Group-ID"

	contextCallerKey     = "caller"
	contextPriceGroupKey = "price_group_id"
)

// CallerRequired rejects requests without a usable identity.
func CallerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := parseOptionalSnowflakeID(c.GetHeader(headerUserID))
		if err != nil || userID == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := strings.TrimSpace(strings.ToLower(c.GetHeader(headerRole)))
		caller := authorization.Caller{UserID: *userID, Role: role}
		if !caller.Valid() {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextCallerKey, caller)

		groupID, err := parseOptionalSnowflakeID(c.GetHeader(headerPriceGroupID))
		if err != nil {
			AbortWithError(c, newValidationError("price_group_id", "invalid_price_group_id", "invalid price group id"))
			return
		}
		if groupID != nil {
			c.Set(contextPriceGroupKey, *groupID)
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) authorization.Caller {
	if v, ok := c.Get(contextCallerKey); ok {
		if caller, ok := v.(authorization.Caller); ok {
			return caller
		}
	}
	return authorization.Caller{}
}

func priceGroupFrom(c *gin.Context) (snowflake.ID, bool) {
	if v, ok := c.Get(contextPriceGroupKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id, true
		}
	}
	return 0, false
}
