package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// ResolvePricePolicy answers which policy prices a product for a group on a
// date. data is null when the pair is uncosted.
func (s *Server) ResolvePricePolicy(c *gin.Context) {
	productID, err := parseSnowflakeID(c.Query("product_id"))
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return
	}
	groupID, ok := queryPriceGroup(c)
	if !ok {
		return
	}
	date, err := parseOptionalTime(c.Query("date"))
	if err != nil || date == nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD or RFC3339"))
		return
	}

	policy, err := s.pricePolicies.Resolve(c.Request.Context(), productID, groupID, *date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": policy})
}

func (s *Server) BookingWindow(c *gin.Context) {
	productID, err := parseSnowflakeID(c.Query("product_id"))
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return
	}
	groupID, ok := queryPriceGroup(c)
	if !ok {
		return
	}

	resp, err := s.reservations.BookingWindow(c.Request.Context(), callerFrom(c), groupID, productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// queryPriceGroup prefers the query parameter and falls back to the
// caller's price group header.
func queryPriceGroup(c *gin.Context) (snowflake.ID, bool) {
	groupID, err := parseOptionalSnowflakeID(c.Query("price_group_id"))
	if err != nil {
		AbortWithError(c, newValidationError("price_group_id", "invalid_price_group_id", "invalid price group id"))
		return 0, false
	}
	if groupID != nil {
		return *groupID, true
	}
	if id, ok := priceGroupFrom(c); ok {
		return id, true
	}
	AbortWithError(c, newValidationError("price_group_id", "required", "price group is required"))
	return 0, false
}
