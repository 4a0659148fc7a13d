package server

import (
	"net/http"
	"strings"

	bookingdomain "github.com/craftlane/craftlane/internal/booking/domain"
	"github.com/gin-gonic/gin"
)

type confirmBookingRequest struct {
	CustomerID           string `json:"customer_id"`
	ProviderID           string `json:"provider_id"`
	ListingID            string `json:"listing_id"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
	PaymentRef           string `json:"payment_ref"`
	RequiresConsultation bool   `json:"requires_consultation"`
}

func (s *Server) ConfirmBooking(c *gin.Context) {
	var req confirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseBodyID("customer_id", req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	providerID, err := parseBodyID("provider_id", req.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	listingID, err := parseOptionalBodyID("listing_id", req.ListingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.bookingSvc.ConfirmBooking(c.Request.Context(), bookingdomain.ConfirmBookingRequest{
		CustomerID:           customerID,
		ProviderID:           providerID,
		ListingID:            listingID,
		Amount:               req.Amount,
		Currency:             strings.TrimSpace(req.Currency),
		PaymentRef:           strings.TrimSpace(req.PaymentRef),
		RequiresConsultation: req.RequiresConsultation,
	})
	if err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
