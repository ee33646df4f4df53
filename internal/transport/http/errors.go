package transporthttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"algotrader/internal/logger"
	"algotrader/internal/types"
)

// errorEnvelope is the wire shape every failed request gets. The dev
// message carries the full error text; the client message is safe to
// show to end users and never leaks internal detail.
type errorEnvelope struct {
	DevErrorMsg    string `json:"devErrorMsg"`
	ClientErrorMsg string `json:"clientErrorMsg"`
}

func writeError(c *gin.Context, err error) {
	var (
		verr *types.ValidationError
		nerr *types.NotFoundError
		serr *types.InvalidStateError
		rerr *types.ReconciliationError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorEnvelope{
			DevErrorMsg:    verr.Error(),
			ClientErrorMsg: "The request was invalid. Please check the submitted values.",
		})
	case errors.As(err, &nerr):
		c.JSON(http.StatusNotFound, errorEnvelope{
			DevErrorMsg:    nerr.Error(),
			ClientErrorMsg: "The requested item could not be found.",
		})
	case errors.As(err, &serr):
		c.JSON(http.StatusConflict, errorEnvelope{
			DevErrorMsg:    serr.Error(),
			ClientErrorMsg: "This action is not possible in the backtest's current state.",
		})
	case errors.As(err, &rerr):
		c.JSON(http.StatusUnprocessableEntity, errorEnvelope{
			DevErrorMsg:    rerr.Error(),
			ClientErrorMsg: "The trade could not be reconciled with the ledger.",
		})
	default:
		logger.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, errorEnvelope{
			DevErrorMsg:    err.Error(),
			ClientErrorMsg: "Something went wrong. Please try again later.",
		})
	}
}

func badRequest(c *gin.Context, dev string) {
	c.JSON(http.StatusBadRequest, errorEnvelope{
		DevErrorMsg:    dev,
		ClientErrorMsg: "The request was invalid. Please check the submitted values.",
	})
}
