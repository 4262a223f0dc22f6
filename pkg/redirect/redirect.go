// Package redirect captures the browser consent redirect for the installed
// authentication flow and forwards its parameters over a channel.
package redirect

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Params carries the query parameters the provider appends to the redirect.
type Params struct {
	// Code is the single-use authorization code.
	Code string `form:"code" json:"code"`
	// State echoes the CSRF state that initiated the consent request.
	State string `form:"state" json:"state"`
}

// sendTimeout bounds how long the handler waits for the flow to pick the
// parameters off the channel before reporting an internal error.
const sendTimeout = 50 * time.Millisecond

const successPage = `<!DOCTYPE html>
<html>
<head><title>Authentication Successful</title></head>
<body>Authentication with the forecast relay was successful, you may close this browser tab.</body>
</html>`

// Handler returns a gin handler that delivers redirect parameters to tx and
// renders a short success page in the browser tab.
func Handler(tx chan<- Params) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params Params
		if err := c.ShouldBindQuery(&params); err != nil {
			slog.Error("Failed to bind redirect parameters", "error", err)
			c.String(http.StatusBadRequest, "bad request")
			return
		}

		select {
		case tx <- params:
		case <-time.After(sendTimeout):
			slog.Error("Failed to deliver redirect parameters, no flow is waiting")
			c.String(http.StatusInternalServerError, "internal server error")
			return
		}

		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, successPage)
	}
}

// Router creates a gin router serving the redirect endpoint at /oauth2/.
func Router(tx chan<- Params) *gin.Engine {
	router := gin.Default()
	router.GET("/oauth2", Handler(tx))
	router.GET("/oauth2/", Handler(tx))
	return router
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(addr string, tx chan<- Params) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      Router(tx),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
