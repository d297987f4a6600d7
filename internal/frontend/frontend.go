// Package frontend exposes the authnzerver over HTTP. One endpoint: POST /
// carrying a base64 blob that decrypts to a request envelope. The server is
// an internal backend, so the handler refuses any connection that is not
// from loopback before touching the payload.
package frontend

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waqasbhatti/authnzerver/internal/dispatch"
	"github.com/waqasbhatti/authnzerver/internal/envelope"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
	"github.com/waqasbhatti/authnzerver/internal/permissions"
	"github.com/waqasbhatti/authnzerver/internal/ratelimit"
)

// Frontend decrypts request blobs, routes them through the dispatcher, and
// encrypts the responses.
type Frontend struct {
	key        []byte
	dispatcher *dispatch.Dispatcher
	limiter    *ratelimit.Limiter
	logger     logging.Logger
}

// New builds a Frontend. The key is the pre-shared envelope key; the limiter
// may be a disabled one but must not be nil.
func New(key []byte, dispatcher *dispatch.Dispatcher, limiter *ratelimit.Limiter, logger logging.Logger) *Frontend {
	return &Frontend{key: key, dispatcher: dispatcher, limiter: limiter, logger: logger}
}

// Router assembles the gin engine.
func (f *Frontend) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(f.loopbackOnly())
	r.POST("/", f.handle)
	return r
}

// loopbackOnly rejects any request whose peer address is not loopback,
// before the body is read. Deployment behind anything other than a local
// reverse proxy is a misconfiguration this refuses to paper over.
func (f *Frontend) loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			f.logger.Warn(c.Request.Context(), "refused non-loopback connection", "remote", c.Request.RemoteAddr)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func (f *Frontend) handle(c *gin.Context) {
	ctx := c.Request.Context()

	blob, err := c.GetRawData()
	if err != nil || len(blob) == 0 {
		c.String(http.StatusBadRequest, "request body is required")
		return
	}

	var req envelope.Request
	if err := envelope.Decrypt(string(blob), f.key, &req); err != nil {
		// No detail: a bad key and a tampered blob look the same.
		f.logger.Warn(ctx, "request blob failed to decrypt")
		c.String(http.StatusUnauthorized, "request could not be authenticated")
		return
	}

	// Pre-authentication requests are budgeted at the anonymous role's
	// rate. The limiter degrades open on backend failure.
	limit := permissions.LimitsForRole(models.RoleAnonymous).MaxRequestsPerMinute
	allowed, _ := f.limiter.Allow(ctx, c.ClientIP()+":"+req.Request, limit)
	if !allowed {
		f.respond(c, http.StatusTooManyRequests, envelope.Response{
			Success: false, ReqID: req.ReqID,
			Messages: []string{"Slow down! Too many requests."},
		})
		return
	}

	resp := f.dispatcher.Handle(ctx, req)
	f.respond(c, http.StatusOK, resp)
}

func (f *Frontend) respond(c *gin.Context, status int, resp envelope.Response) {
	blob, err := envelope.Encrypt(resp, f.key)
	if err != nil {
		f.logger.Error(c.Request.Context(), "response encryption failed", "error", err)
		c.String(http.StatusInternalServerError, "response could not be prepared")
		return
	}
	c.String(status, blob)
}
