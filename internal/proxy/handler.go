package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/authgw/internal/identity"
	"github.com/vyrodovalexey/authgw/internal/observability"
)

// Gin context keys set by the handler.
const (
	// ServiceContextKey holds the routed service name.
	ServiceContextKey = "proxy.service"

	// SubjectContextKey holds the subject resolved by Authenticate.
	SubjectContextKey = "proxy.subject"
)

// Caller-facing error messages.
const (
	msgNotAuthenticated   = "not authenticated"
	msgUnknownService     = "unknown service"
	msgMalformedBody      = "malformed request body"
	msgBodyTooLarge       = "request body too large"
	msgBackendUnreachable = "backend service unreachable"
)

// IdentityResolver resolves a credential to a subject.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (identity.Resolution, error)
}

// Handler authenticates inbound requests and proxies them to backends.
type Handler struct {
	extractor identity.CredentialExtractor
	resolver  IdentityResolver
	forwarder *Forwarder
	logger    observability.Logger
}

// NewHandler creates a proxy handler.
func NewHandler(
	extractor identity.CredentialExtractor,
	resolver IdentityResolver,
	forwarder *Forwarder,
	logger observability.Logger,
) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		extractor: extractor,
		resolver:  resolver,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Authenticate resolves the caller's credential and stores the subject
// under SubjectContextKey. Requests without a credential, or whose
// credential does not resolve, are rejected with 401 before any later
// handler runs.
func (h *Handler) Authenticate(c *gin.Context) {
	if c.GetString(SubjectContextKey) != "" {
		return
	}
	if subject, ok := h.authenticate(c); ok {
		c.Set(SubjectContextKey, subject)
	}
}

func (h *Handler) authenticate(c *gin.Context) (string, bool) {
	credential := h.extractor.Extract(c.Request)
	if credential == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgNotAuthenticated})
		return "", false
	}

	res, err := h.resolver.Resolve(c.Request.Context(), credential)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgNotAuthenticated})
		return "", false
	}
	return res.Subject, true
}

// Handle is the gin handler for every proxied route. When Authenticate has
// not run earlier in the chain it authenticates the request itself, so no
// backend is contacted for an unauthenticated caller.
func (h *Handler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.logger.WithContext(ctx)

	subject := c.GetString(SubjectContextKey)
	if subject == "" {
		var ok bool
		if subject, ok = h.authenticate(c); !ok {
			return
		}
	}

	if route, ok := SplitRoute(c.Request.URL.EscapedPath(), h.forwarder.RoutePrefix()); ok {
		c.Set(ServiceContextKey, route.Service)
	}

	resp, err := h.forwarder.Forward(ctx, c.Request, subject)
	if err != nil {
		h.abort(c, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if err := Relay(ctx, c.Writer, resp, logger); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownService):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": msgUnknownService})
	case errors.Is(err, ErrBodyTooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": msgBodyTooLarge})
	case errors.Is(err, ErrMalformedBody):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": msgMalformedBody,
			"error":   err.Error(),
		})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"message": msgBackendUnreachable,
			"error":   err.Error(),
		})
	}
}
