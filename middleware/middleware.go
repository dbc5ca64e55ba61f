// Package middleware is the HTTP-facing entry point of the gateway. It
// wraps protected handlers and decides, per request, between payment
// required, still pending, and releasing the (cached) response.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ledgerlens/x402/logger"
	"github.com/ledgerlens/x402/metrics"
	"github.com/ledgerlens/x402/payments"
	"github.com/ledgerlens/x402/pricing"
	"github.com/ledgerlens/x402/tracker"
	"github.com/ledgerlens/x402/types"
)

// Gateway mediates between paying clients and the protected handler chain.
// It is stateless per call: confirmation progress advances lazily on each
// inbound status check, never via a per-request poll loop.
type Gateway struct {
	pricing *pricing.Resolver
	manager *payments.Manager
	tracker *tracker.Tracker
	now     func() time.Time
	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*Gateway)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) { g.metrics = r }
}

// NewGateway wires the middleware over the pricing resolver, request
// manager, and status tracker.
func NewGateway(res *pricing.Resolver, mgr *payments.Manager, trk *tracker.Tracker, opts ...Option) *Gateway {
	g := &Gateway{
		pricing: res,
		manager: mgr,
		tracker: trk,
		now:     time.Now,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the gin middleware. Unpriced endpoints bypass the
// protocol entirely and fall through to the handler chain.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, priced := g.pricing.Resolve(c.Request.URL.Path, c.Request.Method); !priced {
			c.Next()
			return
		}

		requestID := c.GetHeader(types.HeaderRequestID)
		if requestID == "" {
			g.sendPaymentRequired(c)
			return
		}

		ctx := c.Request.Context()
		if txRef := c.GetHeader(types.HeaderTxReference); txRef != "" {
			if _, err := g.tracker.SubmitTxReference(ctx, requestID, txRef); err != nil {
				g.renderError(c, err)
				return
			}
		}

		rec, err := g.tracker.CheckStatus(ctx, requestID, g.invoker(c))
		if err != nil {
			g.renderError(c, err)
			return
		}

		switch rec.Status {
		case types.StatusConfirmed:
			g.metrics.IncCounter("response_released", map[string]string{"chain": rec.Request.Chain})
			resp := rec.Response
			contentType := resp.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			c.Data(resp.StatusCode, contentType, resp.Body)
			c.Abort()

		case types.StatusExpired:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, types.PaymentRequiredResponse{
				X402Version: types.ProtocolVersion,
				Error:       "payment request expired; create a new request",
			})

		case types.StatusInvalid:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, types.PaymentRequiredResponse{
				X402Version: types.ProtocolVersion,
				Error:       "payment invalid; create a new request",
			})

		default:
			// PENDING, DETECTED, CONFIRMING: accepted but not complete. The
			// confirmation count lets clients show progress without extra calls.
			c.AbortWithStatusJSON(http.StatusAccepted, types.PendingResponse{
				Status:        rec.Status,
				Confirmations: rec.Confirmations,
			})
		}
	}
}

// invoker adapts the downstream gin chain into the tracker's exactly-once
// handler contract, capturing output through a buffered writer.
func (g *Gateway) invoker(c *gin.Context) tracker.Handler {
	return func(context.Context) (*types.CachedResponse, error) {
		buffered := newBufferedWriter(c.Writer)
		original := c.Writer
		c.Writer = buffered
		c.Next()
		c.Writer = original

		return &types.CachedResponse{
			StatusCode:  buffered.Status(),
			ContentType: buffered.Header().Get("Content-Type"),
			Body:        append([]byte(nil), buffered.body.Bytes()...),
		}, nil
	}
}

func (g *Gateway) sendPaymentRequired(c *gin.Context) {
	ctx := c.Request.Context()

	rec, err := g.manager.CreateRequest(ctx, c.Request.URL.Path, c.Request.Method, c.GetHeader(types.HeaderChain))
	if err != nil {
		g.renderError(c, err)
		return
	}

	doc, err := g.manager.BuildPaymentDocument(ctx, rec.Request.RequestID)
	if err != nil {
		g.renderError(c, err)
		return
	}

	g.writeDocumentHeaders(c, doc)
	c.AbortWithStatusJSON(http.StatusPaymentRequired, types.PaymentRequiredResponse{
		X402Version: types.ProtocolVersion,
		Accepts:     []types.PaymentDocument{*doc},
	})
}

// writeDocumentHeaders duplicates the payment document into transport
// headers for clients that cannot read the body.
func (g *Gateway) writeDocumentHeaders(c *gin.Context, doc *types.PaymentDocument) {
	timeout := int64(doc.ExpiresAt.Sub(g.now()).Seconds())
	if timeout < 0 {
		timeout = 0
	}

	c.Header(types.HeaderAmount, doc.Amount.String())
	c.Header(types.HeaderAmountToken, doc.AmountToken.String())
	c.Header(types.HeaderCurrency, doc.Currency)
	c.Header(types.HeaderChain, doc.Chain)
	c.Header(types.HeaderRecipient, doc.RecipientAddress)
	c.Header(types.HeaderRequestID, doc.RequestID)
	c.Header(types.HeaderTimeoutSecs, strconv.FormatInt(timeout, 10))
	c.Header(types.HeaderScheme, doc.Scheme)
}

func (g *Gateway) renderError(c *gin.Context, err error) {
	switch types.CodeOf(err) {
	case types.ErrTxReferenceConflict:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})

	case types.ErrRequestExpired:
		c.AbortWithStatusJSON(http.StatusPaymentRequired, types.PaymentRequiredResponse{
			X402Version: types.ProtocolVersion,
			Error:       "payment request expired; create a new request",
		})

	case types.ErrInvalidRequestID:
		c.AbortWithStatusJSON(http.StatusPaymentRequired, types.PaymentRequiredResponse{
			X402Version: types.ProtocolVersion,
			Error:       "unknown payment request; create a new request",
		})

	case types.ErrRPCUnavailable:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":     "payment verification temporarily unavailable",
			"retryable": true,
		})

	case types.ErrUnsupportedChain:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		g.log.Error("gateway failure", map[string]any{"error": err.Error()})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
