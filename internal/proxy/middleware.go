package proxy

import (
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/pkg/apierr"
)

type middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// applyMiddleware wraps a handler right to left, so the first middleware in
// the list sees the request first.
func applyMiddleware(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// recovery converts handler panics into a 500 response instead of tearing
// down the connection.
func (s *Server) recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic_recovered",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())))
				apierr.WriteError(ctx, apierr.Internal("internal server error"))
			}
		}()
		next(ctx)
	}
}

// requestID tags every request with an id, honoring one supplied by the
// caller, and reflects it in the response.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		ctx.SetUserValue("request_id", id)
		ctx.Response.Header.Set("X-Request-ID", id)
		next(ctx)
	}
}

// httpMetrics observes request latency per route template. The matched
// route path keeps the label cardinality bounded; unmatched requests fall
// back to the raw path.
func (s *Server) httpMetrics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		path, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
		if path == "" {
			path = string(ctx.Path())
		}
		s.metrics.ObserveHTTPRequest(path, string(ctx.Method()), time.Since(start))
	}
}

// proxyAuth extracts the virtual key from the Authorization header and
// stashes the outcome for the inference handlers.
func (s *Server) proxyAuth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, aerr := bearerCredential(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		if aerr != nil {
			ctx.SetUserValue(virtualKeyValue, aerr)
		} else {
			ctx.SetUserValue(virtualKeyValue, key)
		}
		next(ctx)
	}
}

// adminAuth resolves the admin credential headers into a user context. It
// never rejects on its own: handlers decide what level of access they need.
func (s *Server) adminAuth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, aerr := s.auth.Authenticate(ctx,
			string(ctx.Request.Header.Peek(HeaderMasterKey)),
			string(ctx.Request.Header.Peek(HeaderSessionToken)))
		ctx.SetUserValue(userContextValue, userContextResult{user: user, err: aerr})
		next(ctx)
	}
}
