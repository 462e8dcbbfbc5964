package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/internal/graph"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

// authScheme selects how the provider key travels on the outbound request.
type authScheme int

const (
	bearerAuth authScheme = iota
	apiKeyAuth
)

// outbound is a fully transformed upstream request, ready to send.
type outbound struct {
	url  string
	body []byte
	auth authScheme
	key  string
}

func marshalOutbound(url string, payload any, auth authScheme, key string) (outbound, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return outbound{}, fmt.Errorf("encoding upstream request: %w", err)
	}
	return outbound{url: url, body: body, auth: auth, key: key}, nil
}

func (o outbound) fill(req *fasthttp.Request, stream bool) {
	req.SetRequestURI(o.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	switch o.auth {
	case apiKeyAuth:
		req.Header.Set("api-key", o.key)
	default:
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+o.key)
	}
	if stream {
		req.Header.Set(fasthttp.HeaderAccept, "text/event-stream")
	}
	req.SetBody(o.body)
}

// retryableStatus reports whether an upstream status justifies moving on to
// the next connection instead of surfacing the response.
func retryableStatus(code int) bool {
	switch code {
	case fasthttp.StatusRequestTimeout,
		http.StatusTooEarly,
		fasthttp.StatusTooManyRequests,
		fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryable reports whether an attempt failure leaves the next candidate
// worth trying. Client-side failures (bad request, internal transform bugs)
// never do; upstream trouble does unless it was a definitive 4xx.
func retryable(err *apierr.Error) bool {
	switch err.Kind {
	case apierr.KindUpstreamError:
		return retryableStatus(err.Status)
	case apierr.KindUpstreamUnavailable, apierr.KindUpstreamMalformed:
		return true
	}
	return false
}

func timeoutError(err error) bool {
	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// run resolves the access path for the presented key and walks its
// connection candidates in order until one of them produces a response the
// client can have. Each attempt gets its own timeout bounded by the
// remaining request budget, and each attempt leaves exactly one request log
// entry and one metrics observation behind, success or not.
func (g *Gateway) run(ctx *fasthttp.RequestCtx, key string, plan proxyPlan) {
	deadline := time.Now().Add(g.requestBudget)

	resolved, err := g.resolver.Resolve(ctx, key, plan.model, true)
	if err != nil {
		g.log.Warn("graph_resolution_failed",
			slog.String("model", plan.model),
			slog.String("error", err.Error()))
		apierr.WriteError(ctx, err)
		return
	}

	if len(resolved.Candidates) == 0 {
		apierr.WriteError(ctx, apierr.UpstreamUnavailable(
			fmt.Sprintf("no connections are linked to deployment %q", plan.model)))
		return
	}

	method := string(ctx.Method())
	path := string(ctx.Path())

	var lastErr *apierr.Error
	for i, candidate := range resolved.Candidates {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			g.log.Warn("proxy_budget_exhausted",
				slog.String("model", plan.model),
				slog.Int("attempts", i))
			break
		}
		if remaining > g.attemptTimeout {
			remaining = g.attemptTimeout
		}

		attemptErr := g.attempt(ctx, resolved, candidate.Connection, plan, remaining, int16(i), method, path)
		if attemptErr == nil {
			return
		}
		lastErr = attemptErr
		if !retryable(attemptErr) {
			apierr.WriteError(ctx, attemptErr)
			return
		}
	}

	unavailable := apierr.UpstreamUnavailable(
		fmt.Sprintf("all %d connections for deployment %q failed", len(resolved.Candidates), plan.model))
	if lastErr != nil {
		unavailable = unavailable.WithCause(lastErr)
	}
	apierr.WriteError(ctx, unavailable)
}

// attempt sends the request through one connection. A nil return means the
// response has been written to the client.
func (g *Gateway) attempt(ctx *fasthttp.RequestCtx, resolved *graph.Graph, conn *store.Connection, plan proxyPlan, timeout time.Duration, attempt int16, method, path string) *apierr.Error {
	requestTS := time.Now()

	fail := func(status int, aerr *apierr.Error) *apierr.Error {
		msg := aerr.Error()
		g.finishAttempt(resolved, conn, attempt, status, -1, -1, &msg, requestTS, method, path)
		g.log.Warn("proxy_attempt_failed",
			slog.Int("attempt", int(attempt)),
			slog.String("connection_id", conn.ID.String()),
			slog.String("provider", conn.Provider),
			slog.Int("status", status),
			slog.String("error", msg))
		return aerr
	}

	if !supportsOperation(conn, plan.op) {
		return fail(0, apierr.UpstreamUnavailable(
			fmt.Sprintf("connection %s (%s) does not serve %s", conn.ID, conn.Provider, plan.op)))
	}
	if plan.stream && !streamableProvider(conn) {
		return fail(0, apierr.StreamingNotSupported())
	}

	out, err := plan.build(conn)
	if err != nil {
		var aerr *apierr.Error
		if !errors.As(err, &aerr) {
			aerr = apierr.Internal("building upstream request").WithCause(err)
		}
		return fail(0, aerr)
	}

	if plan.stream {
		return g.attemptStream(ctx, resolved, conn, out, timeout, attempt, requestTS, method, path, fail)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	out.fill(req, false)
	req.SetTimeout(timeout)

	if err := g.client.Do(req, resp); err != nil {
		if timeoutError(err) {
			return fail(0, apierr.UpstreamUnavailable("upstream timed out").WithCause(err))
		}
		return fail(0, apierr.UpstreamUnavailable("upstream request failed").WithCause(err))
	}

	status := resp.StatusCode()
	if status < fasthttp.StatusOK || status >= fasthttp.StatusMultipleChoices {
		body := append([]byte(nil), resp.Body()...)
		return fail(status, apierr.Upstream(status, body))
	}

	dec, err := plan.decode(conn, resp.Body())
	if err != nil {
		return fail(status, apierr.UpstreamMalformed(err))
	}

	g.finishAttempt(resolved, conn, attempt, status, dec.inputTokens, dec.outputTokens, nil, requestTS, method, path)
	g.log.Info("proxy_ok",
		slog.Int("attempt", int(attempt)),
		slog.String("connection_id", conn.ID.String()),
		slog.String("provider", conn.Provider),
		slog.Int("status", status),
		slog.Int64("input_tokens", dec.inputTokens),
		slog.Int64("output_tokens", dec.outputTokens))

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(dec.payload)
	return nil
}

// attemptStream forwards a streaming attempt. Failover still applies while
// the upstream answers with an error status; once a 2xx arrives the SSE body
// is piped through verbatim and the attempt is committed with unknown usage.
func (g *Gateway) attemptStream(ctx *fasthttp.RequestCtx, resolved *graph.Graph, conn *store.Connection, out outbound, timeout time.Duration, attempt int16, requestTS time.Time, method, path string, fail func(int, *apierr.Error) *apierr.Error) *apierr.Error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	out.fill(req, true)
	req.SetTimeout(timeout)

	if err := g.stream.Do(req, resp); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		if timeoutError(err) {
			return fail(0, apierr.UpstreamUnavailable("upstream timed out").WithCause(err))
		}
		return fail(0, apierr.UpstreamUnavailable("upstream request failed").WithCause(err))
	}

	status := resp.StatusCode()
	if status < fasthttp.StatusOK || status >= fasthttp.StatusMultipleChoices {
		body := append([]byte(nil), resp.Body()...)
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return fail(status, apierr.Upstream(status, body))
	}

	g.finishAttempt(resolved, conn, attempt, status, -1, -1, nil, requestTS, method, path)
	g.log.Info("proxy_stream_ok",
		slog.Int("attempt", int(attempt)),
		slog.String("connection_id", conn.ID.String()),
		slog.String("provider", conn.Provider),
		slog.Int("status", status))

	ctx.SetStatusCode(status)
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "no-cache")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		src := resp.BodyStream()
		if src == nil {
			return
		}
		buf := make([]byte, 32*1024)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
				if werr := w.Flush(); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	})
	return nil
}

// finishAttempt records the one request log entry and the one metrics
// observation every attempt owes, whatever its outcome. Unknown token
// counts arrive as -1: the log stores zeros, the metrics layer skips them.
func (g *Gateway) finishAttempt(resolved *graph.Graph, conn *store.Connection, attempt int16, status int, inputTokens, outputTokens int64, errMsg *string, requestTS time.Time, method, path string) {
	responseTS := time.Now()

	g.metrics.ObserveProxyRequest(
		resolved.Deployment.ID.String(), conn.ID.String(), conn.Provider, path,
		status, responseTS.Sub(requestTS), inputTokens, outputTokens)

	if g.recorder == nil {
		return
	}
	logIn, logOut := max(inputTokens, 0), max(outputTokens, 0)
	g.recorder.Record(&store.RequestLog{
		ID:              uuid.New(),
		AttemptNumber:   attempt,
		VirtualKeyID:    resolved.VirtualKey.ID,
		ProjectID:       resolved.Project.ID,
		DeploymentID:    resolved.Deployment.ID,
		ConnectionID:    conn.ID,
		InputTokens:     logIn,
		OutputTokens:    logOut,
		TotalTokens:     logIn + logOut,
		HTTPStatusCode:  status,
		Error:           errMsg,
		RequestTS:       requestTS,
		ResponseTS:      responseTS,
		Method:          method,
		Path:            path,
		Provider:        conn.Provider,
		DeploymentName:  resolved.Deployment.Name,
		ProjectName:     resolved.Project.Name,
		VirtualKeyAlias: resolved.VirtualKey.Alias,
	})
}
