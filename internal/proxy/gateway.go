// Package proxy is the HTTP edge of the gateway: the OpenAI-compatible
// inference endpoints, the admin API and the middleware stack gluing them
// to fasthttp.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/internal/graph"
	"github.com/nulpointcorp/llmur/internal/metrics"
	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/azure/v20240201"
	"github.com/nulpointcorp/llmur/internal/providers/azure/v20241021"
	"github.com/nulpointcorp/llmur/internal/providers/gemini"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
	"github.com/nulpointcorp/llmur/internal/providers/openai/responses"
	"github.com/nulpointcorp/llmur/internal/reqlog"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultRequestBudget  = 60 * time.Second
)

// GraphResolver resolves a presented virtual key and deployment name into
// an ordered access path.
type GraphResolver interface {
	Resolve(ctx context.Context, presentedKey, model string, allowStale bool) (*graph.Graph, error)
}

// GatewayOptions tune the proxy pipeline. Zero values fall back to defaults.
type GatewayOptions struct {
	Logger   *slog.Logger
	Metrics  *metrics.Registry
	Recorder *reqlog.Recorder

	// AttemptTimeout caps a single upstream attempt, RequestBudget the
	// whole failover walk.
	AttemptTimeout time.Duration
	RequestBudget  time.Duration
}

// Gateway serves the /v1 inference endpoints: it authenticates virtual
// keys, transforms requests into provider dialects and walks connection
// candidates until one answers.
type Gateway struct {
	resolver GraphResolver
	recorder *reqlog.Recorder
	metrics  *metrics.Registry
	log      *slog.Logger

	// client buffers responses so transport errors stay distinguishable
	// from body content; stream keeps the body open for SSE passthrough.
	client *fasthttp.Client
	stream *fasthttp.Client

	attemptTimeout time.Duration
	requestBudget  time.Duration
}

func NewGateway(resolver GraphResolver, opts GatewayOptions) *Gateway {
	g := &Gateway{
		resolver:       resolver,
		recorder:       opts.Recorder,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		attemptTimeout: opts.AttemptTimeout,
		requestBudget:  opts.RequestBudget,
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.attemptTimeout <= 0 {
		g.attemptTimeout = defaultAttemptTimeout
	}
	if g.requestBudget <= 0 {
		g.requestBudget = defaultRequestBudget
	}
	g.client = &fasthttp.Client{
		MaxIdleConnDuration: time.Minute,
		ReadBufferSize:      16 * 1024,
	}
	g.stream = &fasthttp.Client{
		MaxIdleConnDuration: time.Minute,
		ReadBufferSize:      16 * 1024,
		StreamResponseBody:  true,
	}
	return g
}

// decoded is the canonical form of a successful upstream response.
type decoded struct {
	payload      []byte
	inputTokens  int64
	outputTokens int64
}

// proxyPlan carries the per-operation hooks the failover loop drives: how
// to build the outbound request for a connection and how to bring its
// response back into the canonical shape.
type proxyPlan struct {
	op     providers.Operation
	model  string
	stream bool
	build  func(conn *store.Connection) (outbound, error)
	decode func(conn *store.Connection, body []byte) (decoded, error)
}

func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	key, aerr := credential(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var req openai.ChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteError(ctx, apierr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		apierr.WriteError(ctx, apierr.BadRequest("missing required field: model"))
		return
	}
	g.run(ctx, key, proxyPlan{
		op:     providers.OpChatCompletions,
		model:  req.Model,
		stream: req.IsStream(),
		build: func(conn *store.Connection) (outbound, error) {
			return chatOutbound(conn, req)
		},
		decode: chatDecoder(req.Model),
	})
}

func (g *Gateway) handleEmbeddings(ctx *fasthttp.RequestCtx) {
	key, aerr := credential(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var req openai.EmbeddingsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteError(ctx, apierr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		apierr.WriteError(ctx, apierr.BadRequest("missing required field: model"))
		return
	}
	g.run(ctx, key, proxyPlan{
		op:    providers.OpEmbeddings,
		model: req.Model,
		build: func(conn *store.Connection) (outbound, error) {
			return embeddingsOutbound(conn, req)
		},
		decode: embeddingsDecoder(req.Model),
	})
}

func (g *Gateway) handleResponses(ctx *fasthttp.RequestCtx) {
	key, aerr := credential(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var req responses.Request
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteError(ctx, apierr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		apierr.WriteError(ctx, apierr.BadRequest("missing required field: model"))
		return
	}
	g.run(ctx, key, proxyPlan{
		op:     providers.OpResponses,
		model:  req.Model,
		stream: req.IsStream(),
		build: func(conn *store.Connection) (outbound, error) {
			return responsesOutbound(conn, req)
		},
		decode: responsesDecoder(req.Model),
	})
}

// supportsOperation reports whether a connection's provider and api version
// can serve the operation at all.
func supportsOperation(conn *store.Connection, op providers.Operation) bool {
	switch conn.Provider {
	case openai.ProviderName:
		return true
	case azure.ProviderName:
		return conn.APIVersion.Supports(op)
	case gemini.ProviderName:
		return gemini.Supports(op)
	}
	return false
}

// streamableProvider reports whether a connection can answer a streaming
// request: passthrough only works when the upstream already speaks the
// OpenAI SSE schema.
func streamableProvider(conn *store.Connection) bool {
	return conn.Provider == openai.ProviderName || conn.Provider == azure.ProviderName
}

// modelOverride turns a connection's optional model remap into a conversion
// context override.
func modelOverride(model string) *string {
	if model == "" {
		return nil
	}
	return &model
}

func chatOutbound(conn *store.Connection, req openai.ChatRequest) (outbound, error) {
	switch conn.Provider {
	case openai.ProviderName:
		converted, _ := req.ToSelf(providers.RequestContext{Model: modelOverride(conn.Model)})
		return marshalOutbound(openai.RequestURL(conn.Endpoint, providers.OpChatCompletions), converted, bearerAuth, conn.APIKey)
	case azure.ProviderName:
		if conn.APIVersion == azure.APIVersion20241021 {
			converted, loss := v20241021.FromChatRequest(req, v20241021.Context{Model: &conn.DeploymentName})
			return marshalOutbound(azure.RequestURL(conn.Endpoint, loss.Model, providers.OpChatCompletions, conn.APIVersion), converted, apiKeyAuth, conn.APIKey)
		}
		converted, loss := v20240201.FromChatRequest(req, v20240201.Context{Model: &conn.DeploymentName})
		return marshalOutbound(azure.RequestURL(conn.Endpoint, loss.Model, providers.OpChatCompletions, conn.APIVersion), converted, apiKeyAuth, conn.APIKey)
	case gemini.ProviderName:
		converted, loss := gemini.FromChatRequest(req, providers.RequestContext{Model: modelOverride(conn.Model)})
		return marshalOutbound(gemini.RequestURL(conn.Endpoint, loss.Model, providers.OpChatCompletions), converted, bearerAuth, conn.APIKey)
	}
	return outbound{}, apierr.Internal("unknown provider " + conn.Provider)
}

func chatDecoder(requestedModel string) func(*store.Connection, []byte) (decoded, error) {
	return func(conn *store.Connection, body []byte) (decoded, error) {
		rctx := providers.ResponseContext{Model: &requestedModel}
		switch conn.Provider {
		case openai.ProviderName:
			var resp openai.ChatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return decoded{}, err
			}
			return marshalDecoded(resp.ToSelf(rctx), resp)
		case azure.ProviderName:
			if conn.APIVersion == azure.APIVersion20241021 {
				var resp v20241021.ChatResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					return decoded{}, err
				}
				return marshalDecoded(resp.ToOpenAI(rctx), resp)
			}
			var resp v20240201.ChatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return decoded{}, err
			}
			return marshalDecoded(resp.ToOpenAI(rctx), resp)
		case gemini.ProviderName:
			var resp gemini.GenerateResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return decoded{}, err
			}
			return marshalDecoded(resp.ToOpenAI(rctx), resp)
		}
		return decoded{}, apierr.Internal("unknown provider " + conn.Provider)
	}
}

func embeddingsOutbound(conn *store.Connection, req openai.EmbeddingsRequest) (outbound, error) {
	switch conn.Provider {
	case openai.ProviderName:
		converted, _ := req.ToSelf(providers.RequestContext{Model: modelOverride(conn.Model)})
		return marshalOutbound(openai.RequestURL(conn.Endpoint, providers.OpEmbeddings), converted, bearerAuth, conn.APIKey)
	case azure.ProviderName:
		if req.Input.HasTokens() {
			return outbound{}, apierr.BadRequest("token array inputs are not supported on azure/openai connections")
		}
		converted, loss := v20241021.FromEmbeddingsRequest(req, v20241021.EmbeddingsContext{Model: &conn.DeploymentName})
		return marshalOutbound(azure.RequestURL(conn.Endpoint, loss.Model, providers.OpEmbeddings, conn.APIVersion), converted, apiKeyAuth, conn.APIKey)
	case gemini.ProviderName:
		converted, loss := gemini.FromEmbeddingsRequest(req, providers.RequestContext{Model: modelOverride(conn.Model)})
		return marshalOutbound(gemini.RequestURL(conn.Endpoint, loss.Model, providers.OpEmbeddings), converted, bearerAuth, conn.APIKey)
	}
	return outbound{}, apierr.Internal("unknown provider " + conn.Provider)
}

func embeddingsDecoder(requestedModel string) func(*store.Connection, []byte) (decoded, error) {
	return func(conn *store.Connection, body []byte) (decoded, error) {
		rctx := providers.ResponseContext{Model: &requestedModel}
		switch conn.Provider {
		case openai.ProviderName:
			var resp openai.EmbeddingsResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return decoded{}, err
			}
			return marshalDecoded(resp.ToSelf(rctx), resp)
		case azure.ProviderName:
			var resp v20241021.EmbeddingsResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return decoded{}, err
			}
			return marshalDecoded(resp.ToOpenAI(rctx), resp)
		case gemini.ProviderName:
			var resp gemini.EmbedResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return decoded{}, err
			}
			return marshalDecoded(resp.ToOpenAI(rctx), resp)
		}
		return decoded{}, apierr.Internal("unknown provider " + conn.Provider)
	}
}

func responsesOutbound(conn *store.Connection, req responses.Request) (outbound, error) {
	if conn.Provider != openai.ProviderName {
		return outbound{}, apierr.Internal("unknown provider " + conn.Provider)
	}
	converted, _ := req.ToSelf(providers.RequestContext{Model: modelOverride(conn.Model)})
	return marshalOutbound(openai.RequestURL(conn.Endpoint, providers.OpResponses), converted, bearerAuth, conn.APIKey)
}

func responsesDecoder(requestedModel string) func(*store.Connection, []byte) (decoded, error) {
	return func(conn *store.Connection, body []byte) (decoded, error) {
		var resp responses.Response
		if err := json.Unmarshal(body, &resp); err != nil {
			return decoded{}, err
		}
		return marshalDecoded(resp.ToSelf(providers.ResponseContext{Model: &requestedModel}), resp)
	}
}

// marshalDecoded renders a canonical response and pairs it with the token
// usage the provider reported.
func marshalDecoded(canonical any, usage providers.UsageReporter) (decoded, error) {
	payload, err := json.Marshal(canonical)
	if err != nil {
		return decoded{}, err
	}
	return decoded{
		payload:      payload,
		inputTokens:  usage.InputTokens(),
		outputTokens: usage.OutputTokens(),
	}, nil
}
