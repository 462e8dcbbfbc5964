package proxy

import (
	"net/http"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestRequestID_HonorsClientValue(t *testing.T) {
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini")), nil)
	defer stop()

	req, err := http.NewRequest(http.MethodPost, "http://llmur/v1/chat/completions", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Request-ID", "trace-me-42")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)

	if got := resp.Header.Get("X-Request-ID"); got != "trace-me-42" {
		t.Errorf("request id = %q, want the client-supplied value", got)
	}
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	var handled fasthttp.RequestHandler = func(ctx *fasthttp.RequestCtx) {
		if id, _ := ctx.UserValue("request_id").(string); id == "" {
			t.Error("request id missing from the request context")
		}
	}
	ctx := &fasthttp.RequestCtx{}
	requestID(handled)(ctx)

	if len(ctx.Response.Header.Peek("X-Request-ID")) == 0 {
		t.Error("request id missing from the response")
	}
}

func TestRecovery_TurnsPanicsIntoServerErrors(t *testing.T) {
	s := NewServer(nil, nil, nil, ServerOptions{Logger: testLogger()})
	h := s.recovery(func(*fasthttp.RequestCtx) { panic("boom") })

	ctx := &fasthttp.RequestCtx{}
	h(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("status = %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "internal server error") {
		t.Errorf("body = %s", ctx.Response.Body())
	}
}

func TestApplyMiddleware_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	h := applyMiddleware(func(*fasthttp.RequestCtx) {
		order = append(order, "handler")
	}, tag("outer"), tag("inner"))
	h(&fasthttp.RequestCtx{})

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
