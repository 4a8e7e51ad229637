// health-fasthttp is a sidecar prober for a running campuschat server. It
// polls the server's /readyz on an interval and re-exposes the result on a
// cheap fasthttp listener, so load balancers can health-check without
// touching the authenticated main listener.
package main

import (
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

type upstreamState struct {
	ready   atomic.Bool
	lastOK  atomic.Int64 // unix nanos of the last successful readyz
	lastErr atomic.Value // string
}

func main() {
	addr := flag.String("addr", ":8081", "listen address for the probe")
	target := flag.String("target", "http://127.0.0.1:8080", "base URL of the campuschat server")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	timeout := flag.Duration("timeout", time.Second, "per-poll request timeout")
	stale := flag.Duration("stale", 10*time.Second, "report not-ready when the last success is older than this")
	flag.Parse()

	var st upstreamState
	st.lastErr.Store("")
	client := &fasthttp.Client{
		Name:            "campuschat-health-probe",
		ReadTimeout:     *timeout,
		WriteTimeout:    *timeout,
		MaxConnsPerHost: 2,
	}
	go poll(client, *target+"/readyz", *interval, *timeout, &st)

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/healthz":
			// the probe process itself
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(`{"status":"ok"}`)
		case "/readyz":
			writeUpstream(ctx, &st, *stale)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health probe for %s listening on %s\n", *target, *addr)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "campuschat-health-probe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 16,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("probe server exit: %v\n", err)
	}
}

func poll(client *fasthttp.Client, url string, interval, timeout time.Duration, st *upstreamState) {
	for {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		req.SetRequestURI(url)
		err := client.DoTimeout(req, resp, timeout)
		code := resp.StatusCode()
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)

		switch {
		case err != nil:
			st.ready.Store(false)
			st.lastErr.Store(err.Error())
		case code != fasthttp.StatusOK:
			st.ready.Store(false)
			st.lastErr.Store(fmt.Sprintf("upstream readyz returned %d", code))
		default:
			st.ready.Store(true)
			st.lastOK.Store(time.Now().UnixNano())
			st.lastErr.Store("")
		}
		time.Sleep(interval)
	}
}

func writeUpstream(ctx *fasthttp.RequestCtx, st *upstreamState, stale time.Duration) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	age := time.Duration(time.Now().UnixNano() - st.lastOK.Load())
	if st.ready.Load() && age < stale {
		ctx.SetStatusCode(fasthttp.StatusOK)
		_, _ = ctx.WriteString(fmt.Sprintf(`{"status":"ok","last_ok_age_ms":%d}`, age.Milliseconds()))
		return
	}
	reason, _ := st.lastErr.Load().(string)
	if reason == "" {
		reason = "no successful poll yet"
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	_, _ = ctx.WriteString(fmt.Sprintf(`{"status":"not ready","reason":%q}`, reason))
}
