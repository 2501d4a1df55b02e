package web

import (
	"strings"

	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/catalog"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/valyala/fasthttp"
)

// CodeNotFound is returned for unknown catalog ids.
const CodeNotFound core.Code = "not_found"

// API binds the task clients and the catalog to HTTP routes.
type API struct {
	Hash    *hash.Client
	Diff    *diff.Client
	Catalog *catalog.Catalog
	// Bridges are reported by /healthz.
	Bridges []*bridge.Bridge
	// Metrics serves /metrics when set.
	Metrics fasthttp.RequestHandler
}

type hashTextRequest struct {
	Text      string `json:"text"`
	Algorithm string `json:"algorithm"`
}

type toolsResponse struct {
	Tools []catalog.Entry `json:"tools"`
	Count int             `json:"count"`
}

type healthResponse struct {
	Status  string         `json:"status"`
	Bridges []bridgeHealth `json:"bridges"`
}

type bridgeHealth struct {
	Family   string `json:"family"`
	Slots    int    `json:"slots"`
	Live     int    `json:"live"`
	Dead     int    `json:"dead"`
	Pending  int    `json:"pending"`
	Restarts int    `json:"restarts"`
}

// Register installs the routes on r. mw applies to the /api/v1 routes
// only, so health and metrics stay reachable without credentials.
func (a *API) Register(r *Router, mw ...Middleware) {
	if a.Hash != nil {
		r.POST("/api/v1/hash/text", a.hashText, mw...)
		r.POST("/api/v1/hash/file", a.hashFile, mw...)
	}
	if a.Diff != nil {
		r.POST("/api/v1/diff", a.diff, mw...)
	}
	if a.Catalog != nil {
		r.GET("/api/v1/tools", a.tools, mw...)
		r.GET("/api/v1/tools/:id", a.tool, mw...)
		r.GET("/api/v1/categories", a.categories, mw...)
	}
	r.GET("/healthz", a.health)
	if a.Metrics != nil {
		r.GET("/metrics", func(ctx *RequestContext) error {
			a.Metrics(ctx.RequestCtx)
			return nil
		})
	}
}

// algorithmOrDefault leaves validation of non-empty selectors to the
// worker.
func algorithmOrDefault(s string) hash.Algorithm {
	if strings.TrimSpace(s) == "" {
		return hash.SHA256
	}
	return hash.Algorithm(s)
}

func (a *API) hashText(ctx *RequestContext) error {
	var req hashTextRequest
	if err := ctx.BindJSON(&req); err != nil {
		return err
	}
	res, err := bridge.Wait(ctx.Context(), a.Hash.HashText(ctx.Context(), req.Text, algorithmOrDefault(req.Algorithm)))
	if err != nil {
		return err
	}
	return ctx.JSON(fasthttp.StatusOK, res)
}

func (a *API) hashFile(ctx *RequestContext) error {
	data := ctx.RequestCtx.PostBody()
	res, err := bridge.Wait(ctx.Context(), a.Hash.HashFile(ctx.Context(), data, algorithmOrDefault(ctx.Query("algorithm"))))
	if err != nil {
		return err
	}
	return ctx.JSON(fasthttp.StatusOK, res)
}

func (a *API) diff(ctx *RequestContext) error {
	var req diff.Request
	if err := ctx.BindJSON(&req); err != nil {
		return err
	}
	res, err := bridge.Wait(ctx.Context(), a.Diff.CompareWith(ctx.Context(), req))
	if err != nil {
		return err
	}
	return ctx.JSON(fasthttp.StatusOK, res)
}

func (a *API) tools(ctx *RequestContext) error {
	entries := a.Catalog.Search(ctx.Query("q"))
	if category := ctx.Query("category"); category != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Category, category) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	return ctx.JSON(fasthttp.StatusOK, toolsResponse{Tools: entries, Count: len(entries)})
}

func (a *API) tool(ctx *RequestContext) error {
	e, ok := a.Catalog.Get(ctx.Param("id"))
	if !ok {
		return ctx.JSON(fasthttp.StatusNotFound, ErrorBody{Error: core.Error{Code: CodeNotFound, Message: "no tool " + ctx.Param("id")}})
	}
	return ctx.JSON(fasthttp.StatusOK, e)
}

func (a *API) categories(ctx *RequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, a.Catalog.ByCategory())
}

func (a *API) health(ctx *RequestContext) error {
	resp := healthResponse{Status: "ok", Bridges: []bridgeHealth{}}
	for _, b := range a.Bridges {
		st := b.Stats()
		if st.Stopped || st.Dead == st.Slots {
			resp.Status = "degraded"
		}
		resp.Bridges = append(resp.Bridges, bridgeHealth{
			Family:   string(st.Family),
			Slots:    st.Slots,
			Live:     st.Live,
			Dead:     st.Dead,
			Pending:  st.Pending,
			Restarts: st.Restarts,
		})
	}

	status := fasthttp.StatusOK
	if resp.Status != "ok" {
		status = fasthttp.StatusServiceUnavailable
	}
	return ctx.JSON(status, resp)
}
