package handlers

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	dbpkg "visitinsight/internal/db"
	httpctx "visitinsight/internal/http/ctx"
	"visitinsight/internal/identity"
)

type keyResolver interface {
	Resolve(ctx context.Context, apiKey string) (*dbpkg.Site, error)
}

// SiteMetricsHandler exposes the Prometheus metrics that belong to one
// site, selected by its API key. Families without a site label are
// passed through unchanged.
func SiteMetricsHandler(sites keyResolver, gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		apiKey := string(ctx.QueryArgs().Peek("api-key"))
		if apiKey == "" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString("missing api-key query parameter")
			return
		}

		c, cancel := requestContext()
		defer cancel()

		site, err := sites.Resolve(c, apiKey)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidCredential) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid API key")
				return
			}
			httpctx.Logger(ctx).WithError(err).Error("failed to resolve site for metrics")
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}

		families, err := gatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, format)
		for _, mf := range filterBySite(families, strconv.FormatUint(uint64(site.ID), 10)) {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(format))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func hasLabel(m *dto.Metric, name string) bool {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return true
		}
	}
	return false
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func filterBySite(families []*dto.MetricFamily, siteID string) []*dto.MetricFamily {
	filtered := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		labelled := false
		for _, m := range mf.GetMetric() {
			if hasLabel(m, "site") {
				labelled = true
				break
			}
		}
		if !labelled {
			filtered = append(filtered, mf)
			continue
		}

		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			if labelValue(m, "site") == siteID {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			continue
		}
		filtered = append(filtered, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Metric: kept,
		})
	}
	return filtered
}
