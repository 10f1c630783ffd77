package handlers

import (
	"time"

	"github.com/valyala/fasthttp"

	"datalens/internal/analytics"
	dbpkg "datalens/internal/db"
	"datalens/internal/forecast"
)

// Summary serves the dashboard summary for ?period=&start_date=&end_date=.
// Bad ranges fall back to the trailing 7 days unless strict=1 is passed.
func Summary(engine *analytics.Engine, loc *time.Location) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		period := string(args.Peek("period"))
		start := string(args.Peek("start_date"))
		end := string(args.Peek("end_date"))
		now := time.Now()

		var r analytics.DateRange
		if args.GetBool("strict") {
			var err error
			r, err = analytics.ParseRangeStrict(period, start, end, now, loc)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
				return
			}
		} else {
			r = analytics.ParsePeriod(period, start, end, now, loc)
		}

		jsonResponse(ctx, engine.Summarize(ctx, r))
	}
}

// Forecast serves the forecast, or {"enabled":false} when forecasting is
// switched off.
func Forecast(engine *forecast.Engine, options *dbpkg.Options) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !options.Bool(ctx, dbpkg.OptForecastingEnabled, true) {
			jsonResponse(ctx, map[string]any{"enabled": false})
			return
		}
		jsonResponse(ctx, engine.Forecast(ctx))
	}
}
