package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	models "ChartCache/internal/domain/models"
	"ChartCache/internal/service/aggregate"
	"ChartCache/internal/service/ratelimit"
	"ChartCache/internal/usecase"
	xhttp "ChartCache/pkg/http"
	xlogger "ChartCache/pkg/logger"
	"ChartCache/pkg/util"

	"github.com/labstack/echo/v4"
)

// limiterIdle is how long a client may stay quiet before its bucket is dropped.
const limiterIdle = 15 * time.Minute

// ChartsEchoHandler serves chart reads and warm-up control.
type ChartsEchoHandler struct {
	logger *xlogger.Logger
	charts *usecase.ChartsUseCase
	rl     *ratelimit.Limiter
}

// NewChartsEchoHandler wires the handler; a nil limiter disables throttling
// of warm-up requests.
func NewChartsEchoHandler(logger *xlogger.Logger, charts *usecase.ChartsUseCase, rl *ratelimit.Limiter) *ChartsEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ChartsEchoHandler{logger: logger, charts: charts, rl: rl}
}

func (h *ChartsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/bars", h.Bars)
	g.GET("/single", h.Single)
	g.GET("/stats", h.Stats)
	g.GET("/symbols/:symbol/stats", h.SymbolStats)
	g.POST("/warmup", h.Warmup)
	g.DELETE("/symbols/:symbol", h.Remove)
}

func (h *ChartsEchoHandler) Bars(c echo.Context) error {
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := parseBound(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from", "from must be unix seconds, milliseconds or RFC3339"))
	}
	to, ok := parseBound(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to", "to must be unix seconds, milliseconds or RFC3339"))
	}

	res, err := h.charts.GetBars(c.Request().Context(), usecase.GetBarsParams{
		Symbol: req.Symbol,
		TF:     req.TF,
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	if err != nil {
		return h.fail(c, "bars", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, res)
}

func (h *ChartsEchoHandler) Single(c echo.Context) error {
	req := &models.SingleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.charts.GetSingle(c.Request().Context(), req.Symbol, req.TF, req.Method)
	if err != nil {
		return h.fail(c, "single", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, res)
}

func (h *ChartsEchoHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.charts.Stats())
}

func (h *ChartsEchoHandler) SymbolStats(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.charts.SymbolStats(req.Symbol)
	if err != nil {
		return h.fail(c, "symbol stats", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ChartsEchoHandler) Warmup(c echo.Context) error {
	if h.rl != nil {
		key := c.RealIP()
		h.rl.Prune(limiterIdle)
		if !h.rl.Allow(key) {
			wait := h.rl.RetryAfter(key)
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("warmup rate limit exceeded"))
		}
	}
	req := &models.WarmupRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.charts.Warmup(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "warmup", err)
	}
	if res.Scheduled {
		return xhttp.AcceptedResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ChartsEchoHandler) Remove(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.charts.Remove(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "remove", err)
	}
	if !res.Removed {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s is not cached", res.Symbol))
	}
	return xhttp.SuccessResponse(c, res)
}

// fail maps use case errors onto AppErrors; anything unmapped is a 500.
func (h *ChartsEchoHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, usecase.ErrSymbolRequired):
		appErr = xhttp.BadRequestError("symbol", "symbol is required")
	case errors.Is(err, usecase.ErrInvalidTimeframe):
		appErr = xhttp.BadRequestError("tf", err.Error())
	case errors.Is(err, usecase.ErrInvalidRange):
		appErr = xhttp.BadRequestError("from", err.Error())
	case errors.Is(err, aggregate.ErrInvalidResolution), errors.Is(err, aggregate.ErrUnknownMethod):
		appErr = xhttp.BadRequestError("tf", err.Error())
	case errors.Is(err, usecase.ErrUnknownSymbol):
		appErr = xhttp.NotFoundErrorf("symbol is not cached")
	default:
		h.logger.Error(op+" usecase error", xlogger.Error(err))
		appErr = xhttp.NewAppError("ERR_INTERNAL", "", http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError).WithError(err)
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func parseBound(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	return util.ParseTime(s)
}
