package http_server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/ddl"
	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/join"
	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/partitioner"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/scan"
	"github.com/danthegoodman1/icescan/table"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type CustomContext struct {
	echo.Context
	RequestID string
}

var (
	ErrBadRequest = errors.New("bad request")

	badRequestErrs = []error{
		ErrBadRequest,
		ddl.ErrInvalidDefinition,
		join.ErrUnsupportedJoinCondition,
		scan.ErrInvalidRequest,
		predicate.ErrInvalidPredicate,
		table.ErrTypeMismatch,
		table.ErrColumnNotFound,
		part.ErrOverlappingRange,
		part.ErrInvalidBound,
		partitioner.ErrFuncNotFound,
		partitioner.ErrMissingColumns,
		partitioner.ErrNoRangePartition,
		partitioner.ErrNoRowTimestampRange,
	}
)

func CreateReqContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := uuid.NewString()
		ctx := context.WithValue(c.Request().Context(), gologger.ReqIDKey, reqID)
		ctx = logger.WithContext(ctx)
		c.SetRequest(c.Request().WithContext(ctx))
		logger := zerolog.Ctx(ctx)
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("reqID", reqID)
		})
		cc := &CustomContext{
			Context:   c,
			RequestID: reqID,
		}
		return next(cc)
	}
}

// Casts to custom context for the handler, so this doesn't have to be done per handler
func ccHandler(h func(*CustomContext) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h(c.(*CustomContext))
	}
}

func (c *CustomContext) internalErrorMessage() string {
	return "internal error, request id: " + c.RequestID
}

func (c *CustomContext) InternalError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		zerolog.Ctx(c.Request().Context()).Warn().CallerSkipFrame(1).Msg(err.Error())
	} else {
		zerolog.Ctx(c.Request().Context()).Error().CallerSkipFrame(1).Err(err).Msg(msg)
	}
	return c.String(http.StatusInternalServerError, c.internalErrorMessage())
}

// Fail maps domain errors to status codes, anything unknown is an internal error.
func (c *CustomContext) Fail(err error, msg string) error {
	switch {
	case errors.Is(err, datastore.ErrTableNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, datastore.ErrTableExists):
		return c.String(http.StatusConflict, err.Error())
	}
	for _, target := range badRequestErrs {
		if errors.Is(err, target) {
			return c.String(http.StatusBadRequest, err.Error())
		}
	}
	return c.InternalError(err, msg)
}
