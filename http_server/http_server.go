package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danthegoodman1/icescan/ddl"
	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/query"
	"github.com/danthegoodman1/icescan/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var logger = gologger.NewLogger()

type HTTPServer struct {
	Echo   *echo.Echo
	Engine *query.Engine
	DDL    *ddl.Executor
}

type CustomValidator struct {
	validator *validator.Validate
}

// NewHTTPServer builds the router without listening, which is what tests use.
func NewHTTPServer(engine *query.Engine, executor *ddl.Executor) *HTTPServer {
	s := &HTTPServer{
		Echo:   echo.New(),
		Engine: engine,
		DDL:    executor,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.JSONSerializer = &utils.NoEscapeJSONSerializer{}

	s.Echo.Use(CreateReqContext)
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(middleware.CORS())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	// technical - no auth
	s.Echo.GET("/hc", s.HealthCheck)

	tables := s.Echo.Group("/tables")
	tables.POST("", ccHandler(s.CreateTable))
	tables.GET("/:table", ccHandler(s.DescribeTable))
	tables.POST("/:table/rows", ccHandler(s.InsertRows))
	tables.POST("/:table/scan", ccHandler(s.ScanTable))
	tables.POST("/:table/range_partitions", ccHandler(s.AddRangePartition))

	s.Echo.POST("/views", ccHandler(s.CreateView))
	s.Echo.POST("/join", ccHandler(s.LookupJoin))
	return s
}

func StartHTTPServer(engine *query.Engine, executor *ddl.Executor) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", utils.HTTP_PORT))
	if err != nil {
		return nil, fmt.Errorf("error creating tcp listener: %w", err)
	}
	s := NewHTTPServer(engine, executor)
	s.Echo.Listener = listener
	go func() {
		logger.Info().Msg("starting h2c server on " + listener.Addr().String())
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start h2c server, exiting")
		}
	}()

	return s, nil
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(s); err != nil {
		return err
	}
	return nil
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	return err
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			// default handler
			c.Error(err)
		}
		stop := time.Since(start)
		// Log otherwise
		logger := zerolog.Ctx(c.Request().Context())
		req := c.Request()
		res := c.Response()

		p := req.URL.Path
		if p == "" {
			p = "/"
		}

		cl := req.Header.Get(echo.HeaderContentLength)
		if cl == "" {
			cl = "0"
		}
		logger.Debug().Str("method", req.Method).Str("remote_ip", c.RealIP()).Str("req_uri", req.RequestURI).Str("handler_path", c.Path()).Str("path", p).Int("status", res.Status).Int64("latency_ns", int64(stop)).Str("protocol", req.Proto).Str("bytes_in", cl).Int64("bytes_out", res.Size).Msg("req recived")
		return nil
	}
}
