package http

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spok95/shipment-recon/internal/recon"
)

// Stock — ручной остаток: приход для заведения остатков и просмотр баланса.
type Stock interface {
	Receive(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error)
	GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error)
}

type Deps struct {
	Engine        *recon.Engine
	Stock         Stock
	Log           *slog.Logger
	ExposeMetrics bool
}

type Server struct {
	srv *http.Server
}

func New(addr string, d Deps) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// NewRouter собирает gin-роутер: /health, /metrics и API сессий отгрузки.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	useJSONFieldNames()
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLog(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if d.ExposeMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	h := &handlers{engine: d.Engine, stock: d.Stock, log: d.Log}
	api := r.Group("/api/v1")
	{
		api.POST("/sessions", h.openSession)
		api.GET("/sessions/:id", h.getSession)
		api.POST("/sessions/:id/scan", h.scan)
		api.POST("/sessions/:id/batch", h.batch)
		api.POST("/sessions/:id/batch/xlsx", h.batchXLSX)
		api.DELETE("/sessions/:id/codes/:code", h.unlink)
		api.POST("/sessions/:id/cancel", h.cancel)
		api.POST("/sessions/:id/confirm", h.confirm)

		api.POST("/stock/receive", h.receiveStock)
		api.GET("/stock/:warehouse/:variant", h.balance)
	}
	return r
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

var tagNamesOnce sync.Once

// useJSONFieldNames — в ошибках валидации поля называются так же, как в JSON.
func useJSONFieldNames() {
	tagNamesOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(func(fld reflect.StructField) string {
				name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
				if name == "-" || name == "" {
					return fld.Name
				}
				return name
			})
		}
	})
}

func requestLog(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}
