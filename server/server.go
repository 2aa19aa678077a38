// Package server is the inbound HTTP surface: one query endpoint plus the
// supporting customer reads (cart, orders, products, vouchers). Sessions are
// derived from caller network identity, never supplied by the client.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	cartx "github.com/shoplytic/agent/agent/cart"
	"github.com/shoplytic/agent/agent/commerce"
	"github.com/shoplytic/agent/agent/contract"
	logx "github.com/shoplytic/agent/pkg/logger"
)

type Config struct {
	Addr         string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	AllowOrigins []string      `envconfig:"ALLOW_ORIGINS" split_words:"true" default:"*"`
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" split_words:"true" default:"90s"`
}

// Router answers one customer query end to end.
type Router interface {
	Route(ctx context.Context, sessionID, query string, similarityThreshold *float64) (contract.Result, error)
}

type Server struct {
	engine       *gin.Engine
	router       Router
	carts        *cartx.Store
	store        *commerce.Store
	addr         string
	queryTimeout time.Duration
	log          zerolog.Logger
}

func New(cfg Config, router Router, carts *cartx.Store, store *commerce.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(sessionMiddleware())

	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 90 * time.Second
	}

	s := &Server{
		engine:       engine,
		router:       router,
		carts:        carts,
		store:        store,
		addr:         cfg.Addr,
		queryTimeout: queryTimeout,
		log:          logx.Component("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	user := s.engine.Group("/user")
	user.POST("/query", s.handleQuery)
	user.POST("/vouchers/generate", s.handleGenerateVoucher)
	user.GET("/cart", s.handleCart)
	user.GET("/orders", s.handleOrders)
	user.GET("/products", s.handleProducts)
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.addr).Msg("serving")
	return s.engine.Run(s.addr)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type queryRequest struct {
	Query         string   `json:"query" binding:"required"`
	MinSimilarity *float64 `json:"min_similarity"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if t := req.MinSimilarity; t != nil && (*t < 0 || *t > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_similarity must be between 0 and 1"})
		return
	}

	session := sessionID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.queryTimeout)
	defer cancel()

	result, err := s.router.Route(ctx, session, req.Query, req.MinSimilarity)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", session).Msg("query failed")
		status := http.StatusInternalServerError
		if errors.Is(err, contract.ErrProtocolViolation) || errors.Is(err, contract.ErrMalformedArguments) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": "failed to process query"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   session,
		"answer":       result.Response,
		"routing_mode": result.RoutingMode,
		"agents_used":  result.HandlersUsed,
		"sources":      result.Sources,
		"input":        result.SearchParams,
	})
}

func (s *Server) handleGenerateVoucher(c *gin.Context) {
	voucher, err := s.store.IssueVoucher(c.Request.Context(), sessionID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("voucher generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate voucher"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":   voucher.Code,
		"amount": voucher.Amount,
	})
}

func (s *Server) handleCart(c *gin.Context) {
	c.JSON(http.StatusOK, s.carts.Summarize(sessionID(c)))
}

func (s *Server) handleOrders(c *gin.Context) {
	session := sessionID(c)

	if raw := c.Query("order_id"); raw != "" {
		orderID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order_id must be an integer"})
			return
		}
		order, err := s.store.GetOrder(c.Request.Context(), session, orderID)
		if err != nil {
			s.log.Error().Err(err).Msg("order lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, order)
		return
	}

	orders, err := s.store.RecentOrders(c.Request.Context(), session, 0)
	if err != nil {
		s.log.Error().Err(err).Msg("orders lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleProducts(c *gin.Context) {
	q := commerce.ProductQuery{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Brand:    c.Query("brand"),
	}

	if v, err := floatQuery(c, "min_price"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_price must be a number"})
		return
	} else {
		q.MinPrice = v
	}
	if v, err := floatQuery(c, "max_price"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_price must be a number"})
		return
	} else {
		q.MaxPrice = v
	}
	if raw := c.Query("featured"); raw != "" {
		featured := raw == "true" || raw == "1"
		q.IsFeatured = &featured
	}
	active := true
	q.IsActive = &active

	q.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	q.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	products, total, err := s.store.SearchProducts(c.Request.Context(), q)
	if err != nil {
		s.log.Error().Err(err).Msg("product listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products":  products,
		"total":     total,
		"page":      q.Page,
		"page_size": q.PageSize,
	})
}

func floatQuery(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
