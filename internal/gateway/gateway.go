// Package gateway exposes a ledger instance over HTTP: queries, stake
// transfers, withdrawals, reclamation and the controller-only
// administrative surface, plus a websocket event feed.
package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terminal-bench/paysplit/internal/analytics"
	"github.com/terminal-bench/paysplit/internal/auth"
	"github.com/terminal-bench/paysplit/internal/observer"
	"github.com/terminal-bench/paysplit/internal/payout"
	"github.com/terminal-bench/paysplit/internal/stake"
	"github.com/terminal-bench/paysplit/pkg/circuit"
)

// Gateway serves one ledger instance.
type Gateway struct {
	router      *gin.Engine
	ledger      *stake.Ledger
	auth        *auth.Service
	cache       *Cache
	hub         *observer.Hub
	payouts     *payout.Client
	resolver    payout.Resolver
	rateLimiter *RateLimiter
}

// Config holds gateway configuration.
type Config struct {
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Deps are the collaborators a gateway serves. Cache, Hub, Payouts and
// Resolver may be nil; the corresponding features degrade or 404.
type Deps struct {
	Ledger   *stake.Ledger
	Auth     *auth.Service
	Cache    *Cache
	Hub      *observer.Hub
	Payouts  *payout.Client
	Resolver payout.Resolver
}

// RateLimiter is a sliding-window per-client limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// Allow checks if a request is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := make([]time.Time, 0)
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// NewGateway creates the gateway and wires its routes.
func NewGateway(cfg Config, deps Deps) *Gateway {
	if cfg.RateLimitMax == 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	g := &Gateway{
		router:   gin.Default(),
		ledger:   deps.Ledger,
		auth:     deps.Auth,
		cache:    deps.Cache,
		hub:      deps.Hub,
		payouts:  deps.Payouts,
		resolver: deps.Resolver,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1/ledger")
	{
		// Queries
		v1.GET("/info", g.getInfo)
		v1.GET("/balance/:account", g.getBalance)
		v1.GET("/withdrawable/:account", g.getWithdrawable)
		v1.GET("/allowance/:owner/:spender", g.getAllowance)
		v1.GET("/orphan/:account", g.getOrphanStatus)
		v1.GET("/report", g.getReport)

		// Stake movement
		v1.POST("/transfer", g.postTransfer)
		v1.POST("/transfer-from", g.postTransferFrom)
		v1.POST("/approve", g.postApprove)

		// Value movement
		v1.POST("/deposit", g.postDeposit)
		v1.POST("/withdraw", g.postWithdraw)
		v1.POST("/withdraw-many", g.postWithdrawMany)
		v1.POST("/pull", g.postPull)

		// Orphan lifecycle
		v1.POST("/touch", g.postTouch)
		v1.POST("/reclaim", g.postReclaim)

		// Controller surface
		admin := v1.Group("/admin", g.adminMiddleware())
		{
			admin.POST("/name", g.postSetName)
			admin.POST("/symbol", g.postSetSymbol)
			admin.POST("/gate", g.postSetGate)
			admin.POST("/control", g.postTransferControl)
			admin.POST("/forward", g.postForward)
			admin.POST("/asset", g.postTransferAsset)
			admin.POST("/terminate", g.postTerminate)
		}

		v1.GET("/ws", g.handleWebSocket)
	}
}

// Start serves until the listener fails.
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Handler exposes the router for http.Server and tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// adminMiddleware verifies a controller bearer token against the live
// controller; a token outlives a control transfer but stops working with
// it.
func (g *Gateway) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if err := auth.RequireController(claims, g.ledger.Address(), g.ledger.Controller()); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not the controller"})
			return
		}

		c.Set("caller", claims.Subject)
		c.Next()
	}
}

// statusFor maps the ledger's sentinel errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stake.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, stake.ErrNotController):
		return http.StatusForbidden
	case errors.Is(err, stake.ErrTerminated):
		return http.StatusGone
	case errors.Is(err, stake.ErrExternalTransfer):
		return http.StatusBadGateway
	case errors.Is(err, circuit.ErrCircuitOpen), errors.Is(err, circuit.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, stake.ErrZeroAmount),
		errors.Is(err, stake.ErrSelfTransfer),
		errors.Is(err, stake.ErrTransferToLedger),
		errors.Is(err, stake.ErrEmptyValue):
		return http.StatusBadRequest
	case errors.Is(err, stake.ErrInsufficientBalance),
		errors.Is(err, stake.ErrInsufficientAllowance),
		errors.Is(err, stake.ErrNoStake),
		errors.Is(err, stake.ErrNothingDue),
		errors.Is(err, stake.ErrNotOrphaned),
		errors.Is(err, stake.ErrAlreadySet),
		errors.Is(err, stake.ErrDepositsClosed),
		errors.Is(err, stake.ErrResidualTooLarge),
		errors.Is(err, stake.ErrReentrantCall):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "terminated": g.ledger.Terminated()})
}

func (g *Gateway) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":               g.ledger.Name(),
		"symbol":             g.ledger.Symbol(),
		"controller":         g.ledger.Controller(),
		"total_supply":       g.ledger.TotalSupply(),
		"accepting_deposits": g.ledger.AcceptingDeposits(),
		"held_balance":       g.ledger.HeldBalance(),
		"holders":            g.ledger.HolderCount(),
	})
}

func (g *Gateway) getBalance(c *gin.Context) {
	account := c.Param("account")

	if v, ok := g.cache.GetUint64(c.Request.Context(), "balance", account); ok {
		c.JSON(http.StatusOK, gin.H{"account": account, "balance": v, "cached": true})
		return
	}

	balance := g.ledger.BalanceOf(account)
	g.cache.SetUint64(c.Request.Context(), "balance", account, balance)
	c.JSON(http.StatusOK, gin.H{"account": account, "balance": balance})
}

func (g *Gateway) getWithdrawable(c *gin.Context) {
	account := c.Param("account")

	if v, ok := g.cache.GetUint64(c.Request.Context(), "withdrawable", account); ok {
		c.JSON(http.StatusOK, gin.H{"account": account, "withdrawable": v, "cached": true})
		return
	}

	withdrawable, err := g.ledger.WithdrawableOf(account)
	if err != nil {
		fail(c, err)
		return
	}
	g.cache.SetUint64(c.Request.Context(), "withdrawable", account, withdrawable)
	c.JSON(http.StatusOK, gin.H{"account": account, "withdrawable": withdrawable})
}

func (g *Gateway) getAllowance(c *gin.Context) {
	owner, spender := c.Param("owner"), c.Param("spender")
	c.JSON(http.StatusOK, gin.H{
		"owner":     owner,
		"spender":   spender,
		"allowance": g.ledger.Allowance(owner, spender),
	})
}

func (g *Gateway) getOrphanStatus(c *gin.Context) {
	account := c.Param("account")

	deadline, err := g.ledger.OrphanDeadline(account)
	if err != nil {
		fail(c, err)
		return
	}
	orphaned, err := g.ledger.IsOrphaned(account)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account":  account,
		"deadline": deadline,
		"orphaned": orphaned,
	})
}

func (g *Gateway) getReport(c *gin.Context) {
	report, err := analytics.Build(g.ledger)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type transferRequest struct {
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount uint64 `json:"amount"`
}

func (g *Gateway) postTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.ledger.Transfer(c.Request.Context(), req.From, req.To, req.Amount); err != nil {
		fail(c, err)
		return
	}

	g.cache.Invalidate(c.Request.Context(), req.From, req.To)
	c.JSON(http.StatusOK, gin.H{"message": "transferred"})
}

type transferFromRequest struct {
	Spender string `json:"spender" binding:"required"`
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
	Amount  uint64 `json:"amount"`
}

func (g *Gateway) postTransferFrom(c *gin.Context) {
	var req transferFromRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.ledger.TransferFrom(c.Request.Context(), req.Spender, req.From, req.To, req.Amount); err != nil {
		fail(c, err)
		return
	}

	g.cache.Invalidate(c.Request.Context(), req.From, req.To)
	c.JSON(http.StatusOK, gin.H{"message": "transferred"})
}

type approveRequest struct {
	Owner   string `json:"owner" binding:"required"`
	Spender string `json:"spender" binding:"required"`
	Amount  uint64 `json:"amount"`
}

func (g *Gateway) postApprove(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.ledger.Approve(c.Request.Context(), req.Owner, req.Spender, req.Amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "approved"})
}

type depositRequest struct {
	From   string `json:"from" binding:"required"`
	Amount uint64 `json:"amount"`
}

func (g *Gateway) postDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.ledger.Deposit(c.Request.Context(), req.From, req.Amount); err != nil {
		fail(c, err)
		return
	}

	// A deposit changes what every holder can withdraw.
	g.cache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "received"})
}

type withdrawRequest struct {
	Holder      string `json:"holder" binding:"required"`
	Destination string `json:"destination"`
}

func (g *Gateway) postWithdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Destination == "" {
		req.Destination = req.Holder
	}

	amount, err := g.ledger.Withdraw(c.Request.Context(), req.Holder, req.Destination)
	if err != nil {
		fail(c, err)
		return
	}

	g.cache.Invalidate(c.Request.Context(), req.Holder)
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

type withdrawManyRequest struct {
	Holders []string `json:"holders" binding:"required"`
}

func (g *Gateway) postWithdrawMany(c *gin.Context) {
	var req withdrawManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	results, err := g.ledger.WithdrawMany(c.Request.Context(), req.Holders)
	if err != nil {
		fail(c, err)
		return
	}

	g.cache.Invalidate(c.Request.Context(), req.Holders...)

	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		entry := gin.H{"account": r.Account, "amount": r.Amount}
		if r.Err != "" {
			entry["error"] = r.Err
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

type pullRequest struct {
	Remote string `json:"remote" binding:"required"`
}

func (g *Gateway) postPull(c *gin.Context) {
	if g.payouts == nil || g.resolver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "pull withdrawals not configured"})
		return
	}

	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	remote, err := payout.NewRemote(c.Request.Context(), g.payouts, g.resolver, req.Remote)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	amount, err := g.ledger.PullFrom(c.Request.Context(), remote)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

type touchRequest struct {
	Caller  string `json:"caller" binding:"required"`
	Account string `json:"account" binding:"required"`
}

func (g *Gateway) postTouch(c *gin.Context) {
	var req touchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.ledger.Touch(c.Request.Context(), req.Caller, req.Account); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "touched"})
}

type reclaimRequest struct {
	Caller string `json:"caller" binding:"required"`
	Orphan string `json:"orphan" binding:"required"`
}

func (g *Gateway) postReclaim(c *gin.Context) {
	var req reclaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.ledger.Reclaim(c.Request.Context(), req.Caller, req.Orphan); err != nil {
		fail(c, err)
		return
	}

	g.cache.Invalidate(c.Request.Context(), req.Caller, req.Orphan)
	c.JSON(http.StatusOK, gin.H{"message": "reclaimed"})
}

// Admin handlers. The middleware has already proven the caller controls
// the ledger.

type labelRequest struct {
	Value string `json:"value" binding:"required"`
}

func (g *Gateway) postSetName(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("caller").(string)
	if err := g.ledger.SetName(c.Request.Context(), caller, req.Value); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "named"})
}

func (g *Gateway) postSetSymbol(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("caller").(string)
	if err := g.ledger.SetSymbol(c.Request.Context(), caller, req.Value); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "symboled"})
}

type gateRequest struct {
	Accepting *bool `json:"accepting" binding:"required"`
}

func (g *Gateway) postSetGate(c *gin.Context) {
	var req gateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("caller").(string)
	if err := g.ledger.SetAcceptingDeposits(c.Request.Context(), caller, *req.Accepting); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepting": *req.Accepting})
}

type controlRequest struct {
	To string `json:"to" binding:"required"`
}

func (g *Gateway) postTransferControl(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("caller").(string)
	if err := g.ledger.TransferControl(c.Request.Context(), caller, req.To); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"controller": req.To})
}

type forwardRequest struct {
	Target  string `json:"target" binding:"required"`
	Value   uint64 `json:"value"`
	Payload []byte `json:"payload"`
}

func (g *Gateway) postForward(c *gin.Context) {
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("caller").(string)
	if err := g.ledger.ForwardCall(c.Request.Context(), caller, req.Target, req.Value, req.Payload); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "forwarded"})
}

type assetTransferRequest struct {
	Asset  string `json:"asset" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount uint64 `json:"amount"`
}

func (g *Gateway) postTransferAsset(c *gin.Context) {
	var req assetTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("caller").(string)
	if err := g.ledger.TransferForeignAsset(c.Request.Context(), caller, req.Asset, req.To, req.Amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transferred"})
}

func (g *Gateway) postTerminate(c *gin.Context) {
	caller := c.MustGet("caller").(string)
	if err := g.ledger.Terminate(c.Request.Context(), caller); err != nil {
		fail(c, err)
		return
	}

	g.cache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "terminated"})
}

// WebSocket feed

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	if g.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event feed not configured"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	g.hub.ServeWS(c.Request.Context(), conn)
}
