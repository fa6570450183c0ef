package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/coinflip/internal/account"
	"github.com/MarkoPoloResearchLab/coinflip/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/coinflip"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

const contextKeyUserID = "auth_user_id"

// Server is the HTTP surface over the account service, the wallet ledger,
// and the settlement engine.
type Server struct {
	logger   *zap.Logger
	accounts *account.Service
	ledger   *wallet.Service
	engine   *coinflip.Engine
	cfg      Config
}

// NewServer wires a Server.
func NewServer(logger *zap.Logger, accounts *account.Service, ledger *wallet.Service, engine *coinflip.Engine, cfg Config) (*Server, error) {
	if logger == nil || accounts == nil || ledger == nil || engine == nil {
		return nil, errors.New("httpapi: nil dependency")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{logger: logger, accounts: accounts, ledger: ledger, engine: engine, cfg: cfg}, nil
}

// Router builds the gin engine with all routes attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/register", server.handleRegister)
	router.POST("/login", server.handleLogin)

	api := router.Group("/api")
	api.Use(server.authMiddleware())

	api.GET("/wallet", server.handleWallet)
	api.POST("/coinflip", server.handleCoinflip)
	api.GET("/bets", server.handleBets)

	return router
}

// Run serves the API until ctx is done, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (server *Server) handleRegister(ctx *gin.Context) {
	var request registerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	user, err := server.accounts.Register(ctx.Request.Context(), request.Username, request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrUsernameTaken):
			ctx.JSON(http.StatusConflict, errorResponse("username_taken", "username taken"))
		case errors.Is(err, account.ErrInvalidRegistration):
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_registration", err.Error()))
		default:
			server.logger.Error("register failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "registration failed"))
		}
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"user_id": user.UserID, "username": user.Username})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (server *Server) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	user, err := server.accounts.Authenticate(ctx.Request.Context(), request.Username, request.Password)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_credentials", "invalid username or password"))
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": user.UserID,
		"iss": server.cfg.SessionIssuer,
		"iat": now.Unix(),
		"exp": now.Add(server.cfg.SessionTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(server.cfg.SessionSecret))
	if err != nil {
		server.logger.Error("sign session token", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "failed to create token"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"token": signed})
}

func (server *Server) authMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		rawToken, found := strings.CutPrefix(header, "Bearer ")
		if !found || rawToken == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		parsed, err := jwt.Parse(rawToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(server.cfg.SessionSecret), nil
		}, jwt.WithIssuer(server.cfg.SessionIssuer), jwt.WithExpirationRequired())
		if err != nil || !parsed.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		subject, err := parsed.Claims.GetSubject()
		if err != nil || subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		ctx.Set(contextKeyUserID, subject)
		ctx.Next()
	}
}

func (server *Server) handleWallet(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	balance, err := server.ledger.Balance(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}
	entries, err := server.ledger.Entries(ctx.Request.Context(), accountID, 0, server.cfg.HistoryLimit)
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}

	entryPayloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		entryPayloads = append(entryPayloads, entryPayload{
			EntryID:        entry.EntryID,
			Kind:           entry.Kind.String(),
			Amount:         coinflip.FormatAmount(wallet.AmountCents(entry.DeltaCents)),
			Chosen:         entry.Metadata.Chosen,
			Outcome:        entry.Metadata.Outcome,
			Reason:         entry.Metadata.Reason,
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance": coinflip.FormatAmount(balance),
		"entries": entryPayloads,
	})
}

type coinflipRequest struct {
	Choice string `json:"choice"`
	Stake  string `json:"stake"`
}

func (server *Server) handleCoinflip(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	var request coinflipRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	// Keep the chosen-side label closed to the two valid values.
	chosenLabel := "invalid"
	if side, sideErr := coinflip.ParseSide(request.Choice); sideErr == nil {
		chosenLabel = side.String()
	}

	started := time.Now()
	result, err := server.engine.PlaceBet(ctx.Request.Context(), accountID, request.Choice, request.Stake)
	if err != nil {
		metrics.RecordBet("rejected", chosenLabel, started)
		server.respondBetError(ctx, err)
		return
	}

	settled := "lost"
	if result.PayoutCents > 0 {
		settled = "won"
	}
	metrics.RecordBet(settled, chosenLabel, started)

	ctx.JSON(http.StatusOK, gin.H{
		"result":  result.Outcome.String(),
		"payout":  coinflip.FormatAmount(result.PayoutCents),
		"balance": coinflip.FormatAmount(result.BalanceCents),
	})
}

func (server *Server) handleBets(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	bets, err := server.ledger.Bets(ctx.Request.Context(), accountID, 0, server.cfg.HistoryLimit)
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}
	betPayloads := make([]betPayload, 0, len(bets))
	for _, bet := range bets {
		betPayloads = append(betPayloads, betPayload{
			BetID:          bet.BetID,
			Chosen:         bet.Chosen,
			Outcome:        bet.Outcome,
			Stake:          coinflip.FormatAmount(bet.StakeCents),
			Payout:         coinflip.FormatAmount(bet.PayoutCents),
			CreatedUnixUTC: bet.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"bets": betPayloads})
}

func (server *Server) accountID(ctx *gin.Context) (wallet.AccountID, bool) {
	rawUserID := ctx.GetString(contextKeyUserID)
	accountID, err := wallet.NewAccountID(rawUserID)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return wallet.AccountID{}, false
	}
	return accountID, true
}

func (server *Server) respondBetError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, coinflip.ErrInvalidStake):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_stake", "invalid stake"))
	case errors.Is(err, coinflip.ErrInvalidSide):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_choice", "invalid choice"))
	case errors.Is(err, wallet.ErrInsufficientFunds):
		ctx.JSON(http.StatusBadRequest, errorResponse("insufficient_funds", "insufficient funds"))
	case errors.Is(err, wallet.ErrWalletNotFound):
		ctx.JSON(http.StatusBadRequest, errorResponse("no_wallet", "no wallet"))
	case errors.Is(err, wallet.ErrConflict):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("contention", "please retry"))
	default:
		server.logger.Error("bet settlement failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "bet failed"))
	}
}

func (server *Server) respondLedgerError(ctx *gin.Context, err error) {
	if errors.Is(err, wallet.ErrWalletNotFound) {
		ctx.JSON(http.StatusBadRequest, errorResponse("no_wallet", "no wallet"))
		return
	}
	server.logger.Error("wallet read failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "wallet unavailable"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type entryPayload struct {
	EntryID        string `json:"entry_id"`
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	Chosen         string `json:"chosen,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Reason         string `json:"reason,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type betPayload struct {
	BetID          string `json:"bet_id"`
	Chosen         string `json:"chosen"`
	Outcome        string `json:"outcome"`
	Stake          string `json:"stake"`
	Payout         string `json:"payout"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}
