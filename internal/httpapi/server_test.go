package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/coinflip/internal/account"
	"github.com/MarkoPoloResearchLab/coinflip/internal/httpapi"
	"github.com/MarkoPoloResearchLab/coinflip/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/coinflip"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

const (
	registerPath      = "/register"
	loginPath         = "/login"
	walletPath        = "/api/wallet"
	coinflipPath      = "/api/coinflip"
	betsPath          = "/api/bets"
	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json"
	sessionSecret     = "integration-secret"
	testUsername      = "player-one"
	testPassword      = "longenoughpassword"
)

// scriptedSource replays a fixed sequence of outcomes.
type scriptedSource struct {
	outcomes []coinflip.Side
	next     int
}

func (source *scriptedSource) Draw() (coinflip.Side, error) {
	if source.next >= len(source.outcomes) {
		return coinflip.SideTails, nil
	}
	side := source.outcomes[source.next]
	source.next++
	return side, nil
}

func newTestRouter(t *testing.T, source coinflip.OutcomeSource, bonusCents wallet.AmountCents) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/coinflip.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := gormstore.New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	ledger, err := wallet.NewService(store, clock)
	if err != nil {
		t.Fatalf("ledger init: %v", err)
	}
	engine, err := coinflip.NewEngine(ledger, source, clock)
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	accounts, err := account.NewService(store, ledger, clock, bonusCents)
	if err != nil {
		t.Fatalf("account service init: %v", err)
	}

	server, err := httpapi.NewServer(zap.NewNop(), accounts, ledger, engine, httpapi.Config{SessionSecret: sessionSecret})
	if err != nil {
		t.Fatalf("server init: %v", err)
	}
	return server.Router()
}

func performJSON(t *testing.T, router *gin.Engine, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set(contentTypeHeader, contentTypeJSON)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine) string {
	t.Helper()
	registered := performJSON(t, router, http.MethodPost, registerPath, "", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	if registered.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", registered.Code, registered.Body.String())
	}

	loggedIn := performJSON(t, router, http.MethodPost, loginPath, "", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	if loggedIn.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", loggedIn.Code, loggedIn.Body.String())
	}
	var session struct {
		Token string `json:"token"`
	}
	decodeBody(t, loggedIn, &session)
	if session.Token == "" {
		t.Fatalf("login returned no token")
	}
	return session.Token
}

type betEnvelope struct {
	Result  string `json:"result"`
	Payout  string `json:"payout"`
	Balance string `json:"balance"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestWalletFlowIntegration(t *testing.T) {
	source := &scriptedSource{outcomes: []coinflip.Side{coinflip.SideHeads, coinflip.SideTails}}
	router := newTestRouter(t, source, 10000)
	token := registerAndLogin(t, router)

	// Winning bet: 100.00 - 10.00 + 19.00 = 109.00.
	won := performJSON(t, router, http.MethodPost, coinflipPath, token, map[string]string{
		"choice": "heads",
		"stake":  "10.00",
	})
	if won.Code != http.StatusOK {
		t.Fatalf("winning bet: expected 200, got %d: %s", won.Code, won.Body.String())
	}
	var wonBody betEnvelope
	decodeBody(t, won, &wonBody)
	if wonBody.Result != "heads" || wonBody.Payout != "19.00" || wonBody.Balance != "109.00" {
		t.Fatalf("unexpected winning bet response: %+v", wonBody)
	}

	// Losing bet: 109.00 - 10.00 = 99.00.
	lost := performJSON(t, router, http.MethodPost, coinflipPath, token, map[string]string{
		"choice": "heads",
		"stake":  "10.00",
	})
	if lost.Code != http.StatusOK {
		t.Fatalf("losing bet: expected 200, got %d: %s", lost.Code, lost.Body.String())
	}
	var lostBody betEnvelope
	decodeBody(t, lost, &lostBody)
	if lostBody.Result != "tails" || lostBody.Payout != "0.00" || lostBody.Balance != "99.00" {
		t.Fatalf("unexpected losing bet response: %+v", lostBody)
	}

	walletResponse := performJSON(t, router, http.MethodGet, walletPath, token, nil)
	if walletResponse.Code != http.StatusOK {
		t.Fatalf("wallet: expected 200, got %d: %s", walletResponse.Code, walletResponse.Body.String())
	}
	var walletBody struct {
		Balance string `json:"balance"`
		Entries []struct {
			Kind   string `json:"kind"`
			Amount string `json:"amount"`
		} `json:"entries"`
	}
	decodeBody(t, walletResponse, &walletBody)
	if walletBody.Balance != "99.00" {
		t.Fatalf("expected balance 99.00, got %s", walletBody.Balance)
	}
	// Bonus deposit, win stake, win payout, loss stake.
	if len(walletBody.Entries) != 4 {
		t.Fatalf("expected 4 ledger entries, got %d: %+v", len(walletBody.Entries), walletBody.Entries)
	}

	betsResponse := performJSON(t, router, http.MethodGet, betsPath, token, nil)
	if betsResponse.Code != http.StatusOK {
		t.Fatalf("bets: expected 200, got %d: %s", betsResponse.Code, betsResponse.Body.String())
	}
	var betsBody struct {
		Bets []struct {
			Chosen  string `json:"chosen"`
			Outcome string `json:"outcome"`
			Stake   string `json:"stake"`
			Payout  string `json:"payout"`
		} `json:"bets"`
	}
	decodeBody(t, betsResponse, &betsBody)
	if len(betsBody.Bets) != 2 {
		t.Fatalf("expected 2 bet records, got %d", len(betsBody.Bets))
	}
}

func TestBetErrorMapping(t *testing.T) {
	source := &scriptedSource{outcomes: []coinflip.Side{coinflip.SideTails}}
	router := newTestRouter(t, source, 500)
	token := registerAndLogin(t, router)

	testCases := []struct {
		name     string
		choice   string
		stake    string
		wantCode int
		wantErr  string
	}{
		{name: "invalid stake", choice: "heads", stake: "abc", wantCode: http.StatusBadRequest, wantErr: "invalid_stake"},
		{name: "negative stake", choice: "heads", stake: "-1", wantCode: http.StatusBadRequest, wantErr: "invalid_stake"},
		{name: "invalid choice", choice: "edge", stake: "1.00", wantCode: http.StatusBadRequest, wantErr: "invalid_choice"},
		{name: "insufficient funds", choice: "heads", stake: "10.00", wantCode: http.StatusBadRequest, wantErr: "insufficient_funds"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			response := performJSON(t, router, http.MethodPost, coinflipPath, token, map[string]string{
				"choice": testCase.choice,
				"stake":  testCase.stake,
			})
			if response.Code != testCase.wantCode {
				t.Fatalf("expected %d, got %d: %s", testCase.wantCode, response.Code, response.Body.String())
			}
			var body errorEnvelope
			decodeBody(t, response, &body)
			if body.Error.Code != testCase.wantErr {
				t.Fatalf("expected error code %q, got %q", testCase.wantErr, body.Error.Code)
			}
		})
	}
}

func TestRejectedBetLeavesBalanceUntouched(t *testing.T) {
	source := &scriptedSource{}
	router := newTestRouter(t, source, 500)
	token := registerAndLogin(t, router)

	rejected := performJSON(t, router, http.MethodPost, coinflipPath, token, map[string]string{
		"choice": "heads",
		"stake":  "10.00",
	})
	if rejected.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rejected.Code)
	}

	walletResponse := performJSON(t, router, http.MethodGet, walletPath, token, nil)
	var walletBody struct {
		Balance string `json:"balance"`
		Entries []struct {
			Kind string `json:"kind"`
		} `json:"entries"`
	}
	decodeBody(t, walletResponse, &walletBody)
	if walletBody.Balance != "5.00" {
		t.Fatalf("expected untouched balance 5.00, got %s", walletBody.Balance)
	}
	if len(walletBody.Entries) != 1 {
		t.Fatalf("expected only the signup bonus entry, got %d", len(walletBody.Entries))
	}
}

func TestAuthRequiredForAPIRoutes(t *testing.T) {
	router := newTestRouter(t, &scriptedSource{}, 0)

	for _, path := range []string{walletPath, betsPath} {
		response := performJSON(t, router, http.MethodGet, path, "", nil)
		if response.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, response.Code)
		}
	}
	response := performJSON(t, router, http.MethodPost, coinflipPath, "garbage-token", map[string]string{"choice": "heads", "stake": "1.00"})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", response.Code)
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	router := newTestRouter(t, &scriptedSource{}, 0)

	first := performJSON(t, router, http.MethodPost, registerPath, "", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", first.Code)
	}
	second := performJSON(t, router, http.MethodPost, registerPath, "", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d: %s", second.Code, second.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router := newTestRouter(t, &scriptedSource{}, 0)
	_ = registerAndLogin(t, router)

	response := performJSON(t, router, http.MethodPost, loginPath, "", map[string]string{
		"username": testUsername,
		"password": "not-the-password",
	})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &scriptedSource{}, 0)
	response := performJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	if !bytes.Contains(response.Body.Bytes(), []byte("ok")) {
		t.Fatalf("unexpected health body: %s", response.Body.String())
	}
}
