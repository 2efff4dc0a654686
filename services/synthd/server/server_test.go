package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dshares/native/synth"
	"dshares/services/synthd/bridge"
	synthstore "dshares/services/synthd/storage"
	"dshares/state"
	"dshares/storage"
)

const testToken = "test-token"

type fixedOracle struct {
	price *big.Int
}

func (o *fixedOracle) Price(context.Context) (*big.Int, error) {
	return new(big.Int).Set(o.price), nil
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	book      *bridge.TokenBook
	store     *synthstore.Storage
	authority [20]byte
	user      [20]byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	store, err := synthstore.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := state.NewManager(storage.NewMemDB())
	book := bridge.NewTokenBook(manager)
	authority := [20]byte{0xaa}
	user := [20]byte{0x01}

	params := synth.DefaultParams()
	params.MintSource = "const run = () => portfolio.balance;"
	params.RedeemSource = "const run = (args) => broker.sell(args);"
	price := new(big.Int).Mul(big.NewInt(250), synth.PrecisionWei)
	engine, err := synth.NewEngine(synth.EngineConfig{
		Params:     params,
		Store:      manager,
		Dispatcher: bridge.NewRelay(log.Default()),
		Token:      book,
		Oracle:     &fixedOracle{price: price},
		Settlement: bridge.NewTreasury(store, log.Default()),
		Authority:  authority,
	})
	require.NoError(t, err)

	auth, err := NewAuthenticator(AuthConfig{BearerToken: testToken})
	require.NoError(t, err)
	srv, err := New(Config{ListenAddress: ":0"}, engine, store, authority, log.Default(), auth)
	require.NoError(t, err)
	return &testEnv{server: srv, handler: srv.Handler(), book: book, store: store, authority: authority, user: user}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func scaledStr(units int64) string {
	return new(big.Int).Mul(big.NewInt(units), synth.PrecisionWei).String()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMintRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mint", map[string]string{"amount": scaledStr(4)}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMintFulfillFlow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mint", map[string]string{"amount": scaledStr(4)}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var issued struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &issued)
	require.NotEmpty(t, issued.ID)

	// Audit mirror carries the pending row.
	mirrored, err := env.store.GetRequest(context.Background(), issued.ID)
	require.NoError(t, err)
	require.Equal(t, "pending", mirrored.Status)

	// Insufficient collateral: recorded rejection, callback still succeeds.
	collateral := new(big.Int).Mul(big.NewInt(1200), synth.PrecisionWei)
	rec = env.do(t, http.MethodPost, "/v1/fulfill", map[string]string{
		"id":       issued.ID,
		"response": fmt.Sprintf("0x%x", collateral),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &outcome)
	require.Equal(t, "mint_rejected", outcome.Status)

	mirrored, err = env.store.GetRequest(context.Background(), issued.ID)
	require.NoError(t, err)
	require.Equal(t, "mint_rejected", mirrored.Status)

	// A second callback for the same id conflicts.
	rec = env.do(t, http.MethodPost, "/v1/fulfill", map[string]string{
		"id":       issued.ID,
		"response": fmt.Sprintf("0x%x", collateral),
	}, true)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Full collateral applies the mint.
	rec = env.do(t, http.MethodPost, "/v1/mint", map[string]string{"amount": scaledStr(4)}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	decodeBody(t, rec, &issued)
	collateral = new(big.Int).Mul(big.NewInt(2000), synth.PrecisionWei)
	rec = env.do(t, http.MethodPost, "/v1/fulfill", map[string]string{
		"id":       issued.ID,
		"response": fmt.Sprintf("0x%x", collateral),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &outcome)
	require.Equal(t, "mint_applied", outcome.Status)

	supply, err := env.book.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, scaledStr(4), supply.String())
}

func TestFulfillUnknownRequest(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/fulfill", map[string]string{
		"id":       "never-issued",
		"response": "0x01",
	}, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedeemAndClaimFlow(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.book.Mint(env.user, new(big.Int).Mul(big.NewInt(10), synth.PrecisionWei)))
	requester := fmt.Sprintf("0x%x", env.user)

	rec := env.do(t, http.MethodPost, "/v1/redeem", map[string]string{
		"requester": requester,
		"amount":    scaledStr(2),
	}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var issued struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &issued)

	settled := new(big.Int).Mul(big.NewInt(500), synth.PrecisionWei)
	rec = env.do(t, http.MethodPost, "/v1/fulfill", map[string]string{
		"id":       issued.ID,
		"response": fmt.Sprintf("0x%x", settled),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &outcome)
	require.Equal(t, "redeem_settled", outcome.Status)

	rec = env.do(t, http.MethodPost, "/v1/claim", map[string]string{"requester": requester}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var claim struct {
		Amount string `json:"amount"`
	}
	decodeBody(t, rec, &claim)
	require.Equal(t, settled.String(), claim.Amount)

	// Balance is spent; a follow-up claim is below the floor.
	rec = env.do(t, http.MethodPost, "/v1/claim", map[string]string{"requester": requester}, true)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRedeemBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.book.Mint(env.user, new(big.Int).Mul(big.NewInt(10), synth.PrecisionWei)))
	tenth := new(big.Int).Quo(synth.PrecisionWei, big.NewInt(10))
	rec := env.do(t, http.MethodPost, "/v1/redeem", map[string]string{
		"requester": fmt.Sprintf("0x%x", env.user),
		"amount":    tenth.String(),
	}, true)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestLookupAndList(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mint", map[string]string{"amount": scaledStr(1)}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var issued struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &issued)

	rec = env.do(t, http.MethodGet, "/v1/requests/"+issued.ID, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var record struct {
		ID     string `json:"id"`
		Action string `json:"action"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &record)
	require.Equal(t, issued.ID, record.ID)
	require.Equal(t, "mint", record.Action)
	require.Equal(t, "pending", record.Status)

	rec = env.do(t, http.MethodGet, "/v1/requests/missing-id", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/requests?limit=10", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Requests   []map[string]any `json:"requests"`
		NextCursor string           `json:"next_cursor"`
	}
	decodeBody(t, rec, &listing)
	require.Len(t, listing.Requests, 1)
	require.Empty(t, listing.NextCursor)
}

func TestParamsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/params", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var params struct {
		CollateralRatio  uint64 `json:"collateral_ratio"`
		MinWithdrawalWei string `json:"min_withdrawal_wei"`
		FulfillGasLimit  uint64 `json:"fulfill_gas_limit"`
	}
	decodeBody(t, rec, &params)
	require.Equal(t, uint64(200), params.CollateralRatio)
	require.Equal(t, scaledStr(100), params.MinWithdrawalWei)
	require.Equal(t, uint64(300000), params.FulfillGasLimit)
}

func TestMintRejectsBadAmount(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mint", map[string]string{"amount": "four"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/mint", map[string]string{"amount": "-1"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
