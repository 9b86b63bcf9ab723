package gatekeeper_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
	"github.com/tanagerlabs/go-gatekeeper/store/memory"
)

type apiHarness struct {
	app   *fiber.App
	store gatekeeper.StorageProvider
	cfg   gatekeeper.SimpleConfig
}

func newAPIHarness(t *testing.T, opts ...gatekeeper.TokenAPIOption) *apiHarness {
	t.Helper()

	store := memory.NewStore()
	require.NoError(t, store.Open())

	hasher := gatekeeper.BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, store.AddAccount(&gatekeeper.Account{
		ID:           1,
		Username:     testUsername,
		Name:         "Fox Mulder",
		PasswordHash: hash,
	}))
	require.NoError(t, store.Commit())
	require.NoError(t, store.Close())

	cfg := gatekeeper.SimpleConfig{
		SigningKey: "test signing key",
		Issuer:     "gatekeeper-test",
	}

	// requests share one in-memory store; each one opens and closes it
	api := gatekeeper.NewTokenAPI(cfg, hasher, func() gatekeeper.StorageProvider {
		return store
	}, opts...)

	app := fiber.New()
	api.RegisterRoutes(app)

	return &apiHarness{app: app, store: store, cfg: cfg}
}

func (h *apiHarness) postJSON(t *testing.T, path string, payload any, headers map[string]string) gatekeeper.TokenResponse {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded gatekeeper.TokenResponse
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func (h *apiHarness) getToken(t *testing.T) gatekeeper.TokenResponse {
	t.Helper()
	return h.postJSON(t, "/api/get_token", gatekeeper.TokenRequest{
		Username: testUsername,
		Password: testPassword,
	}, nil)
}

func TestGetTokenSuccess(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.getToken(t)

	assert.Equal(t, 0, resp.ErrorCode)
	assert.Equal(t, "Login successful.", resp.Message)
	assert.NotEmpty(t, resp.Token)

	expireTime, err := time.Parse(time.RFC3339, resp.ExpireTime)
	require.NoError(t, err)
	assert.True(t, expireTime.After(time.Now()))
}

func TestGetTokenBadCredentials(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/get_token", gatekeeper.TokenRequest{
		Username: testUsername,
		Password: "wrong password",
	}, nil)

	assert.Equal(t, gatekeeper.CodeLoginRejected, resp.ErrorCode)
	assert.Equal(t, "Login attempt failed.", resp.Message)
	assert.Empty(t, resp.Token)
}

func TestGetTokenUnknownUser(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/get_token", gatekeeper.TokenRequest{
		Username: "nobody",
		Password: testPassword,
	}, nil)

	assert.Equal(t, gatekeeper.CodeLoginRejected, resp.ErrorCode)
	assert.Equal(t, "Login attempt failed.", resp.Message)
}

func TestGetTokenMissingFields(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/get_token", gatekeeper.TokenRequest{
		Username: testUsername,
	}, nil)

	assert.Equal(t, gatekeeper.CodeLoginRejected, resp.ErrorCode)
	assert.Equal(t, "Login attempt failed.", resp.Message)
}

func TestGetTokenMalformedBody(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/get_token", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded gatekeeper.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, gatekeeper.CodeLoginRejected, decoded.ErrorCode)
}

func TestVerifyTokenSuccess(t *testing.T) {
	h := newAPIHarness(t)
	token := h.getToken(t).Token

	resp := h.postJSON(t, "/api/verify_token", struct{}{}, map[string]string{
		h.cfg.GetTokenLookup(): token,
	})

	assert.Equal(t, 0, resp.ErrorCode)
	assert.Equal(t, "valid token provided (account_id=1, username=fmulder)", resp.Message)
}

func TestVerifyTokenMissing(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/verify_token", struct{}{}, nil)

	assert.Equal(t, gatekeeper.CodeTokenMissing, resp.ErrorCode)
	assert.Equal(t, "An authorization token is required.", resp.Message)
}

func TestVerifyTokenGarbage(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/verify_token", struct{}{}, map[string]string{
		h.cfg.GetTokenLookup(): "not-a-token",
	})

	assert.Equal(t, gatekeeper.CodeTokenInvalid, resp.ErrorCode)
	assert.Equal(t, "The provided authorization token is invalid.", resp.Message)
}

func TestVerifyTokenExpired(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	h := newAPIHarness(t, gatekeeper.WithTokenAPIClock(func() time.Time { return past }))

	// minted against a clock two days in the past, so already expired
	token := h.getToken(t).Token

	resp := h.postJSON(t, "/api/verify_token", struct{}{}, map[string]string{
		h.cfg.GetTokenLookup(): token,
	})

	assert.Equal(t, gatekeeper.CodeTokenExpired, resp.ErrorCode)
	assert.Equal(t, "The authorization token has expired.", resp.Message)
}

func TestGetTokenLockout(t *testing.T) {
	h := newAPIHarness(t)
	threshold := gatekeeper.DefaultRules().LoginFailThresholdCount

	for i := 0; i <= threshold; i++ {
		h.postJSON(t, "/api/get_token", gatekeeper.TokenRequest{
			Username: testUsername,
			Password: "wrong password",
		}, nil)
	}

	resp := h.getToken(t)
	assert.Equal(t, gatekeeper.CodeLoginRejected, resp.ErrorCode)
	assert.Equal(t, "Login attempt failed. Your account is locked.", resp.Message)
}
