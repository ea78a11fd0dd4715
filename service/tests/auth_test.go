package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkrasov/fieldmark/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/oauth2"
)

func TestCreateAndVerifyJWT(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user123", "google", "p123")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := svc.VerifyJWT(token)
	assert.NoError(t, err)
	assert.Equal(t, "user123", claims.UserId)
	assert.Equal(t, "google", claims.Provider)
	assert.Equal(t, "p123", claims.ProviderId)
	assert.True(t, claims.Expiry.After(time.Now()))
}

func TestVerifyJWT_Invalid(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.VerifyJWT("invalid.token.string")
	assert.Error(t, err)

	_, err = svc.VerifyJWT("")
	assert.Error(t, err)
}

func TestVerifyJWT_WrongSecret(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":         "user1",
		"provider":   "google",
		"providerId": "123",
		"exp":        time.Now().Add(time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	})
	tokenString, err := forged.SignedString([]byte("not-the-secret"))
	assert.NoError(t, err)

	_, err = svc.VerifyJWT(tokenString)
	assert.Error(t, err)
}

func TestVerifyJWT_Expired(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":         "user1",
		"provider":   "google",
		"providerId": "123",
		"exp":        time.Now().Add(-time.Hour).Unix(),
		"iat":        time.Now().Add(-2 * time.Hour).Unix(),
	})
	tokenString, err := expired.SignedString([]byte("secret"))
	assert.NoError(t, err)

	_, err = svc.VerifyJWT(tokenString)
	assert.Error(t, err)
}

func TestVerifyJWT_NoneAlgorithmRejected(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	header := map[string]string{"alg": "none", "typ": "JWT"}
	payload := map[string]any{
		"id":         "attacker",
		"provider":   "github",
		"providerId": "attacker_123",
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	}

	headerBytes, _ := json.Marshal(header)
	payloadBytes, _ := json.Marshal(payload)
	enc := base64.RawURLEncoding

	// "none" algorithm JWT has an empty signature segment
	noneToken := enc.EncodeToString(headerBytes) + "." + enc.EncodeToString(payloadBytes) + "."

	_, err := svc.VerifyJWT(noneToken)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "signing method none is invalid")
}

func TestAuthenticateToken_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{
		Id:         "user1",
		Provider:   "github",
		ProviderId: "gh123",
		Username:   "testuser",
	}
	token, _ := svc.CreateJWT(user.Id, user.Provider, user.ProviderId)

	mockStore.On("GetUser", ctx, user.Provider, user.ProviderId).Return(user, nil)

	gotUser, err := svc.AuthenticateToken(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, user.Id, gotUser.Id)
	assert.Equal(t, user.Username, gotUser.Username)
}

func TestAuthenticateToken_UserNotFound(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	token, _ := svc.CreateJWT("u1", "google", "pid")
	mockStore.On("GetUser", ctx, "google", "pid").Return(models.User{}, assert.AnError)

	_, err := svc.AuthenticateToken(ctx, token)
	assert.Error(t, err)
}

func TestAuthenticateToken_EmptyToken(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.AuthenticateToken(context.Background(), "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "token not provided")
}

func TestHandleOauth_UnsupportedProvider(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.HandleOauth(context.Background(), "unsupported", "code")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestHandleOauth_TokenExchangeFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_code"})
	}))
	defer server.Close()

	svc, _, _, _, _ := setupService(t)
	svc.OAuthConfigs = map[string]*oauth2.Config{
		"github": {
			Endpoint: oauth2.Endpoint{
				AuthURL:  server.URL + "/auth",
				TokenURL: server.URL + "/token",
			},
			RedirectURL: "http://localhost/callback",
		},
	}

	_, err := svc.HandleOauth(context.Background(), "github", "invalid_code")
	assert.Error(t, err)
}

func TestDeleteUser_Success(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	user := testUser()

	mockStore.On("DeleteUser", ctx, user.Provider, user.ProviderId).Return(nil)

	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, "user-deleted", mock.MatchedBy(func(msg []byte) bool {
		return string(msg) == `{"userId":"user1"}`
	})).Return(nil))

	err := svc.DeleteUser(ctx, user)
	assert.NoError(t, err)

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
}

func TestDeleteUser_StoreFailure(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	user := testUser()

	mockStore.On("DeleteUser", ctx, user.Provider, user.ProviderId).Return(assert.AnError)

	err := svc.DeleteUser(ctx, user)
	assert.Error(t, err)
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
