package services

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// earlyRefreshMargin renews cached tokens five minutes before expiry so a
// token never dies mid-conversation.
const earlyRefreshMargin = 5 * time.Minute

// defaultTokenTTL is what we ask the OAuth endpoint for.
const defaultTokenTTL = 86400

// JWTSigner builds the RS256 assertion the Coze OAuth endpoint exchanges
// for an access token. Each assertion carries a session_name claim so the
// resulting token is scoped to one conversation.
type JWTSigner struct {
	clientID string
	keyID    string
	audience string
	key      *rsa.PrivateKey
	ttl      time.Duration
}

// NewJWTSignerFromEnv loads the signing setup from COZE_OAUTH_CLIENT_ID,
// COZE_OAUTH_PUBLIC_KEY_ID and COZE_OAUTH_PRIVATE_KEY (PEM inline, or a
// path via COZE_OAUTH_PRIVATE_KEY_FILE). The audience follows the API
// base: coze.cn bases authenticate against api.coze.cn, everything else
// against api.coze.com.
func NewJWTSignerFromEnv() (*JWTSigner, error) {
	clientID := os.Getenv("COZE_OAUTH_CLIENT_ID")
	keyID := os.Getenv("COZE_OAUTH_PUBLIC_KEY_ID")
	if clientID == "" || keyID == "" {
		return nil, fmt.Errorf("coze oauth: COZE_OAUTH_CLIENT_ID and COZE_OAUTH_PUBLIC_KEY_ID are required")
	}

	pemData := []byte(os.Getenv("COZE_OAUTH_PRIVATE_KEY"))
	if len(pemData) == 0 {
		path := os.Getenv("COZE_OAUTH_PRIVATE_KEY_FILE")
		if path == "" {
			return nil, fmt.Errorf("coze oauth: set COZE_OAUTH_PRIVATE_KEY or COZE_OAUTH_PRIVATE_KEY_FILE")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("coze oauth: read private key: %w", err)
		}
		pemData = data
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("coze oauth: parse private key: %w", err)
	}

	return &JWTSigner{
		clientID: clientID,
		keyID:    keyID,
		audience: audienceFor(getEnv("COZE_API_BASE", "https://api.coze.com")),
		key:      key,
		ttl:      10 * time.Minute,
	}, nil
}

func audienceFor(apiBase string) string {
	if strings.Contains(apiBase, "coze.cn") {
		return "api.coze.cn"
	}
	return "api.coze.com"
}

// Sign produces a fresh assertion for the given session.
func (s *JWTSigner) Sign(sessionName string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":          s.clientID,
		"aud":          s.audience,
		"iat":          now.Unix(),
		"exp":          now.Add(s.ttl).Unix(),
		"jti":          uuid.NewString(),
		"session_name": sessionName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("coze oauth: sign assertion: %w", err)
	}
	return signed, nil
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

func (t cachedToken) usable(now time.Time) bool {
	return t.accessToken != "" && now.Before(t.expiresAt.Add(-earlyRefreshMargin))
}

// TokenManager exchanges signed assertions for access tokens and caches
// them per session, refreshing early so callers always hold a live token.
type TokenManager struct {
	signer   *JWTSigner
	tokenURL string
	client   *http.Client

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewTokenManager wires the signer against the OAuth endpoint of the
// configured API base.
func NewTokenManager(signer *JWTSigner) *TokenManager {
	base := strings.TrimRight(getEnv("COZE_API_BASE", "https://api.coze.com"), "/")
	return &TokenManager{
		signer:   signer,
		tokenURL: base + "/api/permission/oauth2/token",
		client:   &http.Client{Timeout: 30 * time.Second},
		cache:    make(map[string]cachedToken),
	}
}

// Token returns a valid access token for the session, hitting the OAuth
// endpoint only when the cached one is missing or near expiry.
func (m *TokenManager) Token(sessionName string) (string, error) {
	now := time.Now()

	m.mu.Lock()
	if cached, ok := m.cache[sessionName]; ok && cached.usable(now) {
		m.mu.Unlock()
		return cached.accessToken, nil
	}
	m.mu.Unlock()

	assertion, err := m.signer.Sign(sessionName)
	if err != nil {
		return "", err
	}
	token, expiresIn, err := m.exchange(assertion)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cache[sessionName] = cachedToken{
		accessToken: token,
		expiresAt:   now.Add(time.Duration(expiresIn) * time.Second),
	}
	m.mu.Unlock()
	return token, nil
}

// Invalidate drops the cached token for a session, forcing the next call
// to exchange a fresh assertion. Used after the upstream rejects a token.
func (m *TokenManager) Invalidate(sessionName string) {
	m.mu.Lock()
	delete(m.cache, sessionName)
	m.mu.Unlock()
}

func (m *TokenManager) exchange(assertion string) (string, int64, error) {
	body, err := json.Marshal(map[string]interface{}{
		"duration_seconds": defaultTokenTTL,
		"grant_type":       "urn:ietf:params:oauth:grant-type:jwt-bearer",
	})
	if err != nil {
		return "", 0, fmt.Errorf("coze oauth: marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.tokenURL, strings.NewReader(string(body)))
	if err != nil {
		return "", 0, fmt.Errorf("coze oauth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+assertion)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("coze oauth: token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("coze oauth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("coze oauth: token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", 0, fmt.Errorf("coze oauth: decode response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("coze oauth: token endpoint returned no access_token")
	}
	if parsed.ExpiresIn <= 0 {
		parsed.ExpiresIn = defaultTokenTTL
	}
	return parsed.AccessToken, parsed.ExpiresIn, nil
}
