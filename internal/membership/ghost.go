package membership

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ghostethereum/ghostethereum/internal/circuitbreaker"
)

const (
	// ghostAPIVersion pins the Admin API surface the vendor instances run.
	ghostAPIVersion = "v3"

	// ghostTokenTTL is the Admin API's maximum accepted token lifetime.
	ghostTokenTTL = 5 * time.Minute

	requestTimeout = 10 * time.Second
)

// Member is a Ghost CMS member as returned by the Admin API.
type Member struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type membersResponse struct {
	Members []Member `json:"members"`
}

// Client talks to vendor-owned Ghost Admin API instances. Each request is
// authenticated with a short-lived JWT derived from that vendor's admin key,
// so one client serves every owner profile. A circuit breaker fails calls
// fast while the Admin API is down instead of stalling batch processing on
// request timeouts.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	log := logger.With("component", "ghost_client")
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn("ghost admin api circuit state changed",
					"from", from.String(),
					"to", to.String())
			},
		}),
		logger: log,
	}
}

// FindMember looks up a member by its Ghost id. Returns nil, nil when the
// member does not exist (deleted out-of-band or never bound).
func (c *Client) FindMember(ctx context.Context, apiURL, adminKey, memberID string) (*Member, error) {
	endpoint := fmt.Sprintf("%s/ghost/api/%s/admin/members/?filter=%s",
		strings.TrimRight(apiURL, "/"), ghostAPIVersion, url.QueryEscape("id:"+memberID))

	body, status, err := c.do(ctx, http.MethodGet, endpoint, adminKey)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("ghost members browse: status %d", status)
	}

	var resp membersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ghost members response: %w", err)
	}
	if len(resp.Members) == 0 {
		return nil, nil
	}
	return &resp.Members[0], nil
}

// DeleteMember removes a member. A 404 is treated as success: the member is
// already gone and the removal is idempotent.
func (c *Client) DeleteMember(ctx context.Context, apiURL, adminKey, memberID string) error {
	endpoint := fmt.Sprintf("%s/ghost/api/%s/admin/members/%s/",
		strings.TrimRight(apiURL, "/"), ghostAPIVersion, url.PathEscape(memberID))

	_, status, err := c.do(ctx, http.MethodDelete, endpoint, adminKey)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("ghost member delete: status %d", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, adminKey string) ([]byte, int, error) {
	token, err := adminToken(adminKey)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create ghost request: %w", err)
	}
	req.Header.Set("Authorization", "Ghost "+token)
	req.Header.Set("Accept", "application/json")

	var body []byte
	var status int
	err = c.breaker.Execute(func() error {
		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("ghost request: %w", doErr)
		}
		defer resp.Body.Close()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("read ghost response: %w", readErr)
		}
		body, status = b, resp.StatusCode

		if status >= 500 {
			return fmt.Errorf("ghost server error: status %d", status)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return body, status, nil
}

// adminToken builds the Ghost Admin API JWT from an "id:secret" admin key.
// The key id rides in the token header; the hex secret signs the claims.
func adminToken(adminKey string) (string, error) {
	keyID, hexSecret, ok := strings.Cut(adminKey, ":")
	if !ok {
		return "", fmt.Errorf("admin key is not in id:secret form")
	}
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return "", fmt.Errorf("decode admin key secret: %w", err)
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ghostTokenTTL).Unix(),
		"aud": "/" + ghostAPIVersion + "/admin/",
	})
	tok.Header["kid"] = keyID

	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign ghost token: %w", err)
	}
	return signed, nil
}
