// Package collab integrates with the realtime collaboration server.
package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 5 * time.Minute

type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  []byte(secret),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Token issues a short-lived credential the websocket server verifies
// before letting the caller join a document room.
func (c *Client) Token(userID, documentID string, canEdit bool) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":     userID,
		"document_id": documentID,
		"can_edit":    canEdit,
		"iat":         now.Unix(),
		"exp":         now.Add(tokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign collab token: %w", err)
	}
	return signed, nil
}

// ResetConnections asks the realtime server to drop every live connection
// on the document so clients reconnect and re-authenticate.
func (c *Client) ResetConnections(ctx context.Context, documentID string) error {
	if c.baseURL == "" {
		return nil
	}
	endpoint := c.baseURL + "/api/reset-connections?room=" + url.QueryEscape(documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build reset request: %w", err)
	}
	token, err := c.Token("", documentID, false)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reset connections: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("reset connections: status %d", resp.StatusCode)
	}
	return nil
}
