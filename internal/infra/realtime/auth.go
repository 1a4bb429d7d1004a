package realtime

import (
	"errors"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"

	"github.com/golang-jwt/jwt/v5"
)

// JoinAuthorizer validates the token a visitor presents to join a
// conversation.
type JoinAuthorizer interface {
	Authorize(token string) (*model.JoinGrant, error)
}

type JoinClaims struct {
	ConversationID string `json:"conversationId"`
	ChatbotID      string `json:"chatbotId"`
	SessionID      string `json:"sessionId"`
	TenantID       string `json:"tenantId"`
	jwt.RegisteredClaims
}

// JWTAuthorizer checks HS256 tokens minted by the widget backend.
type JWTAuthorizer struct {
	secret []byte
}

func NewJWTAuthorizer(secret string) (*JWTAuthorizer, error) {
	if secret == "" {
		return nil, errors.New("join secret is empty")
	}
	return &JWTAuthorizer{secret: []byte(secret)}, nil
}

// Mint signs a join token for grant; used by the demo and seed tools.
func (a *JWTAuthorizer) Mint(grant model.JoinGrant, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JoinClaims{
		ConversationID: grant.ConversationID,
		ChatbotID:      grant.ChatbotID,
		SessionID:      grant.SessionID,
		TenantID:       grant.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   grant.SessionID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuthorizer) Authorize(tok string) (*model.JoinGrant, error) {
	claims := &JoinClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: invalid join token", domain.ErrUnauthorized)
	}
	if claims.ConversationID == "" || claims.ChatbotID == "" {
		return nil, fmt.Errorf("%w: join token lacks conversation", domain.ErrUnauthorized)
	}
	return &model.JoinGrant{
		ConversationID: claims.ConversationID,
		ChatbotID:      claims.ChatbotID,
		SessionID:      claims.SessionID,
		TenantID:       claims.TenantID,
	}, nil
}
