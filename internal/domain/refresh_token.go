package domain

import "time"

// RefreshToken is the persisted record of an issued refresh token. Only the
// SHA-256 of the signed token is stored. A record moves from active to revoked
// exactly once and is never re-activated.
type RefreshToken struct {
	TokenHash string    `json:"-" dynamodbav:"token_hash"`
	ID        string    `json:"id" dynamodbav:"id"`
	AccountID string    `json:"account_id" dynamodbav:"account_id"`
	UserAgent string    `json:"user_agent" dynamodbav:"user_agent"`
	IPAddress string    `json:"ip_address" dynamodbav:"ip_address"`
	IsRevoked bool      `json:"is_revoked" dynamodbav:"is_revoked"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	TTL       int64     `json:"-" dynamodbav:"ttl"` // DynamoDB TTL (Unix seconds)
}

// IsExpired reports whether the record is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RequestContext carries audit data from the transport layer.
type RequestContext struct {
	UserAgent string
	IPAddress string
}

// TokenPair is the result of a successful second-factor verification or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
