package models

import "time"

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshRecord is the server-side state behind an opaque refresh
// token. Clients only ever see TokenID; everything else stays in the
// store. A record is mutated exactly twice at most: once when it is
// rotated (Revoked=true, ReplacedBy=<successor>) or logged out
// (Revoked=true, ReplacedBy empty), and never again.
type RefreshRecord struct {
	TokenID    string    `json:"token_id"`
	Email      string    `json:"email"`
	ChainID    string    `json:"chain_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	ReplacedBy string    `json:"replaced_by,omitempty"`
}
