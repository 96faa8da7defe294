package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid voice token")
	ErrExpiredToken = errors.New("voice token expired")
)

// VoiceClaims carry the voice connection grant minted when a user is told
// which voice server to connect to. The gateway verifies them on IDENTIFY.
type VoiceClaims struct {
	UserID    domain.UserID    `json:"user_id"`
	GuildID   domain.GuildID   `json:"guild_id"`
	ChannelID domain.ChannelID `json:"channel_id"`
	ServerID  string           `json:"server_id"`
	jwt.RegisteredClaims
}

// VoiceTokens mints and verifies HMAC-signed voice connection tokens.
type VoiceTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewVoiceTokens(secret string, ttl time.Duration) *VoiceTokens {
	return &VoiceTokens{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token granting userID a connection to the voice call of
// (guildID, channelID) hosted on serverID.
func (t *VoiceTokens) Mint(userID domain.UserID, guildID domain.GuildID, channelID domain.ChannelID, serverID string) (string, error) {
	claims := &VoiceClaims{
		UserID:    userID,
		GuildID:   guildID,
		ChannelID: channelID,
		ServerID:  serverID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses and validates a voice token.
func (t *VoiceTokens) Verify(tokenString string) (*VoiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &VoiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*VoiceClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
