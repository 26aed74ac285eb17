package jwttoken

import (
	"wxpass/internal/platform/middleware"
)

// JWTServiceAdapter exposes JWTService through the middleware's TokenValidator
// interface.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.AdminClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.AdminClaims{Subject: claims.Subject}, nil
}
