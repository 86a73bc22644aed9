package utils

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	RoleKey     contextKey = "role"
	GarageIDKey contextKey = "garage_id"
	TokenKey    contextKey = "token"
)

func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, false
	}
	return userID, true
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok && role != ""
}

// GetGarageIDFromContext returns the garage a mechanic belongs to, when any.
func GetGarageIDFromContext(ctx context.Context) *uuid.UUID {
	garageID, ok := ctx.Value(GarageIDKey).(uuid.UUID)
	if !ok || garageID == uuid.Nil {
		return nil
	}
	return &garageID
}

func SetUserContext(ctx context.Context, userID uuid.UUID, role string, garageID *uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, RoleKey, role)
	if garageID != nil {
		ctx = context.WithValue(ctx, GarageIDKey, *garageID)
	}
	return ctx
}

// GetTokenFromContext mendapatkan token dari context
func GetTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

func SetTokenContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}
