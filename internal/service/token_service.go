package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/push-relay/internal/directory"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"go.uber.org/zap"
)

// TokenService registers device tokens against directory users. The token is
// validated before the directory is contacted at all.
type TokenService struct {
	directory directory.UserDirectory
	logger    *zap.Logger
}

func NewTokenService(userDirectory directory.UserDirectory, logger *zap.Logger) (*TokenService, error) {
	if userDirectory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenService{
		directory: userDirectory,
		logger:    logger,
	}, nil
}

// RegisterToken stores rawToken as the device token of the given user. A
// malformed token is rejected without any directory call, and an unknown
// user leaves the directory untouched.
func (s *TokenService) RegisterToken(ctx context.Context, userID string, rawToken string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	token, err := domain.ParseDeviceToken(rawToken)
	if err != nil {
		return err
	}

	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", userID, err)
	}

	if user.DeviceToken != nil && *user.DeviceToken == token {
		return nil
	}

	if err := s.directory.UpdateUser(ctx, userID, directory.SetTokenPatch(token)); err != nil {
		return fmt.Errorf("failed to store device token for user %s: %w", userID, err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("device token registered",
		zap.String("userId", userID),
	)
	return nil
}
