package directory

import (
	"context"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// User is the directory's view of a notification recipient. Only the device
// token association matters to this service.
type User struct {
	ID          string              `json:"id"`
	DeviceToken *domain.DeviceToken `json:"deviceToken,omitempty"`
}

// UserPatch is a partial user update. A non-nil DeviceToken pointing at the
// empty token clears the stored association.
type UserPatch struct {
	DeviceToken *domain.DeviceToken `json:"deviceToken,omitempty"`
}

// SetTokenPatch builds a patch that stores token for the user.
func SetTokenPatch(token domain.DeviceToken) UserPatch {
	return UserPatch{DeviceToken: &token}
}

// ClearTokenPatch builds a patch that removes the stored token.
func ClearTokenPatch() UserPatch {
	empty := domain.DeviceToken("")
	return UserPatch{DeviceToken: &empty}
}

// UserDirectory is the external user-store collaborator. The directory owns
// user CRUD; this service only reads and patches token associations.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindByToken(ctx context.Context, token domain.DeviceToken) ([]User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) error
}
