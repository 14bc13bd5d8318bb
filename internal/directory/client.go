package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

const defaultDirectoryTimeout = 5 * time.Second

// HTTPDirectory is a UserDirectory backed by the user service's HTTP API.
type HTTPDirectory struct {
	client  *resty.Client
	baseURL string
}

var _ UserDirectory = (*HTTPDirectory)(nil)

func NewHTTPDirectory(baseURL string) (*HTTPDirectory, error) {
	client := resty.New()
	client.SetTimeout(defaultDirectoryTimeout)
	client.SetRetryCount(0)

	return NewHTTPDirectoryWithClient(baseURL, client)
}

func NewHTTPDirectoryWithClient(baseURL string, client *resty.Client) (*HTTPDirectory, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid directory base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDirectoryTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPDirectory{
		client:  client,
		baseURL: trimmedURL,
	}, nil
}

func (d *HTTPDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	var user User
	response, err := d.client.R().
		SetContext(ctx).
		SetResult(&user).
		Get(fmt.Sprintf("%s/users/%s", d.baseURL, url.PathEscape(id)))
	if err != nil {
		return nil, fmt.Errorf("directory get user failed: %w", err)
	}

	switch {
	case response.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	case response.IsError():
		return nil, fmt.Errorf("directory returned status %d for user %s", response.StatusCode(), id)
	}

	return &user, nil
}

func (d *HTTPDirectory) FindByToken(ctx context.Context, token domain.DeviceToken) ([]User, error) {
	var users []User
	response, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("deviceToken", token.String()).
		SetResult(&users).
		Get(d.baseURL + "/users")
	if err != nil {
		return nil, fmt.Errorf("directory token lookup failed: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("directory returned status %d for token lookup", response.StatusCode())
	}

	return users, nil
}

func (d *HTTPDirectory) UpdateUser(ctx context.Context, id string, patch UserPatch) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(patch).
		Patch(fmt.Sprintf("%s/users/%s", d.baseURL, url.PathEscape(id)))
	if err != nil {
		return fmt.Errorf("directory update user failed: %w", err)
	}

	switch {
	case response.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	case response.IsError():
		return fmt.Errorf("directory returned status %d updating user %s", response.StatusCode(), id)
	}

	return nil
}
