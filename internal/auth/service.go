package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/core"
)

var (
	// ErrInvalidCredentials is returned when login/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with an existing login.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidLogin is returned for blank logins.
	ErrInvalidLogin = errors.New("invalid login")
)

// BannedError is returned by Login while the client's ban is active.
type BannedError struct {
	Until time.Time
}

func (e *BannedError) Error() string {
	if e.Until.IsZero() {
		return "banned"
	}
	return "banned until " + e.Until.UTC().Format(time.RFC3339)
}

// Options configures a Service.
type Options struct {
	BcryptCost  int
	AdminLogins []string
}

// Service provides registration and login on top of the registry.
type Service struct {
	registry *core.Registry
	cost     int
	admins   map[string]struct{}
	now      func() time.Time
}

// NewService creates a new authentication service.
func NewService(registry *core.Registry, opts Options) *Service {
	admins := make(map[string]struct{}, len(opts.AdminLogins))
	for _, login := range opts.AdminLogins {
		admins[strings.TrimSpace(login)] = struct{}{}
	}
	return &Service{
		registry: registry,
		cost:     opts.BcryptCost,
		admins:   admins,
		now:      time.Now,
	}
}

// Register creates a new client with a hashed password and adds it to the
// common room.
func (s *Service) Register(ctx context.Context, login, password string) (*core.Client, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, ErrInvalidLogin
	}

	hashed, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}

	_, isAdmin := s.admins[login]
	c := core.NewClient(login, hashed, isAdmin)
	if err := s.registry.CreateClient(ctx, c); err != nil {
		if errors.Is(err, core.ErrClientExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create client: %w", err)
	}
	// reload to pick up the common room membership
	return s.registry.LoadClient(ctx, c.ID())
}

// Login validates credentials. An expired ban is cleared before the password
// is checked. On success attach runs while the client lock is still held, so
// the caller can bind the client to its session without racing updates.
func (s *Service) Login(ctx context.Context, login, password string, attach func(c *core.Client)) (*core.Client, error) {
	login = strings.TrimSpace(login)
	id := core.ClientIDFor(login)

	attached := false
	c, err := s.registry.WithClient(ctx, id, func(c *core.Client) (bool, error) {
		if c.Login() != login {
			return false, ErrInvalidCredentials
		}

		now := s.now()
		if until, banned := c.ActiveBan(now); banned {
			return false, &BannedError{Until: until}
		}
		dirty := c.ClearExpiredBan(now)

		if errPwd := ComparePassword(c.PasswordHash(), password); errPwd != nil {
			return dirty, ErrInvalidCredentials
		}
		if attach != nil {
			attach(c)
		}
		attached = true
		return dirty, nil
	})
	if attached && errors.Is(err, core.ErrPersist) {
		// the cleared ban stays in memory and is saved with the session
		return c, nil
	}
	if err != nil {
		if errors.Is(err, core.ErrClientNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return c, nil
}
