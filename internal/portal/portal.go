// Package portal is the boundary to the remote school information system.
// Authentication and the timetable wire format live behind Client and
// Session; nothing in this repository speaks the portal protocol itself.
package portal

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAuthentication = errors.New("portal authentication failed")
	ErrRemote         = errors.New("portal call failed")
)

type Credentials struct {
	URL        string
	Username   string
	Password   string
	AuthMethod string
}

type Client interface {
	Login(ctx context.Context, creds Credentials) (Session, error)
}

// Session is valid until Logout is called.
type Session interface {
	Timetable(ctx context.Context, from, to time.Time) ([]Lesson, error)
	Logout(ctx context.Context) error
}
