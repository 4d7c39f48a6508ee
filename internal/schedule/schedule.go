package schedule

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"clheure/relay/internal/portal"
)

const (
	windowLength         = 24 * time.Hour
	defaultLogoutTimeout = 30 * time.Second
)

type LoginRequest struct {
	PortalURL  string
	Username   string
	Password   string
	AuthMethod string
}

// RequestFailure is the single failure kind reported to callers. Op names the
// pipeline step that failed.
type RequestFailure struct {
	Op  string
	Err error
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestFailure) Unwrap() error {
	return e.Err
}

type Service struct {
	portal            portal.Client
	defaultAuthMethod string
	logoutTimeout     time.Duration
	now               func() time.Time
}

// NewService bounds each logout by logoutTimeout; zero falls back to 30s.
func NewService(client portal.Client, defaultAuthMethod string, logoutTimeout time.Duration) *Service {
	if defaultAuthMethod == "" {
		defaultAuthMethod = "none"
	}
	if logoutTimeout <= 0 {
		logoutTimeout = defaultLogoutTimeout
	}
	return &Service{
		portal:            client,
		defaultAuthMethod: defaultAuthMethod,
		logoutTimeout:     logoutTimeout,
		now:               time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Sync opens one portal session, reads the timetable for the next 24 hours
// and returns the earliest lesson still to come, or nil. The session is
// logged out on every path once login succeeded.
func (s *Service) Sync(ctx context.Context, req LoginRequest) (*portal.Lesson, error) {
	authMethod := req.AuthMethod
	if authMethod == "" {
		authMethod = s.defaultAuthMethod
	}

	session, err := s.portal.Login(ctx, portal.Credentials{
		URL:        req.PortalURL,
		Username:   req.Username,
		Password:   req.Password,
		AuthMethod: authMethod,
	})
	if err != nil {
		return nil, &RequestFailure{Op: "login", Err: err}
	}
	defer func() {
		// Logout must run even when the request context is already done.
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		defer cancel()
		if logoutErr := session.Logout(logoutCtx); logoutErr != nil {
			log.Printf("portal logout failed [%s]: %v", middleware.GetReqID(ctx), logoutErr)
		}
	}()

	from, to := Window(s.now())
	lessons, err := session.Timetable(ctx, from, to)
	if err != nil {
		return nil, &RequestFailure{Op: "timetable", Err: err}
	}

	return NextClass(lessons, s.now()), nil
}

// Window is the timetable range queried for a sync started at now.
func Window(now time.Time) (time.Time, time.Time) {
	return now, now.Add(windowLength)
}

// NextClass returns the earliest lesson starting strictly after now that is
// neither cancelled nor a duplicate. Equal start times keep input order.
func NextClass(lessons []portal.Lesson, now time.Time) *portal.Lesson {
	valid := make([]portal.Lesson, 0, len(lessons))
	for _, lesson := range lessons {
		if !lesson.From.After(now) || lesson.IsCancelled || lesson.HasDuplicate {
			continue
		}
		valid = append(valid, lesson)
	}
	if len(valid) == 0 {
		return nil
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].From.Before(valid[j].From)
	})
	next := valid[0]
	return &next
}
