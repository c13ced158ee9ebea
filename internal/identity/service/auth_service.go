package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"session-control-plane/internal/challenge"
	"session-control-plane/internal/events"
	membershipdomain "session-control-plane/internal/membership/domain"
	"session-control-plane/internal/obs"
	"session-control-plane/internal/ratelimit"
	"session-control-plane/internal/runtimenotify"
	"session-control-plane/internal/security"
	sessiondomain "session-control-plane/internal/session/domain"
	"session-control-plane/internal/session/store"
	userdomain "session-control-plane/internal/user/domain"
	userrepo "session-control-plane/internal/user/repository"
)

// Sentinel errors for the auth service; the HTTP layer maps them to error
// codes and status lines.
var (
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrInvalidChallenge     = errors.New("invalid or expired challenge")
	ErrChallengeUnavailable = errors.New("challenge delivery unavailable")
	ErrRateLimited          = errors.New("too many challenge requests for this email")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReuse    = errors.New("refresh token reuse detected; session revoked")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrDeviceMismatch       = errors.New("refresh token is bound to a different device")
)

// AuthResult holds the outcome of VerifyChallenge or Rotate.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	OrgID            string
}

// MembershipRepo is the minimal membership repository needed by the auth
// service, to resolve the default org at session creation.
type MembershipRepo interface {
	DefaultForUser(ctx context.Context, userID string) (*membershipdomain.OrgMembership, error)
}

// AuthService implements the email challenge flow, refresh rotation, and
// session logout.
type AuthService struct {
	users       userrepo.Repository
	memberships MembershipRepo
	store       store.Store
	challenges  *challenge.Issuer
	sender      challenge.Sender
	tokens      *security.TokenProvider
	refreshTTL  time.Duration
	emailLimit  *ratelimit.Keyed
	emitter     events.Emitter
	notifier    runtimenotify.Notifier
}

// NewAuthService returns an AuthService with the given dependencies. emitter
// and notifier may be nil.
func NewAuthService(
	users userrepo.Repository,
	memberships MembershipRepo,
	st store.Store,
	challenges *challenge.Issuer,
	sender challenge.Sender,
	tokens *security.TokenProvider,
	refreshTTL time.Duration,
	emailLimit *ratelimit.Keyed,
	emitter events.Emitter,
	notifier runtimenotify.Notifier,
) *AuthService {
	return &AuthService{
		users:       users,
		memberships: memberships,
		store:       st,
		challenges:  challenges,
		sender:      sender,
		tokens:      tokens,
		refreshTTL:  refreshTTL,
		emailLimit:  emailLimit,
		emitter:     emitter,
		notifier:    notifier,
	}
}

// StartChallenge mints a challenge for the email and sends the code out of
// band. The returned opaque challenge value must come back with the code on
// verification; the server keeps no challenge state.
func (s *AuthService) StartChallenge(ctx context.Context, email, displayName string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return "", ErrInvalidEmail
	}
	if !s.challenges.Configured() {
		return "", ErrChallengeUnavailable
	}
	if s.emailLimit != nil && !s.emailLimit.Allow(email) {
		return "", ErrRateLimited
	}
	code, signed, err := s.challenges.Mint(email, strings.TrimSpace(displayName))
	if err != nil {
		return "", err
	}
	if err := s.sender.SendCode(ctx, email, code); err != nil {
		return "", ErrChallengeUnavailable
	}
	return signed, nil
}

// VerifyParams carries a challenge verification request.
type VerifyParams struct {
	Challenge  string
	Code       string
	DeviceID   string
	ClientName string
}

// VerifyChallenge checks the challenge and code, creating the account on the
// first successful verification, then opens a session and returns its token
// pair. The refresh record is bound to DeviceID when one is given.
func (s *AuthService) VerifyChallenge(ctx context.Context, p VerifyParams) (*AuthResult, error) {
	email, displayName, err := s.challenges.Verify(p.Challenge, p.Code)
	if err != nil {
		return nil, ErrInvalidChallenge
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &userdomain.User{
			ID:          uuid.New().String(),
			Email:       email,
			DisplayName: displayName,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	}
	var orgID string
	if om, err := s.memberships.DefaultForUser(ctx, user.ID); err != nil {
		return nil, err
	} else if om != nil {
		orgID = om.OrgID
	}

	now := time.Now().UTC()
	sess := &sessiondomain.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		OrgID:     orgID,
		DeviceID:  strings.TrimSpace(p.DeviceID),
		Status:    sessiondomain.StatusActive,
		TokenName: tokenName(p.ClientName),
		CreatedAt: now,
	}
	record, rawRefresh, err := s.newRefreshRecord(sess.DeviceID, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(ctx, sess, record); err != nil {
		return nil, err
	}
	accessToken, accessExp, err := s.tokens.IssueAccess(sess.ID, user.ID, orgID, sess.DeviceID, sess.TokenName)
	if err != nil {
		return nil, err
	}

	events.EmitAsync(s.emitter, &events.SecurityEvent{
		Type:     events.TypeChallengeVerified,
		UserID:   user.ID,
		OrgID:    orgID,
		DeviceID: sess.DeviceID,
	})
	events.EmitAsync(s.emitter, &events.SecurityEvent{
		Type:       events.TypeSessionCreated,
		UserID:     user.ID,
		OrgID:      orgID,
		DeviceID:   sess.DeviceID,
		SessionIDs: []string{sess.ID},
	})

	return &AuthResult{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: record.ExpiresAt,
		SessionID:        sess.ID,
		UserID:           user.ID,
		OrgID:            orgID,
	}, nil
}

// Rotate consumes the presented refresh token and returns a fresh token pair.
// A second presentation of an already consumed record, or a wrong secret for a
// known record, revokes the whole session chain including tokens minted by the
// rotation winner.
func (s *AuthService) Rotate(ctx context.Context, rawRefresh, deviceID string) (*AuthResult, error) {
	return s.refresh(ctx, rawRefresh, deviceID, true)
}

// RefreshAccess mints a fresh access token against the presented refresh
// token without consuming it. Reuse of a consumed record still revokes the
// chain; only the happy path differs from Rotate.
func (s *AuthService) RefreshAccess(ctx context.Context, rawRefresh, deviceID string) (*AuthResult, error) {
	return s.refresh(ctx, rawRefresh, deviceID, false)
}

func (s *AuthService) refresh(ctx context.Context, rawRefresh, deviceID string, rotate bool) (*AuthResult, error) {
	recordID, secret, err := security.SplitOpaqueToken(security.RefreshTokenPrefix, rawRefresh)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	now := time.Now().UTC()
	var successor *sessiondomain.RefreshTokenRecord
	var rawSuccessor string
	if rotate {
		successor, rawSuccessor, err = s.newRefreshRecord("", now)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.store.ConsumeAndRotate(ctx, store.ConsumeParams{
		RecordID:  recordID,
		Secret:    secret,
		DeviceID:  strings.TrimSpace(deviceID),
		Rotate:    rotate,
		Successor: successor,
	})
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case store.ConsumeRotated, store.ConsumeValid:
		sess := res.Session
		accessToken, accessExp, err := s.tokens.IssueAccess(sess.ID, sess.UserID, sess.OrgID, sess.DeviceID, sess.TokenName)
		if err != nil {
			return nil, err
		}
		result := &AuthResult{
			AccessToken:     accessToken,
			AccessExpiresAt: accessExp,
			SessionID:       sess.ID,
			UserID:          sess.UserID,
			OrgID:           sess.OrgID,
		}
		if res.Status == store.ConsumeRotated {
			result.RefreshToken = rawSuccessor
			result.RefreshExpiresAt = successor.ExpiresAt
			events.EmitAsync(s.emitter, &events.SecurityEvent{
				Type:       events.TypeSessionRotated,
				UserID:     sess.UserID,
				OrgID:      sess.OrgID,
				SessionIDs: []string{sess.ID},
			})
		}
		return result, nil
	case store.ConsumeReused, store.ConsumeSecretMismatch:
		s.reportReuse(res.Session, res.Raced)
		return nil, ErrRefreshTokenReuse
	case store.ConsumeSessionRevoked:
		return nil, ErrSessionRevoked
	case store.ConsumeDeviceMismatch:
		return nil, ErrDeviceMismatch
	default:
		return nil, ErrInvalidRefreshToken
	}
}

// CurrentSession returns the session if it exists and is still usable.
func (s *AuthService) CurrentSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Usable() {
		return nil, ErrSessionRevoked
	}
	return sess, nil
}

// Logout revokes the session. Idempotent; the runtime is notified only when
// the session transitions on this call.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	sess, err := s.store.RevokeSession(ctx, sessionID, sessiondomain.ReasonUserLogout)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	obs.ObserveSessionsRevoked(sessiondomain.ReasonUserLogout, 1)
	events.EmitAsync(s.emitter, &events.SecurityEvent{
		Type:       events.TypeSessionRevoked,
		UserID:     sess.UserID,
		OrgID:      sess.OrgID,
		SessionIDs: []string{sess.ID},
		Reason:     sessiondomain.ReasonUserLogout,
	})
	runtimenotify.NotifyAsync(s.notifier, &runtimenotify.Notification{
		Reason:     sessiondomain.ReasonUserLogout,
		SessionIDs: []string{sess.ID},
	})
	return nil
}

// reportReuse emits the reuse or rotation-race event and tells the runtime
// the whole chain is dead. The store has already revoked the session by the
// time this runs.
func (s *AuthService) reportReuse(sess *sessiondomain.Session, raced bool) {
	if sess == nil {
		return
	}
	eventType := events.TypeRefreshReuse
	reason := sessiondomain.ReasonRefreshReuse
	if raced {
		eventType = events.TypeRotationRace
		reason = sessiondomain.ReasonRotationRace
	}
	obs.ObserveRefreshReuse()
	obs.ObserveSessionsRevoked(reason, 1)
	events.EmitAsync(s.emitter, &events.SecurityEvent{
		Type:       eventType,
		UserID:     sess.UserID,
		OrgID:      sess.OrgID,
		SessionIDs: []string{sess.ID},
		Reason:     reason,
	})
	runtimenotify.NotifyAsync(s.notifier, &runtimenotify.Notification{
		Reason:     reason,
		SessionIDs: []string{sess.ID},
	})
}

// newRefreshRecord mints an opaque refresh record plus its wire form. A
// successor is created with an empty deviceID; the store stamps the binding
// from the record being consumed.
func (s *AuthService) newRefreshRecord(deviceID string, now time.Time) (*sessiondomain.RefreshTokenRecord, string, error) {
	secret, salt, err := security.NewOpaqueSecret()
	if err != nil {
		return nil, "", err
	}
	recordID := uuid.New().String()
	record := &sessiondomain.RefreshTokenRecord{
		ID:         recordID,
		Salt:       salt,
		SecretHash: security.HashOpaqueSecret(salt, secret),
		DeviceID:   deviceID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	return record, security.EncodeOpaqueToken(security.RefreshTokenPrefix, recordID, secret), nil
}

func tokenName(clientName string) string {
	clientName = strings.TrimSpace(clientName)
	if clientName == "" {
		return "web"
	}
	return clientName
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return errors.New("invalid email format")
	}
	return nil
}
