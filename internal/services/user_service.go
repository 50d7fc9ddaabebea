package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/models"
	"taskhub/internal/repositories"
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type UserService interface {
	// Register creates a regular account; the role is always "user".
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	// CreateAdmin bootstraps an admin account from the command line.
	CreateAdmin(ctx context.Context, in RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ToggleStatus(ctx context.Context, caller authz.Identity, id string) (*models.User, error)
	ChangeRole(ctx context.Context, caller authz.Identity, id, role string) (*models.User, error)
	// Wait blocks until background welcome emails have been handed to SMTP.
	Wait()
}

type userService struct {
	repo         repositories.UserRepository
	emailService EmailService
	authService  AuthService
	log          logrus.FieldLogger
	mailWG       sync.WaitGroup
}

// NewUserService wires the user rules. emailService may be nil when SMTP is not configured.
func NewUserService(repo repositories.UserRepository, emailService EmailService, authService AuthService, log logrus.FieldLogger) UserService {
	return &userService{
		repo:         repo,
		emailService: emailService,
		authService:  authService,
		log:          log,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	user, err := s.create(ctx, in, authz.RoleUser)
	if err != nil {
		return nil, err
	}

	if s.emailService != nil {
		s.mailWG.Add(1)
		go func(email, username string) {
			defer s.mailWG.Done()
			if err := s.emailService.SendWelcomeEmail(email, username); err != nil {
				// warn but do not fail registration
				s.log.WithError(err).WithField("user_id", user.ID).Warn("[user][register] welcome email failed")
			}
		}(user.Email, user.Username)
	}
	return user, nil
}

func (s *userService) Wait() {
	s.mailWG.Wait()
}

func (s *userService) CreateAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.create(ctx, in, authz.RoleAdmin)
}

func (s *userService) create(ctx context.Context, in RegisterInput, role string) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	exists, err := s.repo.ExistsByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := s.authService.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("[user][create] account created")
	return user, nil
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if user == nil || !s.authService.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	return user, nil
}

func (s *userService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *userService) ToggleStatus(ctx context.Context, caller authz.Identity, id string) (*models.User, error) {
	id = canonicalID(id)
	if canonicalID(caller.UserID) == id {
		return nil, ErrSelfDeactivation
	}
	if !authz.CanManageUser(caller, id) {
		return nil, ErrForbidden
	}

	user, err := s.repo.ToggleActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	s.log.WithFields(logrus.Fields{"user_id": id, "by": caller.UserID, "is_active": user.IsActive}).
		Info("[user][toggle-status] updated")
	return user, nil
}

func (s *userService) ChangeRole(ctx context.Context, caller authz.Identity, id, role string) (*models.User, error) {
	id = canonicalID(id)
	if canonicalID(caller.UserID) == id {
		return nil, ErrSelfRoleChange
	}
	if !authz.CanManageUser(caller, id) {
		return nil, ErrForbidden
	}
	if !authz.IsValidRole(role) {
		return nil, ErrInvalidRole
	}

	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	s.log.WithFields(logrus.Fields{"user_id": id, "by": caller.UserID, "role": role}).
		Info("[user][role] updated")
	return user, nil
}

// canonicalID returns the lower-case hyphenated form of a uuid so that
// equality checks and lookups agree across stores. Other strings pass through.
func canonicalID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}
