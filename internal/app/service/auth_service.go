package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/common/security"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"

	"github.com/google/uuid"
)

type AuthService struct {
	userRepo repository.UserRepository
	ledger   repository.LedgerRepository
	tokens   *security.TokenManager
}

func NewAuthService(userRepo repository.UserRepository, ledger repository.LedgerRepository, tokens *security.TokenManager) *AuthService {
	return &AuthService{userRepo: userRepo, ledger: ledger, tokens: tokens}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"` // Username or email
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string         `json:"message"`
	User    *model.Account `json:"user"`
}

type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	User        *model.Account `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, common.NewAppError(common.ErrBadRequest, common.CodeMissingCredentials,
			"Username, email and password are required", nil)
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:             uuid.NewString(),
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashedPassword,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.NewAppError(common.ErrBadRequest, common.CodeUserExists,
				"Username or email already exists", nil)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &RegisterResponse{
		Message: "User registered successfully",
		User:    &model.Account{ID: user.ID, Username: user.Username, Email: user.Email, CreatedAt: user.CreatedAt},
	}, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, common.NewAppError(common.ErrBadRequest, common.CodeMissingCredentials,
			"Username and password are required", nil)
	}

	// Try the username first, then the email
	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if errors.Is(err, common.ErrNotFound) {
		user, err = s.userRepo.FindByEmail(ctx, req.Username)
	}
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, user.HashedPassword) {
		return nil, invalidCredentials()
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	account, err := s.account(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{AccessToken: token, TokenType: "bearer", User: account}, nil
}

// Profile returns the authenticated user's account. Unlike the public
// profile lookup it fails with USER_NOT_FOUND for unknown ids.
func (s *AuthService) Profile(ctx context.Context, userID string) (*model.Account, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewAppError(common.ErrNotFound, common.CodeUserNotFound, "User not found", nil)
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return s.account(ctx, user)
}

func (s *AuthService) account(ctx context.Context, user *model.User) (*model.Account, error) {
	p, err := s.ledger.GetOrCreateProfile(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	return &model.Account{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Coins:     p.Balance,
		CreatedAt: user.CreatedAt,
	}, nil
}

func invalidCredentials() error {
	return common.NewAppError(common.ErrUnauthorized, common.CodeInvalidCredentials, "Invalid username or password", nil)
}
