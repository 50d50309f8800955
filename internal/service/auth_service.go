package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"commerce-service/internal/auth"
	"commerce-service/internal/models"
	"commerce-service/internal/notify"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthService handles account registration and login, including OTP
// login for customers.
type AuthService struct {
	store  *store.Store
	sms    *notify.Client
	secret string
	logger *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(st *store.Store, sms *notify.Client, jwtSecret string) *AuthService {
	return &AuthService{
		store:  st,
		sms:    sms,
		secret: jwtSecret,
		logger: util.GetLogger(),
	}
}

// Register creates an account and returns it with a fresh token
func (as *AuthService) Register(ctx context.Context, name, email, phone, password, role string) (*models.User, string, error) {
	if name == "" || email == "" || password == "" {
		return nil, "", fmt.Errorf("%w: name, email, password", ErrValidation)
	}
	if role != models.RoleAdmin {
		role = models.RoleCustomer
	}

	existing, err := as.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user := &models.User{
		Name:         name,
		Email:        strings.ToLower(email),
		Phone:        phone,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := as.store.CreateUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := auth.GenerateToken(user.ID, user.Role, as.secret, auth.TTLForRole(user.Role))
	if err != nil {
		return nil, "", err
	}

	as.logger.Info("User registered",
		zap.Int64("user_id", user.ID),
		zap.String("role", user.Role))
	return user, token, nil
}

// Login authenticates with email and password
func (as *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := as.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, user.Role, as.secret, auth.TTLForRole(user.Role))
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// SendOTP delivers a login OTP to the phone
func (as *AuthService) SendOTP(ctx context.Context, phone string) error {
	if phone == "" {
		return fmt.Errorf("%w: phone", ErrValidation)
	}
	return as.sms.SendOTP(ctx, phone)
}

// VerifyOTP validates a login OTP and issues a customer token, creating
// the account on first login.
func (as *AuthService) VerifyOTP(ctx context.Context, phone, otp string) (*models.User, string, error) {
	if phone == "" || otp == "" {
		return nil, "", fmt.Errorf("%w: phone, otp", ErrValidation)
	}

	if err := as.sms.VerifyOTP(ctx, phone, otp); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	user, err := as.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		user = &models.User{
			Name:  "Customer",
			Email: fmt.Sprintf("%s@phone.local", notify.NormalizeMobile(phone)),
			Phone: phone,
			Role:  models.RoleCustomer,
		}
		if err := as.store.CreateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("failed to create customer: %w", err)
		}
		as.logger.Info("Customer created from OTP login", zap.Int64("user_id", user.ID))
	}

	token, err := auth.GenerateToken(user.ID, user.Role, as.secret, auth.CustomerTokenTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}
