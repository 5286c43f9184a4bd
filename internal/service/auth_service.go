package service

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"entity-admin/internal/core/auth"
	"entity-admin/internal/core/mail"
	"entity-admin/internal/domain"
)

const resetMailSubject = "Reset Password Requested"

type LoginResult struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

type LogoutResult struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
}

type MessageResult struct {
	Message string `json:"message"`
}

type AuthService struct {
	users     *UserService
	jwt       *auth.JWTer
	mailer    mail.Sender
	templates *mail.Templates
	appURL    string
	log       *zap.Logger
}

func NewAuthService(users *UserService, j *auth.JWTer, m mail.Sender, t *mail.Templates, appURL string, l *zap.Logger) *AuthService {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuthService{users: users, jwt: j, mailer: m, templates: t, appURL: appURL, log: l.With(zap.String("service", "auth"))}
}

func identityOf(u *domain.User) auth.Identity {
	return auth.Identity{UserID: u.ID, UUID: u.UUID, Username: u.Username, Name: u.Name, Email: u.Email}
}

func (s *AuthService) Login(ctx context.Context, in domain.LoginDTO) (LoginResult, error) {
	s.log.Info("auth: login", zap.String("email", in.Email))
	u, ok, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		s.log.Warn("auth: login unknown email", zap.String("email", in.Email))
		return LoginResult{}, domain.NotFound("%s does not exist!", s.users.Collection())
	}
	if !s.users.Hasher().Check(in.Password, u.Password) {
		s.log.Warn("auth: login bad password", zap.String("email", in.Email))
		return LoginResult{}, domain.Unauthorized("Invalid email or password")
	}
	tok, err := s.jwt.Issue(identityOf(u))
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth login: %w", err)
	}
	return LoginResult{User: u, Token: tok}, nil
}

func (s *AuthService) Register(ctx context.Context, in domain.CreateUserDTO) (LoginResult, error) {
	s.log.Info("auth: register", zap.String("email", in.Email))
	if _, err := s.users.Create(ctx, in); err != nil {
		return LoginResult{}, err
	}
	return s.Login(ctx, domain.LoginDTO{Email: in.Email, Password: in.Password})
}

// ExtendToken 校验旧 token 后按同样的身份重新签发
func (s *AuthService) ExtendToken(_ context.Context, token string) (string, error) {
	c, err := s.jwt.ParseAccess(token)
	if err != nil {
		return "", domain.Unauthorized("invalid token: %v", err)
	}
	tok, err := s.jwt.Issue(c.Identity)
	if err != nil {
		return "", fmt.Errorf("auth extendToken: %w", err)
	}
	return tok, nil
}

// Logout token 无服务端状态，直接返回成功
func (s *AuthService) Logout(_ context.Context, token string) (LogoutResult, error) {
	return LogoutResult{Token: token, Success: true}, nil
}

func (s *AuthService) ForgotPassword(ctx context.Context, email string) (MessageResult, error) {
	s.log.Info("auth: forgotPassword", zap.String("email", email))
	u, ok, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return MessageResult{}, err
	}
	if !ok {
		return MessageResult{}, domain.NotFound("%s does not exist!", s.users.Collection())
	}

	tok, err := s.jwt.IssueReset(u.UUID, u.Email)
	if err != nil {
		return MessageResult{}, fmt.Errorf("auth forgotPassword: %w", err)
	}
	if err := s.users.SetResetToken(ctx, u.UUID, tok); err != nil {
		return MessageResult{}, err
	}

	html, text, err := s.templates.Render(mail.TemplateForgotPassword, mail.ForgotPasswordVars{
		AccountName: u.Name,
		URL:         s.appURL + "/reset-password?token=" + url.QueryEscape(tok),
	})
	if err != nil {
		return MessageResult{}, fmt.Errorf("auth forgotPassword: %w", err)
	}
	if err := s.mailer.Send(ctx, mail.Message{To: u.Email, Subject: resetMailSubject, HTMLBody: html, TextBody: text}); err != nil {
		return MessageResult{}, fmt.Errorf("auth forgotPassword: sending email: %w", err)
	}
	return MessageResult{Message: "Reset link sent. Check your inbox"}, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, in domain.ResetPasswordDTO) (MessageResult, error) {
	s.log.Info("auth: resetPassword")
	if in.Password != in.ConfirmPassword {
		return MessageResult{}, domain.InvalidArgument("passwords do not match")
	}
	u, err := s.users.FindByResetToken(ctx, in.ResetToken)
	if err != nil {
		return MessageResult{}, err
	}
	if _, err := s.jwt.ParseReset(in.ResetToken); err != nil {
		return MessageResult{}, domain.InvalidArgument("Invalid or expired reset token.")
	}
	hashed, err := s.users.Hasher().Hash(in.Password)
	if err != nil {
		return MessageResult{}, fmt.Errorf("auth resetPassword: %w", err)
	}
	if err := s.users.RotatePassword(ctx, u.UUID, hashed); err != nil {
		return MessageResult{}, err
	}
	return MessageResult{Message: "Password reset successful"}, nil
}
