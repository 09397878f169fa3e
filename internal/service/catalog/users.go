package catalog

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// RegisterUser регистрирует покупателя или продавца.
func (s *Service) RegisterUser(user domain.User) (domain.User, error) {
	registered, err := s.users.Register(user)
	if err != nil {
		return domain.User{}, err
	}
	s.logger.WithFields(log.Fields{
		"operation": "register_user",
		"user_id":   registered.ID(),
		"user_type": registered.Type(),
	}).Info("User registered")
	return registered, nil
}

// Login проверяет email и пароль.
func (s *Service) Login(email, password string) (domain.User, error) {
	user, err := s.users.Authenticate(email, password)
	if err != nil {
		s.logger.WithField("operation", "login").WithError(err).Debug("Login rejected")
		return domain.User{}, err
	}
	return user, nil
}

// GetUser возвращает пользователя по ID.
func (s *Service) GetUser(id int) (domain.User, error) {
	return s.users.GetByID(id)
}

// ListUsers возвращает всех пользователей по возрастанию ID.
func (s *Service) ListUsers() []domain.User {
	return s.users.ListAll()
}

// GetUserByEmail ищет пользователя по email без учёта регистра.
func (s *Service) GetUserByEmail(email string) (domain.User, error) {
	user, err := s.users.GetByEmail(email)
	if errors.Is(err, domain.ErrEmailRequired) {
		return domain.User{}, domain.NewValidationError(domain.EntityUser, []error{err})
	}
	return user, err
}
