// Package applications manages applications and the configuration keys
// registered under them.
package applications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sgizm/experiment-server/internal/app/domain/application"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/logging"
)

// ErrInvalidInput is returned when a create request fails validation.
var ErrInvalidInput = errors.New("invalid input")

// Service implements application and configuration key management.
type Service struct {
	apps storage.ApplicationStore
	keys storage.ConfigurationKeyStore
	log  *logging.Logger
}

// New constructs the service.
func New(apps storage.ApplicationStore, keys storage.ConfigurationKeyStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("applications")
	}
	return &Service{apps: apps, keys: keys, log: log}
}

// CreateApplication registers a new application.
func (s *Service) CreateApplication(ctx context.Context, name string) (application.Application, error) {
	if strings.TrimSpace(name) == "" {
		return application.Application{}, fmt.Errorf("%w: application name is required", ErrInvalidInput)
	}
	app, err := s.apps.CreateApplication(ctx, application.Application{Name: name})
	if err != nil {
		return application.Application{}, err
	}
	s.log.WithTrace(ctx).Infof("created application %d (%s)", app.ID, app.Name)
	return app, nil
}

// GetApplication returns one application by id.
func (s *Service) GetApplication(ctx context.Context, id int64) (application.Application, error) {
	return s.apps.GetApplication(ctx, id)
}

// ListApplications returns every application.
func (s *Service) ListApplications(ctx context.Context) ([]application.Application, error) {
	return s.apps.ListApplications(ctx)
}

// DeleteApplication removes an application. Its configuration keys and
// their constraints are removed with it.
func (s *Service) DeleteApplication(ctx context.Context, id int64) error {
	if err := s.apps.DeleteApplication(ctx, id); err != nil {
		return err
	}
	s.log.WithTrace(ctx).Infof("deleted application %d", id)
	return nil
}

// CreateConfigurationKey registers a key under the application.
func (s *Service) CreateConfigurationKey(ctx context.Context, applicationID int64, name, keyType string) (application.ConfigurationKey, error) {
	if strings.TrimSpace(name) == "" {
		return application.ConfigurationKey{}, fmt.Errorf("%w: configuration key name is required", ErrInvalidInput)
	}
	if _, err := s.apps.GetApplication(ctx, applicationID); err != nil {
		return application.ConfigurationKey{}, err
	}
	ck, err := s.keys.CreateConfigurationKey(ctx, application.ConfigurationKey{
		ApplicationID: applicationID,
		Name:          name,
		Type:          keyType,
	})
	if err != nil {
		return application.ConfigurationKey{}, err
	}
	s.log.WithTrace(ctx).Infof("created configuration key %d (%s) for application %d", ck.ID, ck.Name, applicationID)
	return ck, nil
}

// ListConfigurationKeys returns the keys of one application.
func (s *Service) ListConfigurationKeys(ctx context.Context, applicationID int64) ([]application.ConfigurationKey, error) {
	if _, err := s.apps.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.keys.ListConfigurationKeys(ctx, applicationID)
}

// DeleteConfigurationKey removes a key of the application. The key must
// belong to the application.
func (s *Service) DeleteConfigurationKey(ctx context.Context, applicationID, configKeyID int64) error {
	ck, err := s.keys.GetConfigurationKey(ctx, configKeyID)
	if err != nil {
		return err
	}
	if ck.ApplicationID != applicationID {
		return fmt.Errorf("configuration key %d: %w", configKeyID, storage.ErrNotFound)
	}
	if err := s.keys.DeleteConfigurationKey(ctx, configKeyID); err != nil {
		return err
	}
	s.log.WithTrace(ctx).Infof("deleted configuration key %d of application %d", configKeyID, applicationID)
	return nil
}
