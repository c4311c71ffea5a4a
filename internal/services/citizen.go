package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

// ProfileInput is the onboarding form: display name and home location
type ProfileInput struct {
	UserID string   `validate:"required"`
	Role   string
	Name   string   `validate:"required,max=100"`
	Lat    *float64 `validate:"required,latitude"`
	Lng    *float64 `validate:"required,longitude"`
}

// CitizenService maintains the user directory projection used for
// notification targeting.
type CitizenService struct {
	store    store.CitizenStore
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

// NewCitizenService creates a new citizen service
func NewCitizenService(s store.CitizenStore, logger *zap.SugaredLogger) *CitizenService {
	return &CitizenService{store: s, validate: validator.New(), logger: logger}
}

// UpdateProfile stores the caller's home location and marks them onboarded
func (s *CitizenService) UpdateProfile(ctx context.Context, in ProfileInput) (*models.Citizen, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, fromValidator(err)
	}

	role := in.Role
	if role == "" {
		role = "citizen"
	}
	c := models.Citizen{
		ID:                  in.UserID,
		Name:                in.Name,
		Role:                role,
		Lat:                 *in.Lat,
		Lng:                 *in.Lng,
		OnboardingCompleted: true,
	}
	if err := s.store.UpsertCitizen(ctx, c); err != nil {
		return nil, fmt.Errorf("upsert citizen: %w", err)
	}

	s.logger.Infow("Citizen profile updated", "user_id", c.ID)
	return &c, nil
}
