package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-user-store/internal/domain/dto"
	"github.com/oksasatya/go-user-store/internal/domain/entity"
	repo "github.com/oksasatya/go-user-store/internal/domain/repository"
	"github.com/oksasatya/go-user-store/internal/infrastructure/search"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/mailer"
	mailtpl "github.com/oksasatya/go-user-store/pkg/mailer/templates"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = repo.ErrUserNotFound
	ErrEmailTaken         = repo.ErrEmailTaken
	ErrBackupDisabled     = errors.New("backup storage not configured")
)

// JobPublisher enqueues JSON jobs (RabbitPublisher in production).
type JobPublisher interface {
	PublishJSON(ctx context.Context, body any) error
}

// UserSearcher mirrors users into a search index (search.UserIndex in production).
type UserSearcher interface {
	IndexUser(ctx context.Context, u *entity.User) error
	DeleteUser(ctx context.Context, id string) error
	SearchUsers(ctx context.Context, q string, size int) ([]search.Document, error)
}

// ObjectUploader stores blobs (helpers.GCSUploader in production).
type ObjectUploader interface {
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
}

type Service struct {
	Repo       repo.UserRepository
	JWT        *helpers.JWTManager
	Logger     *logrus.Logger
	BcryptCost int

	Search       UserSearcher
	Jobs         JobPublisher
	Backups      ObjectUploader
	BackupPrefix string
	MailDefaults mailtpl.EmailData

	now func() time.Time
}

type Option func(*Service)

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.BcryptCost = cost }
}

func WithSearch(x UserSearcher) Option {
	return func(s *Service) { s.Search = x }
}

func WithJobs(p JobPublisher) Option {
	return func(s *Service) { s.Jobs = p }
}

func WithMailDefaults(d mailtpl.EmailData) Option {
	return func(s *Service) { s.MailDefaults = d }
}

func WithBackups(u ObjectUploader, prefix string) Option {
	return func(s *Service) {
		s.Backups = u
		s.BackupPrefix = prefix
	}
}

func NewService(r repo.UserRepository, jwt *helpers.JWTManager, logger *logrus.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		Repo:       r,
		JWT:        jwt,
		Logger:     logger,
		BcryptCost: helpers.DefaultPasswordCost,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates in, hashes its password and stores the user.
func (s *Service) Create(ctx context.Context, in dto.CreateUserInput) (*entity.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hashed, err := in.HashPassword(s.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := hashed.ToEntity()
	if err := s.Repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.Logger.WithField("user_id", u.ID).Info("user created")

	s.indexUser(ctx, u)
	s.enqueueWelcome(ctx, u)
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]entity.User, error) {
	return s.Repo.FindAll(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*entity.User, error) {
	return s.Repo.FindOne(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.Repo.FindByEmail(ctx, email)
}

// Update validates the present fields, hashes a new password if given and merges.
func (s *Service) Update(ctx context.Context, id string, in dto.UpdateUserInput) (*entity.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hashed, err := in.HashPassword(s.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.Repo.Update(ctx, id, hashed.ToPatch())
	if err != nil {
		return nil, err
	}
	s.Logger.WithField("user_id", u.ID).Info("user updated")
	s.indexUser(ctx, u)
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Logger.WithField("user_id", id).Info("user deleted")
	if s.Search != nil {
		if err := s.Search.DeleteUser(ctx, id); err != nil {
			s.Logger.WithError(err).WithField("user_id", id).Warn("es delete failed")
		}
	}
	return nil
}

// Authenticate validates email/password and returns the user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*entity.User, error) {
	u, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

type LoginResult struct {
	User        *entity.User
	AccessToken string
	ExpiresAt   time.Time
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.JWT.GenerateAccessToken(u.ID, u.Email)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Error("generate access token failed")
		return nil, err
	}
	return &LoginResult{User: u, AccessToken: token, ExpiresAt: exp}, nil
}

// SearchUsers queries the search index; without one it returns no hits.
func (s *Service) SearchUsers(ctx context.Context, q string, size int) ([]search.Document, error) {
	if s.Search == nil {
		return []search.Document{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	return s.Search.SearchUsers(ctx, q, size)
}

// Backup uploads every user as a store document and returns the object URI.
func (s *Service) Backup(ctx context.Context) (string, error) {
	if s.Backups == nil {
		return "", ErrBackupDisabled
	}
	users, err := s.Repo.FindAll(ctx)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(struct {
		Users []entity.User `json:"users"`
	}{Users: users}, "", "  ")
	if err != nil {
		return "", err
	}
	object := path.Join(s.BackupPrefix, s.now().UTC().Format("20060102T150405Z")+".json")
	uri, err := s.Backups.Upload(ctx, object, "application/json", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("upload backup: %w", err)
	}
	s.Logger.WithFields(logrus.Fields{"object": uri, "users": len(users)}).Info("user store backed up")
	return uri, nil
}

func (s *Service) indexUser(ctx context.Context, u *entity.User) {
	if s.Search == nil {
		return
	}
	if err := s.Search.IndexUser(ctx, u); err != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Warn("es index failed")
	}
}

func (s *Service) enqueueWelcome(ctx context.Context, u *entity.User) {
	if s.Jobs == nil {
		return
	}
	data := s.MailDefaults
	data.Name = u.Name
	data.Email = u.Email
	job := mailer.EmailJob{To: u.Email, Template: mailtpl.Welcome, Data: mailtpl.ToMap(data)}
	if err := s.Jobs.PublishJSON(ctx, job); err != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Warn("publish welcome email failed")
	}
}
