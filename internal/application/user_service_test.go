package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oksasatya/go-user-store/internal/domain/dto"
	"github.com/oksasatya/go-user-store/internal/domain/entity"
	"github.com/oksasatya/go-user-store/internal/infrastructure/filestore"
	"github.com/oksasatya/go-user-store/internal/infrastructure/search"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/mailer"
	mailtpl "github.com/oksasatya/go-user-store/pkg/mailer/templates"
	"github.com/oksasatya/go-user-store/pkg/validation"
)

type fakeSearch struct {
	indexed map[string]entity.User
	deleted []string
	hits    []search.Document
	err     error
	size    int
}

func newFakeSearch() *fakeSearch { return &fakeSearch{indexed: map[string]entity.User{}} }

func (f *fakeSearch) IndexUser(_ context.Context, u *entity.User) error {
	if f.err != nil {
		return f.err
	}
	f.indexed[u.ID] = *u
	return nil
}

func (f *fakeSearch) DeleteUser(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeSearch) SearchUsers(_ context.Context, _ string, size int) ([]search.Document, error) {
	f.size = size
	return f.hits, f.err
}

type fakeJobs struct {
	jobs []mailer.EmailJob
	err  error
}

func (f *fakeJobs) PublishJSON(_ context.Context, body any) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, body.(mailer.EmailJob))
	return nil
}

type fakeUploader struct {
	path, contentType string
	body              []byte
	err               error
}

func (f *fakeUploader) Upload(_ context.Context, objectPath, contentType string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.path, f.contentType = objectPath, contentType
	f.body, _ = io.ReadAll(r)
	return "gs://bucket/" + objectPath, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *filestore.UserRepository) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store, err := filestore.Open(filepath.Join(t.TempDir(), "db.json"), filestore.Options{Logger: logger})
	require.NoError(t, err)
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)
	return NewService(store, helpers.NewJWTManager("test-secret", time.Minute), logger, opts...), store
}

func validInput(email string) dto.CreateUserInput {
	return dto.CreateUserInput{Name: "Ada", Email: email, Password: "password123"}
}

func TestCreate_StoresHashedPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, validInput("ada@example.com"))
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.NotEqual(t, "password123", got.Password)
	assert.True(t, helpers.CompareHashAndPassword(got.Password, "password123"))
}

func TestCreate_DefaultCostIsTen(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, err := filestore.Open(filepath.Join(t.TempDir(), "db.json"), filestore.Options{Logger: logger})
	require.NoError(t, err)
	svc := NewService(store, nil, logger)

	u, err := svc.Create(context.Background(), validInput("ada@example.com"))
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(u.Password))
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
}

func TestCreate_InvalidInputNeverReachesStore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, dto.CreateUserInput{Email: "nope", Password: "short"})
	var ve *validation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Has("name", "required"))
	assert.True(t, ve.Has("email", "email"))
	assert.True(t, ve.Has("password", "min"))

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_OverlongMultiBytePasswordIsValidationError(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	in := validInput("ada@example.com")
	in.Password = strings.Repeat("é", 40)
	_, err := svc.Create(ctx, in)
	var ve *validation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Has("password", "bcryptmax"))

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, validInput("ada@example.com"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, validInput("ada@example.com"))
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreate_IndexesAndEnqueuesWelcome(t *testing.T) {
	fs := newFakeSearch()
	jobs := &fakeJobs{}
	svc, _ := newTestService(t,
		WithSearch(fs),
		WithJobs(jobs),
		WithMailDefaults(mailtpl.EmailData{AppName: "Users", CompanyName: "ACME"}),
	)

	u, err := svc.Create(context.Background(), validInput("ada@example.com"))
	require.NoError(t, err)

	assert.Contains(t, fs.indexed, u.ID)

	require.Len(t, jobs.jobs, 1)
	job := jobs.jobs[0]
	assert.Equal(t, "ada@example.com", job.To)
	assert.Equal(t, mailtpl.Welcome, job.Template)
	assert.Equal(t, "Ada", job.Data["Name"])
	assert.Equal(t, "ACME", job.Data["CompanyName"])
	assert.NotContains(t, job.Data, "Password")
}

func TestCreate_SideEffectFailuresAreLoggedNotReturned(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store, err := filestore.Open(filepath.Join(t.TempDir(), "db.json"), filestore.Options{Logger: logger})
	require.NoError(t, err)
	fs := newFakeSearch()
	fs.err = errors.New("es down")
	svc := NewService(store, nil, logger,
		WithBcryptCost(bcrypt.MinCost),
		WithSearch(fs),
		WithJobs(&fakeJobs{err: errors.New("amqp down")}),
	)

	_, err = svc.Create(context.Background(), validInput("ada@example.com"))
	require.NoError(t, err)

	warns := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	assert.Equal(t, 2, warns)
}

func TestUpdate_OnlyGivenFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Create(ctx, validInput("ada@example.com"))
	require.NoError(t, err)

	name := "New"
	got, err := svc.Update(ctx, u.ID, dto.UpdateUserInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.Password, got.Password)
}

func TestUpdate_PasswordIsHashed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Create(ctx, validInput("ada@example.com"))
	require.NoError(t, err)

	pw := "another-password"
	got, err := svc.Update(ctx, u.ID, dto.UpdateUserInput{Password: &pw})
	require.NoError(t, err)
	assert.NotEqual(t, pw, got.Password)
	assert.True(t, helpers.CompareHashAndPassword(got.Password, pw))
}

func TestUpdate_InvalidAndMissing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bad := "not-an-email"
	_, err := svc.Update(ctx, "whatever", dto.UpdateUserInput{Email: &bad})
	var ve *validation.ValidationError
	require.ErrorAs(t, err, &ve)

	name := "x"
	_, err = svc.Update(ctx, "missing", dto.UpdateUserInput{Name: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDelete(t *testing.T) {
	fs := newFakeSearch()
	svc, _ := newTestService(t, WithSearch(fs))
	ctx := context.Background()
	u, err := svc.Create(ctx, validInput("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, u.ID))
	_, err = svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, []string{u.ID}, fs.deleted)

	assert.ErrorIs(t, svc.Delete(ctx, u.ID), ErrUserNotFound)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Create(ctx, validInput("ada@example.com"))
	require.NoError(t, err)

	res, err := svc.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	claims, err := svc.JWT.ParseAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	_, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSearchUsers(t *testing.T) {
	svc, _ := newTestService(t)
	hits, err := svc.SearchUsers(context.Background(), "ada", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	fs := newFakeSearch()
	fs.hits = []search.Document{{ID: "u1", Name: "Ada"}}
	svc, _ = newTestService(t, WithSearch(fs))
	hits, err = svc.SearchUsers(context.Background(), "ada", 500)
	require.NoError(t, err)
	assert.Equal(t, fs.hits, hits)
	assert.Equal(t, 10, fs.size, "size is clamped")
}

func TestBackup(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Backup(context.Background())
	assert.ErrorIs(t, err, ErrBackupDisabled)

	up := &fakeUploader{}
	svc, _ = newTestService(t, WithBackups(up, "backups/users"))
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	ctx := context.Background()
	_, err = svc.Create(ctx, validInput("a@example.com"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, validInput("b@example.com"))
	require.NoError(t, err)

	uri, err := svc.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/backups/users/20240501T123000Z.json", uri)
	assert.Equal(t, "application/json", up.contentType)

	var doc struct {
		Users []entity.User `json:"users"`
	}
	require.NoError(t, json.Unmarshal(up.body, &doc))
	require.Len(t, doc.Users, 2)
	assert.Equal(t, "a@example.com", doc.Users[0].Email)
}
