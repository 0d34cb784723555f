// Package filestore keeps users in a single JSON document on disk.
//
// The whole document is held in memory and rewritten on every mutation.
// Writes go to a temporary file in the same directory which is synced and
// renamed over the target, so readers of the file never see a partial write.
// A mutation becomes visible in memory only after its write succeeded.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-user-store/internal/domain/entity"
	"github.com/oksasatya/go-user-store/internal/domain/repository"
)

// ErrStoreCorrupt is returned by Open when the file exists but cannot be parsed.
var ErrStoreCorrupt = errors.New("user store file is corrupt")

// document is the on-disk shape: {"users": [...]}.
type document struct {
	Users []entity.User `json:"users"`
}

// Options tune Open.
type Options struct {
	// ResetOnCorrupt moves an unparsable file aside and starts empty instead
	// of failing with ErrStoreCorrupt.
	ResetOnCorrupt bool
	Logger         *logrus.Logger
}

type UserRepository struct {
	path   string
	logger *logrus.Logger

	mu    sync.RWMutex
	users []entity.User
}

// Open loads the document at path. A missing file is created holding an
// empty document. Open returns only once the store is fully loaded.
func Open(path string, opts Options) (*UserRepository, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &UserRepository{path: path, logger: logger, users: []entity.User{}}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := r.persist(r.users); err != nil {
			return nil, err
		}
		logger.WithField("path", path).Info("user store created")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user store: %w", err)
	}

	users, err := decode(data)
	if err != nil {
		if !opts.ResetOnCorrupt {
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, path, err)
		}
		if err := r.resetCorrupt(err); err != nil {
			return nil, err
		}
		return r, nil
	}

	r.users = users
	logger.WithFields(logrus.Fields{"path": path, "users": len(users)}).Info("user store loaded")
	return r, nil
}

func decode(data []byte) ([]entity.User, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty file")
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Users == nil {
		doc.Users = []entity.User{}
	}
	return doc.Users, nil
}

// resetCorrupt keeps the unreadable file next to the store and starts over.
func (r *UserRepository) resetCorrupt(cause error) error {
	aside := r.path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.Rename(r.path, aside); err != nil {
		return fmt.Errorf("move corrupt store aside: %w", err)
	}
	r.logger.WithError(cause).WithFields(logrus.Fields{
		"path":  r.path,
		"aside": aside,
	}).Warn("user store corrupt; starting empty")
	return r.persist(r.users)
}

// Path returns the file backing the store.
func (r *UserRepository) Path() string { return r.path }

// persist writes users as the full document. Caller must hold the write lock
// (or be Open).
func (r *UserRepository) persist(users []entity.User) error {
	if users == nil {
		users = []entity.User{}
	}
	data, err := json.MarshalIndent(document{Users: users}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store: %w", err)
	}

	dir, base := filepath.Split(r.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write user store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync user store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close user store: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		cleanup()
		return fmt.Errorf("replace user store: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"path": r.path, "users": len(users)}).Debug("user store persisted")
	return nil
}

func (r *UserRepository) indexByID(id string) int {
	for i := range r.users {
		if r.users[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *UserRepository) indexByEmail(email string) int {
	for i := range r.users {
		if r.users[i].Email == email {
			return i
		}
	}
	return -1
}

func (r *UserRepository) cloneUsers(extra int) []entity.User {
	out := make([]entity.User, len(r.users), len(r.users)+extra)
	copy(out, r.users)
	return out
}

// Create appends u and persists. An empty u.ID is filled with a new UUID.
func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexByEmail(u.Email) >= 0 {
		return repository.ErrEmailTaken
	}
	rec := *u
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if r.indexByID(rec.ID) >= 0 {
		return fmt.Errorf("user id %q already exists", rec.ID)
	}

	next := append(r.cloneUsers(1), rec)
	if err := r.persist(next); err != nil {
		return err
	}
	r.users = next
	u.ID = rec.ID
	return nil
}

// FindByEmail returns the first user whose email matches exactly.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexByEmail(email)
	if i < 0 {
		return nil, repository.ErrUserNotFound
	}
	u := r.users[i]
	return &u, nil
}

// FindAll returns a copy of every user in insertion order.
func (r *UserRepository) FindAll(ctx context.Context) ([]entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cloneUsers(0), nil
}

func (r *UserRepository) FindOne(ctx context.Context, id string) (*entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexByID(id)
	if i < 0 {
		return nil, repository.ErrUserNotFound
	}
	u := r.users[i]
	return &u, nil
}

// Update merges patch onto the user with the given id and persists.
func (r *UserRepository) Update(ctx context.Context, id string, patch entity.UserPatch) (*entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return nil, repository.ErrUserNotFound
	}
	if patch.Email != nil {
		if j := r.indexByEmail(*patch.Email); j >= 0 && j != i {
			return nil, repository.ErrEmailTaken
		}
	}
	if patch.Empty() {
		u := r.users[i]
		return &u, nil
	}

	next := r.cloneUsers(0)
	patch.Apply(&next[i])
	if err := r.persist(next); err != nil {
		return nil, err
	}
	r.users = next
	u := next[i]
	return &u, nil
}

// Delete removes the user with the given id and persists.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return repository.ErrUserNotFound
	}
	next := make([]entity.User, 0, len(r.users)-1)
	next = append(next, r.users[:i]...)
	next = append(next, r.users[i+1:]...)
	if err := r.persist(next); err != nil {
		return err
	}
	r.users = next
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
