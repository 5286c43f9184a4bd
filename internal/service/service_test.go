package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"entity-admin/internal/domain"
	"entity-admin/internal/repo"
	"entity-admin/pkg/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.AutoMigrate(&domain.User{}))
	return db
}

func newUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	r, err := repo.NewUserRepo(db, zap.NewNop())
	require.NoError(t, err)
	return NewUserService(r, utils.NewHasher(bcrypt.MinCost), zap.NewNop()), db
}

func ann() domain.CreateUserDTO {
	return domain.CreateUserDTO{Name: "Ann Lee", Username: "annlee", Email: "a@x.com", Password: "Secret1!"}
}

func TestUserService_Create_DuplicateEmailConflicts(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, ann())
	require.NoError(t, err)

	dup := ann()
	dup.Username = "someone-else"
	_, err = s.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, "users already exists!", domain.Message(err))
}

func TestUserService_Create_DuplicateUsernameConflicts(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, ann())
	require.NoError(t, err)

	dup := ann()
	dup.Email = "other@x.com"
	_, err = s.Create(ctx, dup)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, "username is taken!", domain.Message(err))
}

func TestUserService_Create_ConcurrentSameUserOnlyOneWins(t *testing.T) {
	s, db := newUserService(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Create(context.Background(), ann())
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	var rows int64
	require.NoError(t, db.Model(&domain.User{}).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestUserService_Create_StoreConflictGetsFieldMessage(t *testing.T) {
	s, db := newUserService(t)
	ctx := context.Background()
	_, err := s.Create(ctx, ann())
	require.NoError(t, err)

	// 绕过预检，直接撞唯一索引
	r, err := repo.NewUserRepo(db, zap.NewNop())
	require.NoError(t, err)
	dup := ann()
	dup.Email = "other@x.com"
	_, err = r.Create(ctx, dup)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = s.conflictDetail(ctx, "create", err, &dup.Email, &dup.Username, "")
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, "username is taken!", domain.Message(err))
}

func TestUserService_Create_RequiresEmailAndUsername(t *testing.T) {
	s, _ := newUserService(t)
	in := ann()
	in.Email = "  "
	_, err := s.Create(context.Background(), in)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	in = ann()
	in.Username = ""
	_, err = s.Create(context.Background(), in)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestUserService_Create_NarrowsPayloadAndHashes(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	in := ann()
	bio := "ignored"
	in.Bio = &bio
	in.UUID = "client-supplied"

	u, err := s.Create(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, u.Bio)
	assert.NotEqual(t, "client-supplied", u.UUID)
	assert.Len(t, u.UUID, 36)

	stored, ok, err := s.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, "Secret1!", stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("Secret1!")))
}

func TestUserService_Create_UUIDsAreUnique(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		u, err := s.Create(ctx, domain.CreateUserDTO{
			Name: "name", Username: fmt.Sprintf("user%03d", i), Email: fmt.Sprintf("u%03d@x.com", i), Password: "Secret1!",
		})
		require.NoError(t, err)
		require.False(t, seen[u.UUID])
		seen[u.UUID] = true
	}
}

func TestService_GetByEmail_AbsentIsNotAnError(t *testing.T) {
	s, _ := newUserService(t)
	u, ok, err := s.GetByEmail(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)
}

func TestService_GetByUuid_NotFound(t *testing.T) {
	s, _ := newUserService(t)
	_, err := s.GetByUuid(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = s.GetById(context.Background(), 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestService_DeleteTwice(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	u, err := s.Create(ctx, ann())
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, u.UUID, deleted.UUID)

	_, err = s.Delete(ctx, u.UUID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestService_DeleteMany(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	u, err := s.Create(ctx, ann())
	require.NoError(t, err)

	_, err = s.DeleteMany(ctx, []string{})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	_, err = s.DeleteMany(ctx, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	res, err := s.DeleteMany(ctx, []string{u.UUID, "nonexistent"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.DeletedCount)

	_, err = s.DeleteMany(ctx, []string{"nonexistent"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUserService_Update_RoundTrip(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	u, err := s.Create(ctx, ann())
	require.NoError(t, err)

	before, err := s.GetByUuid(ctx, u.UUID)
	require.NoError(t, err)
	s.now = func() time.Time { return before.UpdatedAt.Add(time.Second) }

	name := "Ann Marie Lee"
	_, err = s.Update(ctx, u.UUID, domain.UpdateUserDTO{Name: &name})
	require.NoError(t, err)

	after, err := s.GetByUuid(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, name, after.Name)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt), "updatedAt %v should be after %v", after.UpdatedAt, before.UpdatedAt)
	assert.Equal(t, before.Email, after.Email)
}

func TestUserService_Update_NullClearsOptionalFields(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	u, err := s.Create(ctx, ann())
	require.NoError(t, err)

	bio, phone := "hello", "555-1234"
	_, err = s.Update(ctx, u.UUID, domain.UpdateUserDTO{Bio: &bio, PhoneNumber: &phone})
	require.NoError(t, err)

	var dto domain.UpdateUserDTO
	require.NoError(t, json.Unmarshal([]byte(`{"bio":null}`), &dto))
	_, err = s.Update(ctx, u.UUID, dto)
	require.NoError(t, err)

	after, err := s.GetByUuid(ctx, u.UUID)
	require.NoError(t, err)
	assert.Nil(t, after.Bio)
	require.NotNil(t, after.PhoneNumber)
	assert.Equal(t, phone, *after.PhoneNumber)
}

func TestUserService_Update_UniquenessAgainstOthers(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	a, err := s.Create(ctx, ann())
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.CreateUserDTO{Name: "Bob Stone", Username: "bobstone", Email: "b@x.com", Password: "Secret1!"})
	require.NoError(t, err)

	taken := "b@x.com"
	_, err = s.Update(ctx, a.UUID, domain.UpdateUserDTO{Email: &taken})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	takenName := "bobstone"
	_, err = s.Update(ctx, a.UUID, domain.UpdateUserDTO{Username: &takenName})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	// 自己的邮箱不算冲突
	own := "a@x.com"
	_, err = s.Update(ctx, a.UUID, domain.UpdateUserDTO{Email: &own})
	assert.NoError(t, err)
}

func TestUserService_Update_Missing(t *testing.T) {
	s, _ := newUserService(t)
	name := "whoever"
	_, err := s.Update(context.Background(), "missing", domain.UpdateUserDTO{Name: &name})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUserService_Import_SkipsExistingAndInBatchDuplicates(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	_, err := s.Create(ctx, ann())
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.CreateUserDTO{Name: "Bob Stone", Username: "bobstone", Email: "b@x.com", Password: "Secret1!"})
	require.NoError(t, err)

	rows := []domain.CreateUserDTO{
		{Name: "new one", Username: "new1", Email: "n1@x.com", Password: "h"},
		{Name: "email clash", Username: "fresh", Email: "a@x.com", Password: "h"},
		{Name: "username clash", Username: "bobstone", Email: "fresh@x.com", Password: "h"},
		{Name: "new two", Username: "new2", Email: "n2@x.com", Password: "h"},
		{Name: "in batch dup", Username: "new2-again", Email: "n2@x.com", Password: "h"},
	}
	res, err := s.Import(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Equal(t, 3, res.SkippedCount)
	assert.Equal(t, len(rows), res.CreatedCount+res.SkippedCount)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUserService_Import_SkipsRowsWithoutEmailOrUsername(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	rows := []domain.CreateUserDTO{
		{Name: "no email", Username: "noemail", Email: "", Password: "h"},
		{Name: "no username", Username: " ", Email: "nouser@x.com", Password: "h"},
		{Name: "no email either", Username: "noemail2", Email: "", Password: "h"},
		{Name: "complete", Username: "complete", Email: "c@x.com", Password: "h"},
	}
	res, err := s.Import(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CreatedCount)
	assert.Equal(t, 3, res.SkippedCount)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "complete", all[0].Username)
}

func TestService_Import_StoreConflictAbortsBatch(t *testing.T) {
	s, _ := newUserService(t)
	_, err := s.Create(context.Background(), ann())
	require.NoError(t, err)

	// 基础 Import 不去重，由唯一索引拒绝
	rows := []domain.CreateUserDTO{
		{UUID: "u-1", Name: "one", Username: "one", Email: "one@x.com"},
		{UUID: "u-2", Name: "clash", Username: "clash", Email: "a@x.com"},
	}
	_, err = s.baseUserService.Import(context.Background(), rows)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	all, err := s.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_Import_BaseDoesNotDeduplicate(t *testing.T) {
	s, _ := newUserService(t)
	rows := []domain.CreateUserDTO{
		{UUID: "u-1", Name: "one", Username: "one", Email: "one@x.com"},
		{UUID: "u-2", Name: "two", Username: "two", Email: "two@x.com"},
	}
	res, err := s.baseUserService.Import(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Zero(t, res.SkippedCount)
}

func TestService_Export(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	_, err := s.Export(ctx)
	assert.True(t, errors.Is(err, domain.ErrExportEmpty))

	in := ann()
	_, err = s.Create(ctx, in)
	require.NoError(t, err)

	out, err := s.Export(ctx)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"id", "uuid", "name", "username", "email", "bio", "phoneNumber", "createdAt", "updatedAt"}, records[0])
	assert.Equal(t, "Ann Lee", records[1][2])
	assert.Equal(t, "", records[1][5])
	assert.NotContains(t, out, "Secret1!")

	created, err := time.Parse(ISOTime, records[1][7])
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), created, time.Minute)
	assert.True(t, strings.HasSuffix(records[1][7], "Z"))
}

func TestService_StoreErrorIsNotDowngraded(t *testing.T) {
	s, db := newUserService(t)
	require.NoError(t, db.Migrator().DropTable(&domain.User{}))

	_, err := s.GetAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStore))
	assert.False(t, domain.IsDomain(err))
}

func TestService_ForeignErrorsGetPrefix(t *testing.T) {
	s, _ := newUserService(t)
	s.hasher = utils.Hasher{Cost: bcrypt.MaxCost + 1}

	_, err := s.Create(context.Background(), ann())
	require.Error(t, err)
	assert.False(t, domain.IsDomain(err))
	assert.True(t, strings.HasPrefix(err.Error(), "users create: "), err.Error())
}

func TestService_FindByQuery(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		_, err := s.Create(ctx, domain.CreateUserDTO{
			Name: fmt.Sprintf("user-%02d", i), Username: fmt.Sprintf("user%02d", i), Email: fmt.Sprintf("u%02d@x.com", i), Password: "Secret1!",
		})
		require.NoError(t, err)
	}
	res, err := s.FindByQuery(ctx, domain.QueryOptions{
		Paginate: &domain.Paginate{Page: 2, PerPage: 5},
		OrderBy:  []domain.OrderBy{{Sort: "name", Order: domain.Asc}},
	})
	require.NoError(t, err)
	require.Len(t, res.Data, 5)
	assert.Equal(t, "user-06", res.Data[0].Name)
	assert.Equal(t, "user-10", res.Data[4].Name)
}
