package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/auth/db"
	"github.com/willemschots/dreambig/internal/db/testdb"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/errorz"
	"github.com/willemschots/dreambig/internal/errorz/testerr"
	"github.com/willemschots/dreambig/internal/krypto"
)

func Test_Service_Register(t *testing.T) {
	t.Run("ok, register user", func(t *testing.T) {
		st := newServiceTest(t)

		user, err := st.svc.Register(context.Background(), st.registration())
		if err != nil {
			t.Fatalf("failed to register user: %v", err)
		}

		st.svc.Wait()
		st.errList.assertNoError(t)

		if !user.IsActive || user.EmailVerified || user.Role != auth.RoleUser || user.Name != "Alice" {
			t.Errorf("unexpected user: %+v", user)
		}

		stored := st.findUser(user.ID)
		if stored.Verification == nil || stored.Verification.Email != user.Email || stored.Verification.Attempts != 0 {
			t.Errorf("expected pending verification, got %+v", stored.Verification)
		}

		st.emailer.assertTemplates(t, auth.TemplateWelcome, auth.TemplateVerification)
	})

	t.Run("fail, duplicate email", func(t *testing.T) {
		st := newServiceTest(t)
		st.registerUser()

		_, err := st.svc.Register(context.Background(), st.registration())
		if !errors.Is(err, auth.ErrDuplicateUser) {
			t.Fatalf("expected error %v, got %v", auth.ErrDuplicateUser, err)
		}
	})

	t.Run("fail, empty name", func(t *testing.T) {
		st := newServiceTest(t)

		r := st.registration()
		r.Name = "   "

		_, err := st.svc.Register(context.Background(), r)
		var invalid errorz.InvalidInput
		if !errors.As(err, &invalid) {
			t.Fatalf("expected error %T, got %v", invalid, err)
		}
	})

	for _, dep := range testerr.NewFailingDeps(testerr.Err, 4) {
		t.Run("fail, store fails at "+dep.String(), func(t *testing.T) {
			st := newServiceTest(t)
			st.store.dep = &dep

			_, err := st.svc.Register(context.Background(), st.registration())
			if !errors.Is(err, testerr.Err) {
				t.Fatalf("expected error %v, got %v (via errors.Is)", testerr.Err, err)
			}

			st.svc.Wait()
			st.errList.assertNoError(t)
			st.emailer.assertTemplates(t)
		})
	}

	t.Run("fail async, emailer fails", func(t *testing.T) {
		st := newServiceTest(t)
		st.emailer.testErr = testerr.Err

		_, err := st.svc.Register(context.Background(), st.registration())
		if err != nil {
			t.Fatalf("failed to register user: %v", err)
		}

		st.svc.Wait()
		// Both the welcome and the verification email fail.
		st.errList.assertErrorsAre(t, testerr.Err, 2)
	})
}

func Test_Service_Authenticate(t *testing.T) {
	t.Run("ok, right credentials", func(t *testing.T) {
		st := newServiceTest(t)
		registered := st.registerVerifiedUser()

		user, err := st.svc.Authenticate(context.Background(), st.credentials())
		if err != nil {
			t.Fatalf("failed to authenticate: %v", err)
		}

		if user.ID != registered.ID {
			t.Errorf("got user %s, want %s", user.ID, registered.ID)
		}
	})

	t.Run("fail, wrong password", func(t *testing.T) {
		st := newServiceTest(t)
		st.registerVerifiedUser()

		c := st.credentials()
		c.Password = must(auth.ParsePassword("wrongPassword1!"))

		_, err := st.svc.Authenticate(context.Background(), c)
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("expected error %v, got %v", auth.ErrInvalidCredentials, err)
		}
	})

	t.Run("fail, non-existent user", func(t *testing.T) {
		st := newServiceTest(t)
		st.registerVerifiedUser()

		c := st.credentials()
		c.Email = must(email.ParseAddress("jacob@example.com"))

		_, err := st.svc.Authenticate(context.Background(), c)
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("expected error %v, got %v", auth.ErrInvalidCredentials, err)
		}
	})

	t.Run("fail, unverified email", func(t *testing.T) {
		st := newServiceTest(t)
		st.registerUser()

		_, err := st.svc.Authenticate(context.Background(), st.credentials())
		if !errors.Is(err, auth.ErrEmailNotVerified) {
			t.Fatalf("expected error %v, got %v", auth.ErrEmailNotVerified, err)
		}
	})

	t.Run("fail, inactive user", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.registerVerifiedUser()
		st.modifyUser(user.ID, func(u *auth.User) {
			u.IsActive = false
		})

		_, err := st.svc.Authenticate(context.Background(), st.credentials())
		if !errors.Is(err, auth.ErrInactiveUser) {
			t.Fatalf("expected error %v, got %v", auth.ErrInactiveUser, err)
		}
	})

	for _, dep := range testerr.NewFailingDeps(testerr.Err, 3) {
		t.Run("fail, store fails at "+dep.String(), func(t *testing.T) {
			st := newServiceTest(t)
			st.registerVerifiedUser()
			st.store.dep = &dep

			_, err := st.svc.Authenticate(context.Background(), st.credentials())
			if !errors.Is(err, testerr.Err) {
				t.Fatalf("expected error %v, got %v (via errors.Is)", testerr.Err, err)
			}
		})
	}
}

func Test_Service_UpdateProfile(t *testing.T) {
	t.Run("ok, change name", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.registerVerifiedUser()
		sent := st.emailer.count()

		got, err := st.svc.UpdateProfile(context.Background(), user.ID, auth.ProfileUpdate{
			Name: ptr("Alice Cooper"),
		})
		if err != nil {
			t.Fatalf("failed to update profile: %v", err)
		}

		st.svc.Wait()
		st.errList.assertNoError(t)

		if got.Name != "Alice Cooper" || !got.EmailVerified {
			t.Errorf("unexpected user: %+v", got)
		}

		if st.emailer.count() != sent {
			t.Errorf("expected no new emails")
		}
	})

	t.Run("ok, change email requires verification", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.registerVerifiedUser()
		newAddr := must(email.ParseAddress("alice@example.org"))

		got, err := st.svc.UpdateProfile(context.Background(), user.ID, auth.ProfileUpdate{
			Email: &newAddr,
		})
		if err != nil {
			t.Fatalf("failed to update profile: %v", err)
		}

		st.svc.Wait()
		st.errList.assertNoError(t)

		if got.Email != newAddr || got.EmailVerified || got.EmailVerifiedAt != nil {
			t.Errorf("unexpected user: %+v", got)
		}

		sent := st.emailer.last(t)
		if sent.template != auth.TemplateVerification || sent.recipient != newAddr {
			t.Fatalf("unexpected email: %+v", sent)
		}

		err = st.verification.Verify(context.Background(), st.lastVerificationToken())
		if err != nil {
			t.Fatalf("failed to verify new email: %v", err)
		}
	})

	t.Run("ok, same email is a no-op", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.registerVerifiedUser()
		sent := st.emailer.count()

		got, err := st.svc.UpdateProfile(context.Background(), user.ID, auth.ProfileUpdate{
			Email: &user.Email,
		})
		if err != nil {
			t.Fatalf("failed to update profile: %v", err)
		}

		st.svc.Wait()

		if !got.EmailVerified || st.emailer.count() != sent {
			t.Errorf("expected email to stay verified without new emails")
		}
	})

	t.Run("fail, email taken", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.registerVerifiedUser()

		other := st.registration()
		other.Email = must(email.ParseAddress("bob@example.com"))
		_, err := st.svc.Register(context.Background(), other)
		if err != nil {
			t.Fatalf("failed to register user: %v", err)
		}

		_, err = st.svc.UpdateProfile(context.Background(), user.ID, auth.ProfileUpdate{
			Email: &other.Email,
		})
		if !errors.Is(err, auth.ErrDuplicateUser) {
			t.Fatalf("expected error %v, got %v", auth.ErrDuplicateUser, err)
		}
	})

	t.Run("fail, unknown user", func(t *testing.T) {
		st := newServiceTest(t)

		_, err := st.svc.UpdateProfile(context.Background(), uuid.New(), auth.ProfileUpdate{
			Name: ptr("Bob"),
		})
		if !errors.Is(err, auth.ErrUserNotFound) {
			t.Fatalf("expected error %v, got %v", auth.ErrUserNotFound, err)
		}
	})
}

type svcTest struct {
	t            *testing.T
	svc          *auth.Service
	reset        *auth.ResetManager
	verification *auth.VerificationManager
	store        *testStore
	emailer      *testEmailer
	errList      *errList
	now          time.Time
}

func newServiceTest(t *testing.T) *svcTest {
	encryptor := must(krypto.NewEncryptor([]krypto.Key{
		must(krypto.ParseKey("2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d")),
	}))

	indexKey := must(krypto.ParseKey("90303dfed7994260ea4817a5ca8a392915cd401115b2f97495dadfcbcd14adbf"))
	tokenKey := must(krypto.ParseKey("5e1f0c6a3b2d4e8f9a7b6c5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f"))

	testDB := testdb.RunWhile(t, true)
	st := &svcTest{
		t: t,
		store: &testStore{
			store: db.New(testDB, encryptor, indexKey),
			dep:   &testerr.FailingDep{}, // the zero value never fails.
		},
		errList: &errList{
			mutex: &sync.Mutex{},
		},
		emailer: &testEmailer{
			mutex: &sync.Mutex{},
		},
		now: time.Date(2024, 3, 20, 14, 56, 0, 0, time.UTC),
	}

	notifier := auth.NewNotifier(st.emailer, st.errList.AppendErr, time.Second)

	st.verification = auth.NewVerificationManager(st.store, tokenKey, notifier, auth.DefaultVerificationConfig())
	st.verification.NowFunc = st.nowFunc

	st.reset = auth.NewResetManager(st.store, tokenKey, notifier, auth.DefaultResetConfig())
	st.reset.NowFunc = st.nowFunc

	svc, err := auth.NewService(st.store, notifier, st.verification)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	svc.NowFunc = st.nowFunc
	st.svc = svc

	return st
}

func (st *svcTest) nowFunc() time.Time {
	return st.now
}

func (st *svcTest) advance(d time.Duration) {
	st.now = st.now.Add(d)
}

func (st *svcTest) registration() auth.Registration {
	return auth.Registration{
		Email:    must(email.ParseAddress("alice@example.com")),
		Name:     "Alice",
		Password: auth.StrongPassword{Password: must(auth.ParseStrongPassword("reallyStrong1!"))},
	}
}

func (st *svcTest) credentials() auth.Credentials {
	return auth.Credentials{
		Email:    must(email.ParseAddress("alice@example.com")),
		Password: must(auth.ParsePassword("reallyStrong1!")),
	}
}

func (st *svcTest) registerUser() auth.User {
	user, err := st.svc.Register(context.Background(), st.registration())
	if err != nil {
		st.t.Fatalf("failed to register user: %v", err)
	}

	st.svc.Wait()
	st.errList.assertNoError(st.t)

	return user
}

func (st *svcTest) registerVerifiedUser() auth.User {
	user := st.registerUser()

	err := st.verification.Verify(context.Background(), st.lastVerificationToken())
	if err != nil {
		st.t.Fatalf("failed to verify user: %v", err)
	}

	return st.findUser(user.ID)
}

func (st *svcTest) lastVerificationToken() string {
	st.t.Helper()

	data, ok := st.emailer.lastOf(auth.TemplateVerification).(auth.VerificationEmail)
	if !ok {
		st.t.Fatalf("no verification email was sent")
	}

	return data.Token
}

func (st *svcTest) lastResetToken() string {
	st.t.Helper()

	data, ok := st.emailer.lastOf(auth.TemplateReset).(auth.ResetEmail)
	if !ok {
		st.t.Fatalf("no reset email was sent")
	}

	return data.Token
}

// findUser reads a user directly from the underlying store.
func (st *svcTest) findUser(id uuid.UUID) auth.User {
	st.t.Helper()

	tx, err := st.store.store.BeginTx(context.Background())
	if err != nil {
		st.t.Fatalf("failed to begin tx: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	users, err := tx.FindUsers(&auth.UserFilter{IDs: []uuid.UUID{id}})
	if err != nil || len(users) != 1 {
		st.t.Fatalf("failed to find user %s: %v", id, err)
	}

	return users[0]
}

// modifyUser changes a user directly in the underlying store.
func (st *svcTest) modifyUser(id uuid.UUID, f func(u *auth.User)) {
	st.t.Helper()

	u := st.findUser(id)
	f(&u)

	tx, err := st.store.store.BeginTx(context.Background())
	if err != nil {
		st.t.Fatalf("failed to begin tx: %v", err)
	}

	err = tx.UpdateUser(&u)
	if err != nil {
		st.t.Fatalf("failed to update user: %v", err)
	}

	err = tx.Commit()
	if err != nil {
		st.t.Fatalf("failed to commit: %v", err)
	}
}

type errList struct {
	mutex *sync.Mutex
	errs  []error
}

func (e *errList) AppendErr(err error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.errs = append(e.errs, err)
}

func (e *errList) assertNoError(t *testing.T) {
	t.Helper()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.errs) > 0 {
		t.Fatalf("unexpected errors: %v", e.errs)
	}
}

func (e *errList) assertErrorIs(t *testing.T, err error) {
	t.Helper()
	e.assertErrorsAre(t, err, 1)
}

func (e *errList) assertErrorsAre(t *testing.T, err error, n int) {
	t.Helper()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.errs) != n {
		t.Fatalf("expected %d errors, got %v", n, e.errs)
	}

	for _, got := range e.errs {
		if !errors.Is(got, err) {
			t.Fatalf("expected error %v, got %v via errors.Is()", err, got)
		}
	}
}

// testStore wraps a real store but uses a testerr.FailingDep to
// possibly fail on certain method calls.
type testStore struct {
	store auth.Store
	dep   *testerr.FailingDep
}

func (f *testStore) BeginTx(ctx context.Context) (auth.Tx, error) {
	return testerr.MaybeFail(f.dep, func() (auth.Tx, error) {
		realTx, err := f.store.BeginTx(ctx)
		return &testTx{
			store: f,
			tx:    realTx,
		}, err
	})
}

type testTx struct {
	store *testStore
	tx    auth.Tx
}

func (tx *testTx) Commit() error {
	return testerr.MaybeFailErrFunc(tx.store.dep, func() error {
		return tx.tx.Commit()
	})
}

func (tx *testTx) Rollback() error {
	// Rollback always reaches the real transaction so it's released.
	return tx.tx.Rollback()
}

func (tx *testTx) CreateUser(u *auth.User) error {
	return testerr.MaybeFailErrFunc(tx.store.dep, func() error {
		return tx.tx.CreateUser(u)
	})
}

func (tx *testTx) UpdateUser(u *auth.User) error {
	return testerr.MaybeFailErrFunc(tx.store.dep, func() error {
		return tx.tx.UpdateUser(u)
	})
}

func (tx *testTx) FindUsers(filter *auth.UserFilter) ([]auth.User, error) {
	return testerr.MaybeFail(tx.store.dep, func() ([]auth.User, error) {
		return tx.tx.FindUsers(filter)
	})
}

type sentEmail struct {
	template  string
	recipient email.Address
	data      any
}

type testEmailer struct {
	mutex   *sync.Mutex
	emails  []sentEmail
	testErr error
}

func (e *testEmailer) Send(_ context.Context, template string, to email.Address, data any) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.emails = append(e.emails, sentEmail{
		template:  template,
		recipient: to,
		data:      data,
	})

	return e.testErr
}

func (e *testEmailer) count() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.emails)
}

func (e *testEmailer) last(t *testing.T) sentEmail {
	t.Helper()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.emails) == 0 {
		t.Fatalf("no emails were sent")
	}

	return e.emails[len(e.emails)-1]
}

// lastOf returns the data of the last email sent with the template.
func (e *testEmailer) lastOf(template string) any {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	for i := len(e.emails) - 1; i >= 0; i-- {
		if e.emails[i].template == template {
			return e.emails[i].data
		}
	}

	return nil
}

// assertTemplates checks the sent templates, ignoring order since
// emails are sent concurrently.
func (e *testEmailer) assertTemplates(t *testing.T, want ...string) {
	t.Helper()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	got := make(map[string]int)
	for _, m := range e.emails {
		got[m.template]++
	}

	wantCount := make(map[string]int)
	for _, w := range want {
		wantCount[w]++
	}

	if len(e.emails) != len(want) {
		t.Fatalf("got %d emails %v, want %v", len(e.emails), got, want)
	}

	for k, v := range wantCount {
		if got[k] != v {
			t.Fatalf("got templates %v, want %v", got, want)
		}
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ptr[T any](v T) *T {
	return &v
}
