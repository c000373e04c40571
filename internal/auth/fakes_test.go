package auth

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/notify"
	"github.com/winnersop/winnersop-api/internal/repository"
)

// --- インメモリのストア ---

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: map[string]*model.Account{}}
}

func (r *memAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *memAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) CreateIfAbsent(_ context.Context, account *model.Account) (*model.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == account.Email {
			cp := *a
			return &cp, false, nil
		}
	}
	stored := *account
	r.accounts[stored.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func (r *memAccountRepo) MarkVerified(_ context.Context, id string, loginAt time.Time) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	a.IsVerified = true
	a.LastLogin = &loginAt
	a.UpdatedAt = loginAt
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) RecordSocialLogin(_ context.Context, id, provider string, loginAt time.Time) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	a.IsVerified = true
	a.LastLogin = &loginAt
	if provider != "" {
		a.AuthProvider = provider
	}
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) CompleteRegistration(_ context.Context, id string, fields model.RegistrationFields, now time.Time) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || !a.IsNewUser() {
		return nil, nil
	}
	a.FirstName = fields.FirstName
	a.LastName = fields.LastName
	a.Country = fields.Country
	a.AcademicLevel = fields.AcademicLevel
	if fields.TargetProgram != nil {
		a.TargetProgram = *fields.TargetProgram
	}
	if fields.TargetUniversity != nil {
		a.TargetUniversity = *fields.TargetUniversity
	}
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

type memOTPRepo struct {
	mu      sync.Mutex
	records []*model.OTP
}

func newMemOTPRepo() *memOTPRepo {
	return &memOTPRepo{}
}

func (r *memOTPRepo) Issue(_ context.Context, otp *model.OTP, cooldownSince time.Time) (*repository.IssueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *model.OTP
	for _, rec := range r.records {
		if rec.UserID == otp.UserID && !rec.CreatedAt.Before(cooldownSince) {
			if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
				latest = rec
			}
		}
	}
	if latest != nil {
		return &repository.IssueResult{Issued: false, LatestCreatedAt: latest.CreatedAt}, nil
	}

	var invalidated int64
	for _, rec := range r.records {
		if rec.UserID == otp.UserID && !rec.IsUsed {
			rec.IsUsed = true
			invalidated++
		}
	}
	stored := *otp
	r.records = append(r.records, &stored)
	return &repository.IssueResult{Issued: true, Invalidated: invalidated}, nil
}

func (r *memOTPRepo) FindLatestUnused(_ context.Context, userID string) (*model.OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.OTP
	for _, rec := range r.records {
		if rec.UserID == userID && !rec.IsUsed {
			if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
				latest = rec
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memOTPRepo) MarkUsed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id && !rec.IsUsed {
			rec.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (r *memOTPRepo) ConsumeAttempt(_ context.Context, id string, maxAttempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id && !rec.IsUsed && rec.Attempts < maxAttempts {
			rec.Attempts++
			return true, nil
		}
	}
	return false, nil
}

// attemptsOf は指定OTPの試行回数を返す。
func (r *memOTPRepo) attemptsOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec.Attempts
		}
	}
	return -1
}

func (r *memOTPRepo) DeleteStale(_ context.Context, now, usedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*model.OTP
	var deleted int64
	for _, rec := range r.records {
		if rec.ExpiresAt.Before(now) || (rec.IsUsed && rec.CreatedAt.Before(usedBefore)) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

// unusedFor はアカウントの未使用OTP件数を返す。
func (r *memOTPRepo) unusedFor(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.UserID == userID && !rec.IsUsed {
			n++
		}
	}
	return n
}

func (r *memOTPRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// --- モック定義 ---

type mockNotifier struct {
	mu     sync.Mutex
	sent   []notify.Message
	sendFn func(ctx context.Context, msg notify.Message) error
}

func (n *mockNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	fn := n.sendFn
	n.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return nil
}

func (n *mockNotifier) last() notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return notify.Message{}
	}
	return n.sent[len(n.sent)-1]
}

type recordingMetrics struct {
	mu            sync.Mutex
	issued        int
	rateLimited   int
	deliveryFails int
	verifications map[string]int
	swept         int64
	tokens        map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{verifications: map[string]int{}, tokens: map[string]int{}}
}

func (m *recordingMetrics) RecordOTPIssued()                  { m.mu.Lock(); m.issued++; m.mu.Unlock() }
func (m *recordingMetrics) RecordOTPRateLimited()             { m.mu.Lock(); m.rateLimited++; m.mu.Unlock() }
func (m *recordingMetrics) RecordOTPDeliveryFailure()         { m.mu.Lock(); m.deliveryFails++; m.mu.Unlock() }
func (m *recordingMetrics) RecordNotifyLatency(time.Duration) {}
func (m *recordingMetrics) RecordOTPVerification(result string) {
	m.mu.Lock()
	m.verifications[result]++
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordOTPSwept(count int64) { m.mu.Lock(); m.swept += count; m.mu.Unlock() }
func (m *recordingMetrics) RecordTokensIssued(entry string) {
	m.mu.Lock()
	m.tokens[entry]++
	m.mu.Unlock()
}

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sortedReasons はテスト失敗時の表示用にメトリクスのキーを並べる。
func sortedReasons(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func randReader() io.Reader {
	return rand.Reader
}
