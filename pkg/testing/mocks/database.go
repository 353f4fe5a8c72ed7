package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/types"
)

// MemoryDatabase is an in-memory shared.Database with single-document atomic
// writes. Errors can be injected per method name through FailOn.
type MemoryDatabase struct {
	mu sync.Mutex

	credentials map[string]*types.Credential // credential id -> record
	queues      map[string]map[string]*types.QueueItem
	failedJobs  map[string]*types.FailedJob
	backfill    map[string]*types.BackfillState
	workouts    map[string]*types.Workout
	fcmTokens   map[string][]string

	// FailOn makes the named method return the error, e.g. "SetBackfillState".
	FailOn map[string]error
	// Calls counts invocations per method name.
	Calls map[string]int
}

var _ shared.Database = (*MemoryDatabase)(nil)

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		credentials: map[string]*types.Credential{},
		queues:      map[string]map[string]*types.QueueItem{},
		failedJobs:  map[string]*types.FailedJob{},
		backfill:    map[string]*types.BackfillState{},
		workouts:    map[string]*types.Workout{},
		fcmTokens:   map[string][]string{},
		FailOn:      map[string]error{},
		Calls:       map[string]int{},
	}
}

// enter locks the store and records the call. Callers must unlock.
func (m *MemoryDatabase) enter(method string) error {
	m.mu.Lock()
	m.Calls[method]++
	return m.FailOn[method]
}

// CallCount returns how often method was invoked.
func (m *MemoryDatabase) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

// --- Seeding ---

func (m *MemoryDatabase) PutCredential(c *types.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credentials[c.ID] = &cp
}

func (m *MemoryDatabase) Credential(id string) *types.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (m *MemoryDatabase) PutQueueItem(collection string, item *types.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queues[collection] == nil {
		m.queues[collection] = map[string]*types.QueueItem{}
	}
	m.queues[collection][item.ID] = copyItem(item)
}

func (m *MemoryDatabase) QueueItem(collection, id string) *types.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queues[collection][id]
	if !ok {
		return nil
	}
	return copyItem(item)
}

func (m *MemoryDatabase) FailedJob(id string) *types.FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.failedJobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

func (m *MemoryDatabase) FailedJobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failedJobs)
}

func (m *MemoryDatabase) PutFailedJob(job *types.FailedJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.failedJobs[job.ID] = &cp
}

func (m *MemoryDatabase) Workout(userID, id string) *types.Workout {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workouts[userID+"/"+id]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

func (m *MemoryDatabase) PutFCMTokens(userID string, tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fcmTokens[userID] = tokens
}

func copyItem(item *types.QueueItem) *types.QueueItem {
	cp := *item
	cp.Errors = append([]types.QueueError(nil), item.Errors...)
	return &cp
}

func sortedCredentials(in []*types.Credential) []*types.Credential {
	sort.SliceStable(in, func(i, j int) bool {
		if !in[i].DateCreated.Equal(in[j].DateCreated) {
			return in[i].DateCreated.Before(in[j].DateCreated)
		}
		return in[i].ID < in[j].ID
	})
	return in
}

// --- Credentials ---

func (m *MemoryDatabase) filterCredentials(match func(*types.Credential) bool) []*types.Credential {
	var out []*types.Credential
	for _, c := range m.credentials {
		if match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return sortedCredentials(out)
}

func (m *MemoryDatabase) ListCredentials(ctx context.Context, userID string, provider types.ProviderKind) ([]*types.Credential, error) {
	if err := m.enter("ListCredentials"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	return m.filterCredentials(func(c *types.Credential) bool {
		return c.UserID == userID && c.Provider == provider
	}), nil
}

func (m *MemoryDatabase) ListCredentialsByExternalUser(ctx context.Context, provider types.ProviderKind, externalUserID string) ([]*types.Credential, error) {
	if err := m.enter("ListCredentialsByExternalUser"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	return m.filterCredentials(func(c *types.Credential) bool {
		return c.Provider == provider && c.ExternalUserID == externalUserID
	}), nil
}

func (m *MemoryDatabase) ListExpiringCredentials(ctx context.Context, provider types.ProviderKind, before time.Time) ([]*types.Credential, error) {
	if err := m.enter("ListExpiringCredentials"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	return m.filterCredentials(func(c *types.Credential) bool {
		return c.Provider == provider && c.ExpiresAt < before.UnixMilli()
	}), nil
}

func (m *MemoryDatabase) UpdateCredential(ctx context.Context, userID, credentialID string, data map[string]interface{}) error {
	if err := m.enter("UpdateCredential"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	c, ok := m.credentials[credentialID]
	if !ok || c.UserID != userID {
		return fmt.Errorf("credential %s not found", credentialID)
	}
	for k, v := range data {
		switch k {
		case "access_token":
			c.AccessToken = v.(string)
		case "refresh_token":
			c.RefreshToken = v.(string)
		case "token_type":
			c.TokenType = v.(string)
		case "scope":
			c.Scope = v.(string)
		case "external_user_id":
			c.ExternalUserID = v.(string)
		case "expires_at":
			c.ExpiresAt = v.(int64)
		case "date_refreshed":
			c.DateRefreshed = v.(time.Time)
		case "permissions":
			c.Permissions = append([]string(nil), v.([]string)...)
		case "permissions_last_changed":
			c.PermissionsLastChanged = v.(time.Time)
		default:
			return fmt.Errorf("unknown credential field %q", k)
		}
	}
	return nil
}

func (m *MemoryDatabase) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	if err := m.enter("DeleteCredential"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	delete(m.credentials, credentialID)
	return nil
}

// --- Queues ---

func (m *MemoryDatabase) GetQueueItem(ctx context.Context, collection, id string) (*types.QueueItem, error) {
	if err := m.enter("GetQueueItem"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	item, ok := m.queues[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: not found", collection, id)
	}
	return copyItem(item), nil
}

func (m *MemoryDatabase) CreateQueueItem(ctx context.Context, collection string, item *types.QueueItem) (bool, error) {
	if err := m.enter("CreateQueueItem"); err != nil {
		m.mu.Unlock()
		return false, err
	}
	defer m.mu.Unlock()
	if m.queues[collection] == nil {
		m.queues[collection] = map[string]*types.QueueItem{}
	}
	if _, exists := m.queues[collection][item.ID]; exists {
		return false, nil
	}
	m.queues[collection][item.ID] = copyItem(item)
	return true, nil
}

func (m *MemoryDatabase) matchQueue(collection string, q types.QueueQuery) []*types.QueueItem {
	var out []*types.QueueItem
	for _, item := range m.queues[collection] {
		if q.Matches(item) {
			out = append(out, copyItem(item))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DateCreated.Equal(out[j].DateCreated) {
			return out[i].DateCreated.Before(out[j].DateCreated)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryDatabase) ListQueueItems(ctx context.Context, collection string, q types.QueueQuery) ([]*types.QueueItem, error) {
	if err := m.enter("ListQueueItems"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	out := m.matchQueue(collection, q)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryDatabase) CountQueueItems(ctx context.Context, collection string, q types.QueueQuery) (int64, error) {
	if err := m.enter("CountQueueItems"); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	defer m.mu.Unlock()
	return int64(len(m.matchQueue(collection, q))), nil
}

func (m *MemoryDatabase) RecordQueueFailure(ctx context.Context, collection, id string, entry types.QueueError) error {
	if err := m.enter("RecordQueueFailure"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	item, ok := m.queues[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: not found", collection, id)
	}
	item.RetryCount++
	item.Errors = append(item.Errors, entry)
	return nil
}

func (m *MemoryDatabase) MarkQueueItemProcessed(ctx context.Context, collection, id string, at time.Time) error {
	if err := m.enter("MarkQueueItemProcessed"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	item, ok := m.queues[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: not found", collection, id)
	}
	item.Processed = true
	item.ProcessedAt = at
	return nil
}

// --- Dead letter ---

func (m *MemoryDatabase) MoveToFailedJobs(ctx context.Context, collection, id string, job *types.FailedJob) error {
	if err := m.enter("MoveToFailedJobs"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.queues[collection][id]; !ok {
		return nil
	}
	cp := *job
	m.failedJobs[collection+"_"+id] = &cp
	delete(m.queues[collection], id)
	return nil
}

func (m *MemoryDatabase) ListFailedJobs(ctx context.Context, provider types.ProviderKind, limit int) ([]*types.FailedJob, error) {
	if err := m.enter("ListFailedJobs"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	var out []*types.FailedJob
	for _, job := range m.failedJobs {
		if provider == "" || job.Provider == provider {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDatabase) CountFailedJobs(ctx context.Context, provider types.ProviderKind) (int64, error) {
	if err := m.enter("CountFailedJobs"); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.failedJobs {
		if provider == "" || job.Provider == provider {
			n++
		}
	}
	return n, nil
}

// --- Backfill ---

func backfillKey(userID string, provider types.ProviderKind) string {
	return userID + "/" + string(provider)
}

func (m *MemoryDatabase) GetBackfillState(ctx context.Context, userID string, provider types.ProviderKind) (*types.BackfillState, error) {
	if err := m.enter("GetBackfillState"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	state, ok := m.backfill[backfillKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (m *MemoryDatabase) SetBackfillState(ctx context.Context, state *types.BackfillState) error {
	if err := m.enter("SetBackfillState"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	cp := *state
	m.backfill[backfillKey(state.UserID, state.Provider)] = &cp
	return nil
}

// --- Workouts ---

func (m *MemoryDatabase) SetWorkout(ctx context.Context, workout *types.Workout) error {
	if err := m.enter("SetWorkout"); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	cp := *workout
	m.workouts[workout.UserID+"/"+workout.ID] = &cp
	return nil
}

// --- Users ---

func (m *MemoryDatabase) GetUserFCMTokens(ctx context.Context, userID string) ([]string, error) {
	if err := m.enter("GetUserFCMTokens"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	return append([]string(nil), m.fcmTokens[userID]...), nil
}
