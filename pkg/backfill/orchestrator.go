// Package backfill imports a user's history from a provider over an arbitrary
// date range, one provider-legal window at a time.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/types"
)

const dateLayout = "2006-01-02"

// Store is the subset of shared.Database the orchestrator uses.
type Store interface {
	GetBackfillState(ctx context.Context, userID string, provider types.ProviderKind) (*types.BackfillState, error)
	SetBackfillState(ctx context.Context, state *types.BackfillState) error
	UpdateCredential(ctx context.Context, userID, credentialID string, data map[string]interface{}) error
	CreateQueueItem(ctx context.Context, collection string, item *types.QueueItem) (bool, error)
	GetUserFCMTokens(ctx context.Context, userID string) ([]string, error)
}

// TokenResolver yields a freshly valid credential or a typed failure.
type TokenResolver interface {
	ResolveForUser(ctx context.Context, userID string, provider types.ProviderKind) (*types.Credential, error)
}

// ProviderLookup resolves a provider adapter.
type ProviderLookup interface {
	Get(kind types.ProviderKind) (providers.Provider, error)
}

// Request is one caller-initiated backfill.
type Request struct {
	UserID   string
	Provider types.ProviderKind
	Start    time.Time
	End      time.Time
}

// Result describes a completed backfill.
type Result struct {
	Windows  int            `json:"windows"`
	Skipped  []types.Window `json:"skipped,omitempty"`
	Enqueued int            `json:"enqueued"`
}

type Orchestrator struct {
	store     Store
	tokens    TokenResolver
	providers ProviderLookup
	notifier  shared.NotificationService
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(store Store, tokens TokenResolver, registry ProviderLookup, notifier shared.NotificationService, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = shared.DefaultBackfillTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		tokens:    tokens,
		providers: registry,
		notifier:  notifier,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Backfill validates the request, enforces the provider cooldown and
// permissions, then walks the windows strictly in order. A window that
// predates the provider's earliest allowed start is skipped; a duplicate or an
// upstream failure aborts the remaining windows. Backfill state is only
// written once every window has been attempted.
func (o *Orchestrator) Backfill(ctx context.Context, req Request) (*Result, error) {
	if req.Start.IsZero() || req.End.IsZero() || req.Start.After(req.End) {
		return nil, failure.New(failure.KindInvalidRange, "Start date must not be after end date")
	}
	adapter, err := o.providers.Get(req.Provider)
	if err != nil {
		return nil, failure.New(failure.KindInvalidRequest, "Unsupported provider %q", req.Provider)
	}
	cfg := adapter.Config()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger := o.logger.With("user_id", req.UserID, "provider", req.Provider)

	if err := o.checkCooldown(ctx, req, cfg); err != nil {
		return nil, err
	}

	cred, err := o.tokens.ResolveForUser(ctx, req.UserID, req.Provider)
	if err != nil {
		return nil, err
	}

	if err := o.checkPermissions(ctx, adapter, cred); err != nil {
		return nil, err
	}

	windows := SplitWindows(req.Start, req.End, cfg.MaxWindowSpan)
	result := &Result{Windows: len(windows)}
	logger.Info("Starting backfill", "start", req.Start.Format(dateLayout), "end", req.End.Format(dateLayout), "windows", len(windows))

	for i, w := range windows {
		wlogger := logger.With("window", i+1, "window_start", w.Start.Format(time.RFC3339), "window_end", w.End.Format(time.RFC3339))

		workouts, err := adapter.RequestBackfill(ctx, cred, w)
		if err != nil {
			switch failure.KindOf(err) {
			case failure.KindRangePredatesMinimum:
				wlogger.Warn("Window predates earliest allowed start, skipping", "error", err)
				result.Skipped = append(result.Skipped, w)
				continue
			case failure.KindDuplicateBackfill:
				wlogger.Warn("Duplicate backfill, aborting", "error", err)
				return nil, err
			case failure.KindProviderError:
				wlogger.Error("Provider rejected backfill window", "error", err)
				return nil, windowFailure(err, w)
			default:
				wlogger.Error("Backfill window failed", "error", err)
				return nil, err
			}
		}

		n, err := o.enqueue(ctx, cfg, cred, workouts)
		if err != nil {
			wlogger.Error("Enqueueing backfilled workouts failed", "error", err)
			return nil, err
		}
		result.Enqueued += n
		wlogger.Info("Backfill window requested", "workouts", len(workouts), "enqueued", n)
	}

	o.complete(ctx, req, result, logger)
	return result, nil
}

func (o *Orchestrator) checkCooldown(ctx context.Context, req Request, cfg providers.Config) error {
	state, err := o.store.GetBackfillState(ctx, req.UserID, req.Provider)
	if err != nil {
		return failure.Wrap(failure.KindInternal, err, "failed to read backfill state")
	}
	if cfg.Cooldown == nil {
		return nil
	}
	next := cfg.Cooldown.NextAvailable(state)
	if !next.IsZero() && o.now().Before(next) {
		return failure.New(failure.KindCooldownActive,
			"History import is on cooldown. Next import available on %s", next.UTC().Format(dateLayout))
	}
	return nil
}

// checkPermissions fetches and persists the permission list when the
// credential has none stored, then requires every configured permission.
func (o *Orchestrator) checkPermissions(ctx context.Context, adapter providers.Provider, cred *types.Credential) error {
	required := adapter.Config().RequiredPermissions
	if len(required) == 0 {
		return nil
	}

	if cred.Permissions == nil {
		perms, err := adapter.FetchPermissions(ctx, cred)
		if err != nil {
			return fmt.Errorf("fetch permissions: %w", err)
		}
		now := o.now()
		if err := o.store.UpdateCredential(ctx, cred.UserID, cred.ID, map[string]interface{}{
			"permissions":              perms,
			"permissions_last_changed": now,
		}); err != nil {
			o.logger.Warn("Failed to persist permissions", "user_id", cred.UserID, "error", err)
		}
		cred.Permissions = perms
		cred.PermissionsLastChanged = now
	}

	if missing := cred.MissingPermissions(required); len(missing) > 0 {
		return failure.New(failure.KindMissingPermissions, "Missing required permissions: %s", strings.Join(missing, ", "))
	}
	return nil
}

func windowFailure(err error, w types.Window) error {
	fe, _ := failure.As(err)
	out := *fe
	out.Message = fmt.Sprintf("Provider error for window %s to %s", w.Start.UTC().Format(dateLayout), w.End.UTC().Format(dateLayout))
	out.Cause = err
	return &out
}

// enqueue turns pull-based window results into queue items keyed by workout,
// so re-running a window never duplicates work.
func (o *Orchestrator) enqueue(ctx context.Context, cfg providers.Config, cred *types.Credential, workouts []providers.BackfillWorkout) (int, error) {
	created := 0
	for _, w := range workouts {
		ok, err := o.store.CreateQueueItem(ctx, cfg.QueueCollection, &types.QueueItem{
			ID:             types.WorkoutDocID(cfg.Kind, w.WorkoutID),
			Provider:       cfg.Kind,
			ExternalUserID: cred.ExternalUserID,
			WorkoutID:      w.WorkoutID,
			FileURL:        w.FileURL,
			DateCreated:    o.now(),
		})
		if err != nil {
			return created, fmt.Errorf("enqueue workout %s: %w", w.WorkoutID, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// complete records the import and notifies the user. Neither step can fail
// the backfill: the provider has already accepted the requests.
func (o *Orchestrator) complete(ctx context.Context, req Request, result *Result, logger *slog.Logger) {
	state := &types.BackfillState{
		UserID:         req.UserID,
		Provider:       req.Provider,
		LastImport:     o.now(),
		ProcessedCount: result.Enqueued,
	}
	if err := o.store.SetBackfillState(ctx, state); err != nil {
		logger.Error("Failed to persist backfill state", "error", err)
	}
	logger.Info("Backfill complete", "windows", result.Windows, "skipped", len(result.Skipped), "enqueued", result.Enqueued)

	if o.notifier == nil {
		return
	}
	tokens, err := o.store.GetUserFCMTokens(ctx, req.UserID)
	if err != nil {
		logger.Warn("Failed to load push tokens", "error", err)
		return
	}
	title := "History import started"
	body := fmt.Sprintf("Your %s history is on its way.", providerTitle(req.Provider))
	if err := o.notifier.SendPushNotification(ctx, req.UserID, title, body, tokens, map[string]string{
		"type":     "backfill_complete",
		"provider": string(req.Provider),
	}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Failed to send backfill notification", "error", err)
	}
}

func providerTitle(kind types.ProviderKind) string {
	switch kind {
	case types.ProviderCoros:
		return "COROS"
	default:
		s := string(kind)
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}
