package license

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"licensegate/internal/infrastructure"
	"licensegate/internal/security"
)

// CheckOptions adjusts a single license check.
type CheckOptions struct {
	// ForceOnline makes the check block on a fresh server exchange even when
	// the stored record would be usable offline.
	ForceOnline bool
}

// Engine orchestrates the store, the transport, and the policy to answer
// "is this credential currently valid". It is safe for concurrent use: store
// mutations are serialized, writes are last-write-wins by validation recency,
// and concurrent online validations for the same key are coalesced into one
// network exchange.
type Engine struct {
	store       Store
	transport   Validator
	fingerprint *security.FingerprintManager
	logger      *slog.Logger
	metrics     *Metrics

	// mu serializes load-compare-write cycles against the store so a slow
	// background validation cannot overwrite a newer foreground result.
	mu     sync.Mutex
	flight singleflight.Group

	now       func() time.Time
	bgTimeout time.Duration
	bg        sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches OpenTelemetry metrics to the engine.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger substitutes the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.With(slog.String("component", "license_engine")) }
}

// WithBackgroundTimeout bounds the opportunistic background revalidation.
func WithBackgroundTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.bgTimeout = d }
}

// NewEngine creates a license engine over the given store and transport.
func NewEngine(store Store, transport Validator, fingerprint *security.FingerprintManager, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		transport:   transport,
		fingerprint: fingerprint,
		logger:      infrastructure.GetLogger().With(slog.String("component", "license_engine")),
		now:         time.Now,
		bgTimeout:   DefaultValidationTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close waits for any in-flight background revalidation to finish. It does
// not invalidate the engine; it exists so shutdown does not orphan a store
// write mid-flight.
func (e *Engine) Close() {
	e.bg.Wait()
}

// Check answers whether the stored credential is currently valid. All
// validation-domain outcomes (expired, revoked, offline-grace-exceeded,
// never-activated) come back as data; the returned error is non-nil only
// when an explicit store write or clear fails.
func (e *Engine) Check(ctx context.Context, opts CheckOptions) (Outcome, error) {
	start := time.Now()
	rec := e.loadRecord(ctx)
	now := e.now()

	var out Outcome
	var err error

	if !opts.ForceOnline && Decide(rec, now) == PathCachedValid {
		// Cached path: answer immediately from the local record and refresh
		// online without blocking the caller.
		e.scheduleBackgroundRefresh(rec.Key)
		out = OfflineOutcome(rec, now)
		e.logDebug(ctx, "check_cached", "license check answered from local record",
			slog.String("status", string(out.Status)),
			slog.Bool("is_valid", out.IsValid),
		)
	} else {
		out, err = e.checkOnline(ctx, rec)
	}

	e.recordCheck(ctx, out, time.Since(start))
	return out, err
}

// Activate validates a new key against the server and creates the record.
// Activation always requires connectivity: there is no offline activation
// path.
func (e *Engine) Activate(ctx context.Context, key string) (Outcome, error) {
	key = NormalizeKey(key)
	if err := ValidateKeyFormat(key); err != nil {
		return Outcome{
			IsValid: false,
			Status:  StatusUnactivated,
			Message: err.Error(),
		}, nil
	}

	resp, err := e.validate(ctx, key)
	now := e.now()
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.logLicenseWarn(ctx, "activation_rejected", "license key rejected during activation", key)
			return Outcome{
				IsValid: false,
				Status:  StatusUnactivated,
				Message: "the license key was rejected by the license server",
			}, nil
		}
		e.logLicenseWarn(ctx, "activation_offline", "license server unreachable during activation", key)
		return Outcome{
			IsValid:    false,
			Status:     StatusUnactivated,
			Message:    "the license server could not be reached; activation requires connectivity",
			WasOffline: true,
		}, nil
	}

	if resp.IsRevoked {
		return Outcome{
			IsValid: false,
			Status:  StatusRevoked,
			Message: messageOr(resp.Message, "this license key has been revoked"),
		}, nil
	}

	if !resp.IsValid {
		return Outcome{
			IsValid: false,
			Status:  StatusExpired,
			Message: messageOr(resp.Message, "the license key is not valid"),
		}, nil
	}

	rec := &Record{
		Key:             key,
		ExpiresOn:       resp.ExpiresOn,
		LastValidatedAt: now,
		MachineID:       e.machineID(),
		GracePeriodMs:   resp.GracePeriodMs,
	}

	e.mu.Lock()
	putErr := e.store.Put(rec)
	e.mu.Unlock()
	if putErr != nil {
		e.logError(ctx, "activation_store", "failed to persist activated license",
			slog.String("error", putErr.Error()),
		)
		return Outcome{}, putErr
	}

	e.logLicenseInfo(ctx, "activation_success", "license activated", key,
		slog.Time("expires_on", resp.ExpiresOn),
	)
	if e.metrics != nil {
		e.metrics.RecordActivation(ctx, true)
	}

	return Outcome{
		IsValid: true,
		Status:  StatusActive,
		Message: messageOr(resp.Message, "license activated"),
	}, nil
}

// Deactivate destroys the stored record. It is the user-initiated side of
// revocation and is idempotent.
func (e *Engine) Deactivate(ctx context.Context) error {
	e.mu.Lock()
	err := e.store.Clear()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.logInfo(ctx, "deactivation", "license record cleared")
	return nil
}

// Snapshot returns the stored record (nil when absent) and its derived
// status, without touching the network. Storage read failures count as
// absent.
func (e *Engine) Snapshot(ctx context.Context) (*Record, Status) {
	rec := e.loadRecord(ctx)
	return rec, ComputeStatus(rec, e.now())
}

// Renewal derives renewal guidance from the stored record.
func (e *Engine) Renewal(ctx context.Context) RenewalInfo {
	rec := e.loadRecord(ctx)
	return ComputeRenewalInfo(rec, e.now())
}

// loadRecord reads the store, treating a storage failure as "absent": a
// broken medium must fail closed, not open.
func (e *Engine) loadRecord(ctx context.Context) *Record {
	rec, err := e.store.Get()
	if err != nil {
		e.logWarn(ctx, "store_read", "license store unreadable, treating record as absent",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return rec
}

// checkOnline performs the mandatory blocking exchange: no record, expired
// record, grace window crossed, or an explicit ForceOnline.
func (e *Engine) checkOnline(ctx context.Context, rec *Record) (Outcome, error) {
	key := ""
	if rec != nil {
		key = rec.Key
	}

	resp, err := e.validate(ctx, key)
	now := e.now()

	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// An authoritative rejection never falls back offline and clears
			// any local record.
			e.mu.Lock()
			clearErr := e.store.Clear()
			e.mu.Unlock()
			out := Outcome{
				IsValid: false,
				Status:  StatusUnactivated,
				Message: "the license key was rejected by the license server",
			}
			if clearErr != nil {
				return out, clearErr
			}
			e.logLicenseWarn(ctx, "check_unauthorized", "license key rejected, local record cleared", key)
			return out, nil
		}

		// Unreachable or malformed: fall back to the offline branch of the
		// policy using the existing record. Validity is never fabricated.
		out := OfflineOutcome(rec, now)
		e.logWarn(ctx, "check_offline_fallback", "license server unreachable, applying offline policy",
			slog.String("status", string(out.Status)),
			slog.Bool("is_valid", out.IsValid),
			slog.String("error", err.Error()),
		)
		if e.metrics != nil {
			e.metrics.RecordOfflineFallback(ctx, out.IsValid)
		}
		return out, nil
	}

	// Revocation takes precedence over every other server field.
	if resp.IsRevoked {
		e.mu.Lock()
		clearErr := e.store.Clear()
		e.mu.Unlock()
		out := Outcome{
			IsValid: false,
			Status:  StatusRevoked,
			Message: messageOr(resp.Message, "this license has been revoked"),
		}
		if clearErr != nil {
			return out, clearErr
		}
		e.logLicenseWarn(ctx, "check_revoked", "license revoked by server, local record destroyed", key)
		if e.metrics != nil {
			e.metrics.RecordRevocation(ctx)
		}
		return out, nil
	}

	// An invalid answer is authoritative but not destructive: the record is
	// left untouched so the next check blocks on the server again instead of
	// caching validity the server just denied.
	if !resp.IsValid {
		return Outcome{
			IsValid: false,
			Status:  StatusExpired,
			Message: messageOr(resp.Message, "the license is no longer valid"),
		}, nil
	}

	if rec != nil {
		fresh := &Record{
			Key:             rec.Key,
			ExpiresOn:       resp.ExpiresOn,
			LastValidatedAt: now,
			MachineID:       rec.MachineID,
			GracePeriodMs:   resp.GracePeriodMs,
		}
		if putErr := e.applyResponse(fresh); putErr != nil {
			return Outcome{}, putErr
		}
	}

	return Outcome{
		IsValid: true,
		Status:  StatusActive,
		Message: messageOr(resp.Message, "license confirmed by the license server"),
	}, nil
}

// validate coalesces concurrent exchanges for the same key into a single
// round-trip shared by all waiters.
func (e *Engine) validate(ctx context.Context, key string) (*ServerResponse, error) {
	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		return e.transport.Validate(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ServerResponse), nil
}

// applyResponse writes a refreshed record, but only if it is still the
// freshest: the comparison runs against the live store record, not a
// snapshot, so a response that raced a revocation or a newer validation is
// dropped instead of resurrecting stale state.
func (e *Engine) applyResponse(fresh *Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.store.Get()
	if err == nil {
		if cur == nil || cur.Key != fresh.Key {
			// Cleared (revoked/deactivated) or replaced since this exchange
			// started; do not resurrect.
			return nil
		}
		if cur.LastValidatedAt.After(fresh.LastValidatedAt) {
			return nil
		}
		if fresh.MachineID == "" {
			fresh.MachineID = cur.MachineID
		}
	}
	return e.store.Put(fresh)
}

// scheduleBackgroundRefresh fires a non-blocking revalidation for the cached
// path. Its errors are swallowed into logs; its only effect is a possible
// later store update (or a destructive clear on revocation).
func (e *Engine) scheduleBackgroundRefresh(key string) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.bgTimeout)
		defer cancel()

		resp, err := e.validate(ctx, key)
		now := e.now()
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				e.mu.Lock()
				clearErr := e.store.Clear()
				e.mu.Unlock()
				if clearErr != nil {
					e.logError(ctx, "background_clear", "failed to clear rejected license record",
						slog.String("error", clearErr.Error()),
					)
				}
				return
			}
			e.logDebug(ctx, "background_refresh", "background revalidation failed, keeping cached record",
				slog.String("error", err.Error()),
			)
			return
		}

		if resp.IsRevoked {
			e.mu.Lock()
			clearErr := e.store.Clear()
			e.mu.Unlock()
			if clearErr != nil {
				e.logError(ctx, "background_clear", "failed to clear revoked license record",
					slog.String("error", clearErr.Error()),
				)
			}
			if e.metrics != nil {
				e.metrics.RecordRevocation(ctx)
			}
			return
		}

		// Never record an invalid answer as a fresh validation. The record is
		// kept as is; once its grace window runs out the foreground path
		// blocks on the server and surfaces the denial.
		if !resp.IsValid {
			e.logDebug(ctx, "background_refresh", "server reported the license invalid, keeping cached record for a blocking recheck")
			return
		}

		fresh := &Record{
			Key:             key,
			ExpiresOn:       resp.ExpiresOn,
			LastValidatedAt: now,
			GracePeriodMs:   resp.GracePeriodMs,
		}
		if err := e.applyResponse(fresh); err != nil {
			e.logError(ctx, "background_refresh", "failed to persist background revalidation",
				slog.String("error", err.Error()),
			)
			return
		}
		if e.metrics != nil {
			e.metrics.RecordBackgroundRefresh(ctx)
		}
	}()
}

func (e *Engine) machineID() string {
	if e.fingerprint == nil {
		return ""
	}
	fp, err := e.fingerprint.Generate()
	if err != nil {
		return ""
	}
	return fp.Fingerprint
}

func (e *Engine) recordCheck(ctx context.Context, out Outcome, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordCheck(ctx, out, elapsed)
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
