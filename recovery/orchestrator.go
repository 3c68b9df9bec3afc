package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// Dependencies are the collaborators of an Orchestrator. Backups and Events
// are optional; everything else is required.
type Dependencies struct {
	Configurations  interfaces.ConfigurationStore
	Sessions        interfaces.SessionStore
	Ledger          interfaces.ShareLedger
	Sharer          interfaces.SecretSharer
	Directory       interfaces.GuardianKeyDirectory
	Devices         interfaces.DeviceKeyService
	GuardianStorage interfaces.GuardianStorage
	Notifier        interfaces.NotificationService
	Verifier        interfaces.SignatureVerifier
	Retriever       interfaces.ShareRetriever

	// Backups receives keyspace-backup envelopes. When nil the envelope is
	// handed back in the DistributionResult instead.
	Backups interfaces.BackupDestination
	Events  interfaces.EventSink
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Configurations == nil {
		missing = append(missing, "configurations")
	}
	if d.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if d.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if d.Sharer == nil {
		missing = append(missing, "sharer")
	}
	if d.Directory == nil {
		missing = append(missing, "directory")
	}
	if d.Devices == nil {
		missing = append(missing, "devices")
	}
	if d.GuardianStorage == nil {
		missing = append(missing, "guardian storage")
	}
	if d.Notifier == nil {
		missing = append(missing, "notifier")
	}
	if d.Verifier == nil {
		missing = append(missing, "verifier")
	}
	if d.Retriever == nil {
		missing = append(missing, "retriever")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %v", missing)
	}
	return nil
}

// Orchestrator coordinates share distribution and guardian-approved recovery.
//
// Mutations of one user's configuration and share set are serialized by a
// per-user lock. Approvals of one session are serialized by a per-session
// lock. The user lock is always taken before a session lock.
type Orchestrator struct {
	cfg  Config
	log  *slog.Logger
	deps Dependencies

	sealer *envelope.Sealer
	events interfaces.EventSink

	userLocks    *keyedMutex
	sessionLocks *keyedMutex
	material     *materialVault

	mu      sync.Mutex
	timers  map[string]*time.Timer
	closed  bool
	pending sync.WaitGroup
}

// New validates cfg and deps and returns an Orchestrator. Shares and keys
// live only in this process, so one Orchestrator owns the live sessions of
// its stores.
func New(cfg Config, deps Dependencies, log *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	events := deps.Events
	if events == nil {
		events = discardSink{}
	}

	return &Orchestrator{
		cfg:          cfg,
		log:          log,
		deps:         deps,
		sealer:       envelope.NewSealer(deps.Directory, deps.Devices, cfg.Now),
		events:       events,
		userLocks:    newKeyedMutex(),
		sessionLocks: newKeyedMutex(),
		material:     newMaterialVault(),
		timers:       make(map[string]*time.Timer),
	}, nil
}

// Close stops erasure timers, waits for in-flight notifications and zeroes
// every share and key still held in memory.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()

	o.pending.Wait()
	o.material.eraseAll()
}

func (o *Orchestrator) now() time.Time {
	return o.cfg.Now().UTC()
}

func (o *Orchestrator) emit(ev interfaces.Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.events.Emit(ev)
}

// notifyAsync delivers guardian notifications in the background. Failures are
// logged and never reach the initiator.
func (o *Orchestrator) notifyAsync(session interfaces.RecoverySession) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.pending.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.NotifyTimeout)
		defer cancel()
		if err := o.deps.Notifier.NotifyGuardians(ctx, session); err != nil {
			o.log.Warn("guardian notification failed", "recoveryID", session.RecoveryID, "userID", session.UserID, "err", err)
		}
	}()
}

// scheduleErasure arms a timer that erases the reconstructed key once
// KeyErasureDelay has passed.
func (o *Orchestrator) scheduleErasure(recoveryID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if t, ok := o.timers[recoveryID]; ok {
		t.Stop()
	}
	o.timers[recoveryID] = time.AfterFunc(o.cfg.KeyErasureDelay, func() {
		o.mu.Lock()
		delete(o.timers, recoveryID)
		o.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.NotifyTimeout)
		defer cancel()
		if err := o.eraseRecoveredKey(ctx, recoveryID); err != nil {
			o.log.Error("scheduled key erasure failed", "recoveryID", recoveryID, "err", err)
		}
	})
}

func (o *Orchestrator) cancelErasure(recoveryID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[recoveryID]; ok {
		t.Stop()
		delete(o.timers, recoveryID)
	}
}

// eraseRecoveredKey zeroes the key in memory and clears KeyAvailable.
func (o *Orchestrator) eraseRecoveredKey(ctx context.Context, recoveryID string) error {
	unlock := o.sessionLocks.Lock(recoveryID)
	defer unlock()

	o.material.eraseKey(recoveryID)
	session, err := o.deps.Sessions.GetSession(ctx, recoveryID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !session.KeyAvailable {
		return nil
	}
	session.KeyAvailable = false
	if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	o.log.Info("reconstructed key erased", "recoveryID", recoveryID, "userID", session.UserID)
	return nil
}
