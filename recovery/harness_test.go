package recovery

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/device"
	"github.com/ruteri/guardian-recovery/directory"
	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/secretsharing"
	"github.com/ruteri/guardian-recovery/storage"
	"github.com/ruteri/guardian-recovery/verifier"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const (
	testUser   = "alice"
	testDevice = "alice-phone"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingSharer counts reconstructions and can be told to fail them.
type countingSharer struct {
	inner           *secretsharing.Shamir
	reconstructs    *atomic.Int64
	failReconstruct *atomic.Bool
}

func (s *countingSharer) Split(secret []byte, threshold, totalShares int) ([]interfaces.Share, error) {
	return s.inner.Split(secret, threshold, totalShares)
}

func (s *countingSharer) Reconstruct(shares []interfaces.Share) ([]byte, error) {
	s.reconstructs.Inc()
	if s.failReconstruct.Load() {
		return nil, secretsharing.ErrInconsistentShares
	}
	return s.inner.Reconstruct(shares)
}

type recordingNotifier struct {
	mu       sync.Mutex
	sessions []interfaces.RecoverySession
	err      error
}

func (n *recordingNotifier) NotifyGuardians(_ context.Context, session interfaces.RecoverySession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, session)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

type testGuardian struct {
	id         string
	signingKey ed25519.PrivateKey
	encKey     []byte
}

type harness struct {
	t         *testing.T
	orch      *Orchestrator
	store     *storage.MemoryStore
	clock     *fakeClock
	events    *EventRecorder
	sharer    *countingSharer
	notifier  *recordingNotifier
	device    *device.StaticKeyService
	dir       *directory.Static
	registry  *verifier.Registry
	retriever *envelope.KeyringRetriever

	cfg  Config
	deps Dependencies
	log  *slog.Logger

	guardians map[string]*testGuardian
}

type harnessOption func(*Config, *Dependencies)

func newHarness(t *testing.T, guardianCount int, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		store:     storage.NewMemoryStore(),
		clock:     newFakeClock(),
		events:    &EventRecorder{},
		notifier:  &recordingNotifier{},
		dir:       directory.NewStatic(),
		registry:  verifier.NewRegistry(testLogger()),
		guardians: make(map[string]*testGuardian),
		sharer: &countingSharer{
			inner:           secretsharing.NewShamir(),
			reconstructs:    atomic.NewInt64(0),
			failReconstruct: atomic.NewBool(false),
		},
	}

	dev, err := device.NewRandomKeyService(testDevice)
	require.NoError(t, err)
	h.device = dev

	h.retriever = envelope.NewKeyringRetriever(h.store, h.store)
	for i := 1; i <= guardianCount; i++ {
		h.newGuardian(fmt.Sprintf("g%d", i))
	}

	cfg := DefaultConfig()
	cfg.Now = h.clock.Now
	deps := Dependencies{
		Configurations:  h.store,
		Sessions:        h.store,
		Ledger:          h.store,
		Sharer:          h.sharer,
		Directory:       h.dir,
		Devices:         h.device,
		GuardianStorage: h.store,
		Notifier:        h.notifier,
		Verifier:        h.registry,
		Retriever:       h.retriever,
		Events:          h.events,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h.cfg, h.deps, h.log = cfg, deps, testLogger()
	h.start()
	return h
}

func (h *harness) start() {
	h.t.Helper()
	orch, err := New(h.cfg, h.deps, h.log)
	require.NoError(h.t, err)
	h.t.Cleanup(orch.Close)
	h.orch = orch
}

// restart replaces the orchestrator with a new one over the same stores,
// losing everything held in memory.
func (h *harness) restart() {
	h.t.Helper()
	h.orch.Close()
	h.start()
}

func (h *harness) newGuardian(id string) *testGuardian {
	h.t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(h.t, err)
	encPriv, encPub, err := cryptoutils.GenerateGuardianKeyPair()
	require.NoError(h.t, err)

	require.NoError(h.t, h.registry.RegisterEd25519(id, pub))
	require.NoError(h.t, h.dir.Add(id, encPub))

	h.retriever.AddKey(id, encPriv)

	g := &testGuardian{id: id, signingKey: priv, encKey: encPriv}
	h.guardians[id] = g
	return g
}

func (h *harness) guardianIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("g%d", i+1)
	}
	return ids
}

// setup configures testUser with the first guardianCount guardians and
// distributes a fresh secret, which is returned.
func (h *harness) setup(threshold, totalShares, guardianCount int) []byte {
	h.t.Helper()
	ctx := context.Background()

	_, err := h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{
		Threshold:   threshold,
		TotalShares: totalShares,
		GuardianIDs: h.guardianIDs(guardianCount),
	})
	require.NoError(h.t, err)

	secret := randomSecret(h.t)
	_, err = h.orch.DistributeKeyShards(ctx, testUser, append([]byte{}, secret...), nil)
	require.NoError(h.t, err)
	return secret
}

func (h *harness) initiate() string {
	h.t.Helper()
	res, err := h.orch.InitiateRecovery(context.Background(), testUser, testDevice)
	require.NoError(h.t, err)
	return res.RecoveryID
}

func (h *harness) sign(recoveryID, guardianID string) []byte {
	h.t.Helper()
	session, err := h.store.GetSession(context.Background(), recoveryID)
	require.NoError(h.t, err)
	return verifier.SignEd25519(h.guardians[guardianID].signingKey, session, guardianID)
}

func (h *harness) approve(recoveryID, guardianID string) (ApprovalResult, error) {
	h.t.Helper()
	return h.orch.ApproveRecovery(context.Background(), recoveryID, guardianID, h.sign(recoveryID, guardianID))
}

func randomSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

type failingBackups struct{}

func (failingBackups) StoreBackup(context.Context, interfaces.EncryptedShareEnvelope) (string, error) {
	return "", errors.New("backup backend down")
}

// failingGuardianStorage rejects envelope writes for one guardian.
type failingGuardianStorage struct {
	interfaces.GuardianStorage
	guardianID string
}

func (f failingGuardianStorage) Store(ctx context.Context, guardianID interfaces.GuardianID, env interfaces.EncryptedShareEnvelope, owner interfaces.UserID) error {
	if guardianID == f.guardianID {
		return errors.New("guardian storage unavailable")
	}
	return f.GuardianStorage.Store(ctx, guardianID, env, owner)
}

// failingLedger rejects every ledger write.
type failingLedger struct {
	interfaces.ShareLedger
}

func (failingLedger) ReplaceShares(context.Context, []interfaces.LedgerEntry, []string, time.Time) (int, error) {
	return 0, errors.New("ledger unavailable")
}

func (failingLedger) RevokeShares(context.Context, []string, time.Time) (int, error) {
	return 0, errors.New("ledger unavailable")
}

// failingSessionUpdates rejects every session update.
type failingSessionUpdates struct {
	interfaces.SessionStore
}

func (failingSessionUpdates) UpdateSession(context.Context, interfaces.RecoverySession) error {
	return errors.New("session store unavailable")
}
