package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantarena/arena/internal/fraud"
)

// MemoryStore is a concurrency-safe in-memory fraud.Store. Entities are
// cloned through JSON on both read and write so callers never share state
// with the store, matching the isolation of the database-backed store.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]*fraud.BehaviorProfile
	similarities  map[string]*fraud.SimilarityRecord
	scores        map[string]*fraud.SuspicionScore
	alerts        map[uuid.UUID]*fraud.FraudAlert
	devices       []*fraud.DeviceRecord
	payments      []*fraud.PaymentRecord
	entries       []*fraud.CompetitionEntry
	registrations []*fraud.RegistrationRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]*fraud.BehaviorProfile),
		similarities: make(map[string]*fraud.SimilarityRecord),
		scores:       make(map[string]*fraud.SuspicionScore),
		alerts:       make(map[uuid.UUID]*fraud.FraudAlert),
	}
}

func clone[T any](src *T) *T {
	raw, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	dst := new(T)
	if err := json.Unmarshal(raw, dst); err != nil {
		panic(err)
	}
	return dst
}

// --- ProfileStore ---

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*fraud.BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fraud.ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) SaveProfile(ctx context.Context, p *fraud.BehaviorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.UserID]; ok && existing.Version != p.Version {
		return fraud.ErrConflict
	}
	p.Version++
	s.profiles[p.UserID] = clone(p)
	return nil
}

func (s *MemoryStore) ListActiveProfiles(ctx context.Context, since time.Time) ([]*fraud.BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.BehaviorProfile
	for _, p := range s.profiles {
		if !p.LastTradeAt().Before(since) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- SimilarityStore ---

func (s *MemoryStore) GetPair(ctx context.Context, userID1, userID2 string) (*fraud.SimilarityRecord, error) {
	u1, u2 := fraud.PairKey(userID1, userID2)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.similarities[u1+"|"+u2]
	if !ok {
		return nil, fraud.ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) SavePair(ctx context.Context, record *fraud.SimilarityRecord) error {
	record.UserID1, record.UserID2 = fraud.PairKey(record.UserID1, record.UserID2)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.similarities[record.UserID1+"|"+record.UserID2] = clone(record)
	return nil
}

func (s *MemoryStore) ListAboveThreshold(ctx context.Context, threshold float64) ([]*fraud.SimilarityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.SimilarityRecord
	for _, rec := range s.similarities {
		if rec.SimilarityScore >= threshold {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SimilarityScore > out[j].SimilarityScore })
	return out, nil
}

// --- ScoreStore ---

func (s *MemoryStore) GetScore(ctx context.Context, userID string) (*fraud.SuspicionScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[userID]
	if !ok {
		return nil, fraud.ErrNotFound
	}
	return clone(score), nil
}

func (s *MemoryStore) SaveScore(ctx context.Context, score *fraud.SuspicionScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.scores[score.UserID]; ok && existing.Version != score.Version {
		return fraud.ErrConflict
	}
	score.Version++
	s.scores[score.UserID] = clone(score)
	return nil
}

// --- AlertStore ---

func (s *MemoryStore) GetAlert(ctx context.Context, id uuid.UUID) (*fraud.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, fraud.ErrNotFound
	}
	return clone(alert), nil
}

func (s *MemoryStore) SaveAlert(ctx context.Context, alert *fraud.FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.alerts[alert.ID]; ok && existing.Version != alert.Version {
		return fraud.ErrConflict
	}
	alert.Version++
	s.alerts[alert.ID] = clone(alert)
	return nil
}

func (s *MemoryStore) FindActiveByUsers(ctx context.Context, userIDs []string) ([]*fraud.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.FraudAlert
	for _, alert := range s.alerts {
		if alert.Status.IsActive() && coversAny(alert, userIDs) {
			out = append(out, clone(alert))
		}
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (s *MemoryStore) FindByTypeAndUsers(ctx context.Context, alertType fraud.EvidenceKind, competitionID string, userIDs []string, statuses []fraud.AlertStatus) ([]*fraud.FraudAlert, error) {
	wanted := make(map[fraud.AlertStatus]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.FraudAlert
	for _, alert := range s.alerts {
		if alert.AlertType != alertType {
			continue
		}
		if competitionID != "" && alert.CompetitionID != competitionID {
			continue
		}
		if _, ok := wanted[alert.Status]; !ok {
			continue
		}
		if coversAny(alert, userIDs) {
			out = append(out, clone(alert))
		}
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status fraud.AlertStatus, limit int) ([]*fraud.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.FraudAlert
	for _, alert := range s.alerts {
		if alert.Status == status {
			out = append(out, clone(alert))
		}
	}
	sortByUpdatedDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func coversAny(alert *fraud.FraudAlert, userIDs []string) bool {
	for _, id := range userIDs {
		if alert.CoversUser(id) {
			return true
		}
	}
	return false
}

func sortByUpdatedDesc(alerts []*fraud.FraudAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].UpdatedAt.After(alerts[j].UpdatedAt)
	})
}

// --- SignalStore ---

func (s *MemoryStore) SaveDeviceRecord(ctx context.Context, rec *fraud.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, clone(rec))
	return nil
}

func (s *MemoryStore) FindDevicesByFingerprint(ctx context.Context, fingerprintID string) ([]*fraud.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.DeviceRecord
	for _, rec := range s.devices {
		if rec.FingerprintID == fingerprintID {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindDevicesByIP(ctx context.Context, ip string) ([]*fraud.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.DeviceRecord
	for _, rec := range s.devices {
		if rec.IPAddress == ip {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) SavePaymentRecord(ctx context.Context, rec *fraud.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, clone(rec))
	return nil
}

func (s *MemoryStore) FindPaymentsByFingerprint(ctx context.Context, fingerprint string) ([]*fraud.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.PaymentRecord
	for _, rec := range s.payments {
		if rec.Fingerprint == fingerprint {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCompetitionEntry(ctx context.Context, entry *fraud.CompetitionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, clone(entry))
	return nil
}

func (s *MemoryStore) ListEntriesSince(ctx context.Context, competitionID string, since time.Time) ([]*fraud.CompetitionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.CompetitionEntry
	for _, entry := range s.entries {
		if entry.CompetitionID == competitionID && !entry.EnteredAt.Before(since) {
			out = append(out, clone(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnteredAt.Before(out[j].EnteredAt) })
	return out, nil
}

func (s *MemoryStore) SaveRegistration(ctx context.Context, rec *fraud.RegistrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, clone(rec))
	return nil
}

func (s *MemoryStore) ListRegistrationsByIPSince(ctx context.Context, ip string, since time.Time) ([]*fraud.RegistrationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*fraud.RegistrationRecord
	for _, rec := range s.registrations {
		if rec.IPAddress == ip && !rec.RegisteredAt.Before(since) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}
