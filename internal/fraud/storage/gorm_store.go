package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quantarena/arena/internal/fraud"
)

// GormStore implements fraud.Store on a gorm database. Profile, score and
// alert writes are optimistic: the version column must match what was
// loaded, otherwise fraud.ErrConflict is returned and the caller reloads.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the store and migrates its schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(
		&ProfileModel{},
		&SimilarityModel{},
		&ScoreModel{},
		&AlertModel{},
		&AlertUserModel{},
		&DeviceModel{},
		&PaymentModel{},
		&EntryModel{},
		&RegistrationModel{},
	); err != nil {
		return nil, errors.Wrap(err, "migrate fraud schema")
	}
	return &GormStore{db: db}, nil
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// --- ProfileStore ---

func (s *GormStore) GetProfile(ctx context.Context, userID string) (*fraud.BehaviorProfile, error) {
	var m ProfileModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (s *GormStore) SaveProfile(ctx context.Context, p *fraud.BehaviorProfile) error {
	m := profileToModel(p)
	return s.optimisticSave(ctx, p.Version, func(tx *gorm.DB) *gorm.DB {
		m.Version = p.Version + 1
		if p.Version == 0 {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				UpdateAll: true,
			}).Create(m)
		}
		return tx.Model(&ProfileModel{}).
			Where("user_id = ? AND version = ?", p.UserID, p.Version).
			Select("*").Omit("id", "created_at").
			Updates(m)
	}, func() { p.Version++ })
}

func (s *GormStore) ListActiveProfiles(ctx context.Context, since time.Time) ([]*fraud.BehaviorProfile, error) {
	var models []ProfileModel
	if err := s.db.WithContext(ctx).Where("last_trade_at >= ?", since).Find(&models).Error; err != nil {
		return nil, err
	}
	profiles := make([]*fraud.BehaviorProfile, 0, len(models))
	for i := range models {
		profiles = append(profiles, models[i].ToDomain())
	}
	return profiles, nil
}

// --- SimilarityStore ---

func (s *GormStore) GetPair(ctx context.Context, userID1, userID2 string) (*fraud.SimilarityRecord, error) {
	u1, u2 := fraud.PairKey(userID1, userID2)
	var m SimilarityModel
	err := s.db.WithContext(ctx).Where("user_id1 = ? AND user_id2 = ?", u1, u2).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (s *GormStore) SavePair(ctx context.Context, record *fraud.SimilarityRecord) error {
	record.UserID1, record.UserID2 = fraud.PairKey(record.UserID1, record.UserID2)
	m := similarityToModel(record)

	// Insert-or-skip first: two writers racing on a new pair both land
	// here, one inserts, the other falls through to the update path.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing SimilarityModel
	err := s.db.WithContext(ctx).
		Where("user_id1 = ? AND user_id2 = ?", m.UserID1, m.UserID2).
		First(&existing).Error
	if err != nil {
		return err
	}
	m.ID = existing.ID
	return s.db.WithContext(ctx).Model(&SimilarityModel{}).
		Where("id = ?", m.ID).
		Select("*").Omit("id").
		Updates(m).Error
}

func (s *GormStore) ListAboveThreshold(ctx context.Context, threshold float64) ([]*fraud.SimilarityRecord, error) {
	var models []SimilarityModel
	err := s.db.WithContext(ctx).
		Where("similarity_score >= ?", threshold).
		Order("similarity_score DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]*fraud.SimilarityRecord, 0, len(models))
	for i := range models {
		records = append(records, models[i].ToDomain())
	}
	return records, nil
}

// --- ScoreStore ---

func (s *GormStore) GetScore(ctx context.Context, userID string) (*fraud.SuspicionScore, error) {
	var m ScoreModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (s *GormStore) SaveScore(ctx context.Context, score *fraud.SuspicionScore) error {
	m := scoreToModel(score)
	return s.optimisticSave(ctx, score.Version, func(tx *gorm.DB) *gorm.DB {
		m.Version = score.Version + 1
		if score.Version == 0 {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				UpdateAll: true,
			}).Create(m)
		}
		return tx.Model(&ScoreModel{}).
			Where("user_id = ? AND version = ?", score.UserID, score.Version).
			Select("*").Omit("id", "created_at").
			Updates(m)
	}, func() { score.Version++ })
}

// --- AlertStore ---

func (s *GormStore) GetAlert(ctx context.Context, id uuid.UUID) (*fraud.FraudAlert, error) {
	var m AlertModel
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (s *GormStore) SaveAlert(ctx context.Context, alert *fraud.FraudAlert) error {
	m := alertToModel(alert)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m.Version = alert.Version + 1
		if alert.Version == 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(m).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&AlertModel{}).
				Where("id = ? AND version = ?", m.ID, alert.Version).
				Select("*").Omit("id", "created_at").
				Updates(m)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fraud.ErrConflict
			}
		}
		for _, userID := range alert.SuspiciousUserIDs {
			link := AlertUserModel{AlertID: m.ID, UserID: userID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	alert.Version++
	return nil
}

func (s *GormStore) FindActiveByUsers(ctx context.Context, userIDs []string) ([]*fraud.FraudAlert, error) {
	var models []AlertModel
	err := s.db.WithContext(ctx).
		Joins("JOIN fraud_alert_users ON fraud_alert_users.alert_id = fraud_alerts.id").
		Where("fraud_alert_users.user_id IN ?", userIDs).
		Where("fraud_alerts.status IN ?", []string{string(fraud.AlertStatusPending), string(fraud.AlertStatusInvestigating)}).
		Group("fraud_alerts.id").
		Order("fraud_alerts.updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toAlerts(models), nil
}

func (s *GormStore) FindByTypeAndUsers(ctx context.Context, alertType fraud.EvidenceKind, competitionID string, userIDs []string, statuses []fraud.AlertStatus) ([]*fraud.FraudAlert, error) {
	statusStrings := make([]string, 0, len(statuses))
	for _, st := range statuses {
		statusStrings = append(statusStrings, string(st))
	}
	query := s.db.WithContext(ctx).
		Joins("JOIN fraud_alert_users ON fraud_alert_users.alert_id = fraud_alerts.id").
		Where("fraud_alert_users.user_id IN ?", userIDs).
		Where("fraud_alerts.alert_type = ?", string(alertType)).
		Where("fraud_alerts.status IN ?", statusStrings).
		Group("fraud_alerts.id").
		Order("fraud_alerts.updated_at DESC")
	if competitionID != "" {
		query = query.Where("fraud_alerts.competition_id = ?", competitionID)
	}
	var models []AlertModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return toAlerts(models), nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status fraud.AlertStatus, limit int) ([]*fraud.FraudAlert, error) {
	query := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []AlertModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return toAlerts(models), nil
}

func toAlerts(models []AlertModel) []*fraud.FraudAlert {
	alerts := make([]*fraud.FraudAlert, 0, len(models))
	for i := range models {
		alerts = append(alerts, models[i].ToDomain())
	}
	return alerts
}

// --- SignalStore ---

func (s *GormStore) SaveDeviceRecord(ctx context.Context, rec *fraud.DeviceRecord) error {
	m := &DeviceModel{
		ID:            rec.ID.String(),
		UserID:        rec.UserID,
		FingerprintID: rec.FingerprintID,
		IPAddress:     rec.IPAddress,
		Browser:       rec.Browser,
		Timezone:      rec.Timezone,
		Language:      rec.Language,
		City:          rec.City,
		LastSeen:      rec.LastSeen,
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) FindDevicesByFingerprint(ctx context.Context, fingerprintID string) ([]*fraud.DeviceRecord, error) {
	var models []DeviceModel
	if err := s.db.WithContext(ctx).Where("fingerprint_id = ?", fingerprintID).Find(&models).Error; err != nil {
		return nil, err
	}
	return toDevices(models), nil
}

func (s *GormStore) FindDevicesByIP(ctx context.Context, ip string) ([]*fraud.DeviceRecord, error) {
	var models []DeviceModel
	if err := s.db.WithContext(ctx).Where("ip_address = ?", ip).Find(&models).Error; err != nil {
		return nil, err
	}
	return toDevices(models), nil
}

func toDevices(models []DeviceModel) []*fraud.DeviceRecord {
	records := make([]*fraud.DeviceRecord, 0, len(models))
	for _, m := range models {
		records = append(records, &fraud.DeviceRecord{
			ID:            parseUUID(m.ID),
			UserID:        m.UserID,
			FingerprintID: m.FingerprintID,
			IPAddress:     m.IPAddress,
			Browser:       m.Browser,
			Timezone:      m.Timezone,
			Language:      m.Language,
			City:          m.City,
			LastSeen:      m.LastSeen,
		})
	}
	return records
}

func (s *GormStore) SavePaymentRecord(ctx context.Context, rec *fraud.PaymentRecord) error {
	m := &PaymentModel{
		ID:          rec.ID.String(),
		UserID:      rec.UserID,
		Provider:    rec.Provider,
		Fingerprint: rec.Fingerprint,
		CardLast4:   rec.CardLast4,
		CardBrand:   rec.CardBrand,
		LastSeen:    rec.LastSeen,
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) FindPaymentsByFingerprint(ctx context.Context, fingerprint string) ([]*fraud.PaymentRecord, error) {
	var models []PaymentModel
	if err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*fraud.PaymentRecord, 0, len(models))
	for _, m := range models {
		records = append(records, &fraud.PaymentRecord{
			ID:          parseUUID(m.ID),
			UserID:      m.UserID,
			Provider:    m.Provider,
			Fingerprint: m.Fingerprint,
			CardLast4:   m.CardLast4,
			CardBrand:   m.CardBrand,
			LastSeen:    m.LastSeen,
		})
	}
	return records, nil
}

func (s *GormStore) SaveCompetitionEntry(ctx context.Context, entry *fraud.CompetitionEntry) error {
	m := &EntryModel{
		ID:            entry.ID.String(),
		UserID:        entry.UserID,
		CompetitionID: entry.CompetitionID,
		EnteredAt:     entry.EnteredAt,
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListEntriesSince(ctx context.Context, competitionID string, since time.Time) ([]*fraud.CompetitionEntry, error) {
	var models []EntryModel
	err := s.db.WithContext(ctx).
		Where("competition_id = ? AND entered_at >= ?", competitionID, since).
		Order("entered_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	entries := make([]*fraud.CompetitionEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, &fraud.CompetitionEntry{
			ID:            parseUUID(m.ID),
			UserID:        m.UserID,
			CompetitionID: m.CompetitionID,
			EnteredAt:     m.EnteredAt,
		})
	}
	return entries, nil
}

func (s *GormStore) SaveRegistration(ctx context.Context, rec *fraud.RegistrationRecord) error {
	m := &RegistrationModel{
		ID:           rec.ID.String(),
		UserID:       rec.UserID,
		IPAddress:    rec.IPAddress,
		RegisteredAt: rec.RegisteredAt,
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListRegistrationsByIPSince(ctx context.Context, ip string, since time.Time) ([]*fraud.RegistrationRecord, error) {
	var models []RegistrationModel
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND registered_at >= ?", ip, since).
		Order("registered_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]*fraud.RegistrationRecord, 0, len(models))
	for _, m := range models {
		records = append(records, &fraud.RegistrationRecord{
			ID:           parseUUID(m.ID),
			UserID:       m.UserID,
			IPAddress:    m.IPAddress,
			RegisteredAt: m.RegisteredAt,
		})
	}
	return records, nil
}

// optimisticSave runs the write and maps a zero-row update to ErrConflict.
func (s *GormStore) optimisticSave(ctx context.Context, version int64, write func(tx *gorm.DB) *gorm.DB, onSuccess func()) error {
	res := write(s.db.WithContext(ctx))
	if res.Error != nil {
		return res.Error
	}
	if version > 0 && res.RowsAffected == 0 {
		return fraud.ErrConflict
	}
	onSuccess()
	return nil
}
