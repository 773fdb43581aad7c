package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/GoLogware/loggate/internal/model"
)

var ErrRuleNotFound = errors.New("rule not found")

// ruleDB is the persistence shape of an alert rule. Conditions and
// filters are JSONB blobs so the sealed condition union round-trips
// through its own codec instead of a table per condition kind.
type ruleDB struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	Severity         string
	Conditions       []byte `gorm:"type:jsonb"`
	Filters          []byte `gorm:"type:jsonb"`
	Actions          []byte `gorm:"type:jsonb"`
	Enabled          bool
	CooldownMs       int64
	MaxAlertsPerHour int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ruleDB) TableName() string { return "alert_rules" }

// PostgresRuleStore persists alert rules so a restart reloads the same
// rule set the operators configured at runtime.
type PostgresRuleStore struct {
	db *gorm.DB
}

func NewPostgresRuleStore(dsn string) (*PostgresRuleStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ruleDB{}); err != nil {
		return nil, err
	}
	return &PostgresRuleStore{db: db}, nil
}

func (s *PostgresRuleStore) Save(ctx context.Context, rule *model.AlertRule) error {
	row, err := toRuleDB(rule)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*model.AlertRule, error) {
	var row ruleDB
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainRule(&row)
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]*model.AlertRule, error) {
	var rows []ruleDB
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	rules := make([]*model.AlertRule, 0, len(rows))
	for i := range rows {
		rule, err := toDomainRule(&rows[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ruleDB{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *PostgresRuleStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&ruleDB{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func toRuleDB(rule *model.AlertRule) (*ruleDB, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, err
	}
	filters, err := json.Marshal(rule.Filters)
	if err != nil {
		return nil, err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, err
	}
	return &ruleDB{
		ID:               rule.ID,
		Name:             rule.Name,
		Severity:         string(rule.Severity),
		Conditions:       conditions,
		Filters:          filters,
		Actions:          actions,
		Enabled:          rule.Enabled,
		CooldownMs:       rule.CooldownMs,
		MaxAlertsPerHour: rule.MaxAlertsPerHour,
	}, nil
}

func toDomainRule(row *ruleDB) (*model.AlertRule, error) {
	rule := &model.AlertRule{
		ID:               row.ID,
		Name:             row.Name,
		Severity:         model.Severity(row.Severity),
		Enabled:          row.Enabled,
		CooldownMs:       row.CooldownMs,
		MaxAlertsPerHour: row.MaxAlertsPerHour,
	}
	if err := json.Unmarshal(row.Conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if len(row.Filters) > 0 {
		if err := json.Unmarshal(row.Filters, &rule.Filters); err != nil {
			return nil, err
		}
	}
	if len(row.Actions) > 0 {
		if err := json.Unmarshal(row.Actions, &rule.Actions); err != nil {
			return nil, err
		}
	}
	return rule, nil
}
