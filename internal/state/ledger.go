// Package state implements C9, the State Ledger: get/set/increment/
// add_to_inventory/transfer/get_all over a Postgres-backed
// (owner, key) -> value store, with an audit trail and canonical-order
// locking for deadlock-free transfers. Item transfers (TransferItem) are
// built on top of it in the items package.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/types"
)

// stateRow is the GORM model backing a StateEntry.
type stateRow struct {
	UserID    string `gorm:"primaryKey;column:user_id"`
	Key       string `gorm:"primaryKey;column:key"`
	Kind      string `gorm:"column:kind"`
	Number    float64
	MapJSON   string `gorm:"column:map_json"`
	UpdatedAt time.Time
}

func (stateRow) TableName() string { return "state_entries" }

// auditRow is the GORM model backing an AuditRecord.
type auditRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time
	Actor     string
	UserID    string
	Key       string
	ChannelID string
	Reason    string
	Delta     float64
}

func (auditRow) TableName() string { return "state_audit" }

// Ledger is C9's entry point. Writes to a given (user, key) are
// serialized by a per-key striped mutex; transfers lock both keys in
// canonical lexicographic order (user_id then key) to avoid deadlock.
type Ledger struct {
	db     *gorm.DB
	stripes [256]sync.Mutex
}

// New opens a GORM connection per cfg.Postgres and migrates the ledger
// tables.
func New(cfg *config.Config) (*Ledger, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Username, cfg.Postgres.Password, cfg.Postgres.Database)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres dial: %w", err)
	}
	if err := db.AutoMigrate(&stateRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &Ledger{db: db}, nil
}

// DB exposes the underlying connection for read-only ancillary tools
// (the SQL query tool) that run arbitrary whitelisted SELECTs over
// state_entries/state_audit.
func (l *Ledger) DB() *gorm.DB { return l.db }

func (l *Ledger) lockFor(userID, key string) *sync.Mutex {
	h := fnv32(userID + "\x00" + key)
	return &l.stripes[h%uint32(len(l.stripes))]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Get returns the numeric value at (user, key), or def if unset.
func (l *Ledger) Get(ctx context.Context, userID, key string, def float64) (float64, error) {
	var row stateRow
	err := l.db.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return def, nil
		}
		return 0, err
	}
	return row.Number, nil
}

// Set writes value at (user, key), recording an audit tuple.
func (l *Ledger) Set(ctx context.Context, userID, key string, value float64, actor, channelID, reason string) error {
	mu := l.lockFor(userID, key)
	mu.Lock()
	defer mu.Unlock()

	row := stateRow{UserID: userID, Key: key, Kind: string(types.StateValueNumber), Number: value, UpdatedAt: time.Now()}
	if err := l.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}
	return l.audit(ctx, actor, userID, key, channelID, reason, value)
}

// Increment adds amount to the value at (user, key), defaulting the
// prior value to zero.
func (l *Ledger) Increment(ctx context.Context, userID, key string, amount float64, actor, channelID, reason string) (float64, error) {
	mu := l.lockFor(userID, key)
	mu.Lock()
	defer mu.Unlock()

	var row stateRow
	err := l.db.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).First(&row).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return 0, err
	}
	row.UserID, row.Key, row.Kind = userID, key, string(types.StateValueNumber)
	row.Number += amount
	row.UpdatedAt = time.Now()
	if err := l.db.WithContext(ctx).Save(&row).Error; err != nil {
		return 0, err
	}
	if err := l.audit(ctx, actor, userID, key, channelID, reason, amount); err != nil {
		return 0, err
	}
	return row.Number, nil
}

// AddToInventory increments the named item's quantity within the
// user's inventory map at key, recording an audit tuple.
func (l *Ledger) AddToInventory(ctx context.Context, userID, key, item string, qty float64, actor, channelID, reason string) error {
	mu := l.lockFor(userID, key)
	mu.Lock()
	defer mu.Unlock()

	entry, err := l.loadInventoryLocked(ctx, userID, key)
	if err != nil {
		return err
	}
	entry.Map[item] += qty
	if err := l.saveInventoryLocked(ctx, entry); err != nil {
		return err
	}
	return l.audit(ctx, actor, userID, key, channelID, reason, qty)
}

func (l *Ledger) loadInventoryLocked(ctx context.Context, userID, key string) (*types.StateEntry, error) {
	var row stateRow
	err := l.db.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).First(&row).Error
	entry := &types.StateEntry{UserID: userID, Key: key, Kind: types.StateValueInventory, Map: map[string]float64{}}
	if err == nil {
		_ = decodeMap(row.MapJSON, &entry.Map)
		return entry, nil
	}
	if err == gorm.ErrRecordNotFound {
		return entry, nil
	}
	return nil, err
}

func (l *Ledger) saveInventoryLocked(ctx context.Context, entry *types.StateEntry) error {
	mapJSON, err := encodeMap(entry.Map)
	if err != nil {
		return err
	}
	row := stateRow{
		UserID: entry.UserID, Key: entry.Key, Kind: string(types.StateValueInventory),
		MapJSON: mapJSON, UpdatedAt: time.Now(),
	}
	return l.db.WithContext(ctx).Save(&row).Error
}

// GetAll returns every StateEntry recorded for a user.
func (l *Ledger) GetAll(ctx context.Context, userID string) ([]types.StateEntry, error) {
	var rows []stateRow
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.StateEntry, 0, len(rows))
	for _, r := range rows {
		entry := types.StateEntry{UserID: r.UserID, Key: r.Key, Kind: types.StateValueKind(r.Kind), Number: r.Number, UpdatedAt: r.UpdatedAt}
		if entry.Kind == types.StateValueInventory {
			entry.Map = map[string]float64{}
			_ = decodeMap(r.MapJSON, &entry.Map)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Transfer moves amount from (from,key) to (to,key). Two-phase: validate
// source balance, decrement source, increment destination; either
// persistence step failing rolls back the in-memory intent (the source
// row is restored) and returns ErrSourceInsufficient or the underlying
// error.
func (l *Ledger) Transfer(ctx context.Context, from, to, key string, amount float64, actor, channelID, reason string) error {
	lockA, lockB := canonicalLocks(l, from, key, to, key)
	lockA.Lock()
	defer lockA.Unlock()
	if lockB != lockA {
		lockB.Lock()
		defer lockB.Unlock()
	}

	var sourceRow stateRow
	err := l.db.WithContext(ctx).Where("user_id = ? AND key = ?", from, key).First(&sourceRow).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if sourceRow.Number < amount {
		return types.ErrSourceInsufficient
	}

	sourceRow.UserID, sourceRow.Key, sourceRow.Kind = from, key, string(types.StateValueNumber)
	sourceRow.Number -= amount
	sourceRow.UpdatedAt = time.Now()
	if err := l.db.WithContext(ctx).Save(&sourceRow).Error; err != nil {
		return err
	}

	var destRow stateRow
	err = l.db.WithContext(ctx).Where("user_id = ? AND key = ?", to, key).First(&destRow).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		// Roll back the source decrement.
		sourceRow.Number += amount
		_ = l.db.WithContext(ctx).Save(&sourceRow).Error
		return err
	}
	destRow.UserID, destRow.Key, destRow.Kind = to, key, string(types.StateValueNumber)
	destRow.Number += amount
	destRow.UpdatedAt = time.Now()
	if err := l.db.WithContext(ctx).Save(&destRow).Error; err != nil {
		sourceRow.Number += amount
		_ = l.db.WithContext(ctx).Save(&sourceRow).Error
		return err
	}

	if err := l.audit(ctx, actor, from, key, channelID, reason, -amount); err != nil {
		return err
	}
	return l.audit(ctx, actor, to, key, channelID, reason, amount)
}

// canonicalLocks returns the two stripe locks in lexicographic order on
// (user_id, key), so two concurrent transfers between the same pair of
// accounts always acquire locks in the same order.
func canonicalLocks(l *Ledger, userA, keyA, userB, keyB string) (*sync.Mutex, *sync.Mutex) {
	idA, idB := userA+"\x00"+keyA, userB+"\x00"+keyB
	pair := []string{idA, idB}
	sort.Strings(pair)
	u0, k0 := splitAt(pair[0])
	u1, k1 := splitAt(pair[1])
	return l.lockFor(u0, k0), l.lockFor(u1, k1)
}

func splitAt(id string) (string, string) {
	for i := 0; i < len(id); i++ {
		if id[i] == 0 {
			return id[:i], id[i+1:]
		}
	}
	return id, ""
}

func (l *Ledger) audit(ctx context.Context, actor, userID, key, channelID, reason string, delta float64) error {
	return l.db.WithContext(ctx).Create(&auditRow{
		Timestamp: time.Now(), Actor: actor, UserID: userID, Key: key,
		ChannelID: channelID, Reason: reason, Delta: delta,
	}).Error
}
