package registry

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Counter is one row per sequence kind. Rows are created lazily on first
// use.
type Counter struct {
	ID  string `gorm:"primaryKey;column:id;size:32"`
	Seq int64  `gorm:"column:seq;not null;default:0"`
}

// TableName returns the GORM table name.
func (Counter) TableName() string { return "counters" }

// NextSequence atomically increments the counter for kind and returns the
// new value. The increment is a single upsert, so the counter row stays
// locked by the calling transaction until it commits; concurrent callers in
// other transactions or processes are serialized by the database.
func NextSequence(tx *gorm.DB, kind string) (int64, error) {
	db := tx.Session(&gorm.Session{NewDB: true})

	row := Counter{ID: kind, Seq: 1}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"seq": gorm.Expr("counters.seq + 1"),
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("increment %s counter: %w", kind, err)
	}

	var current Counter
	if err := db.Where("id = ?", kind).Take(&current).Error; err != nil {
		return 0, fmt.Errorf("read %s counter: %w", kind, err)
	}
	return current.Seq, nil
}

// assignIDs draws a per-kind id and a global id unless the entity already
// carries them.
func assignIDs(tx *gorm.DB, kind string, id, gid int64) (int64, int64, error) {
	if gid != 0 {
		return id, gid, nil
	}
	id, err := NextSequence(tx, kind)
	if err != nil {
		return 0, 0, err
	}
	gid, err = NextSequence(tx, KindGlobal)
	if err != nil {
		return 0, 0, err
	}
	return id, gid, nil
}
