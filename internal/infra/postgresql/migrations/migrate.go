package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_receipts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ReceiptModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_ticket_id ON receipts (ticket_id)`,
					`CREATE INDEX IF NOT EXISTS idx_receipts_due ON receipts (check_after, created_at) WHERE status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_receipts_created_at ON receipts (created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ReceiptModel{})
			},
		},
		{
			ID: "000002_add_receipts_token_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_receipts_token ON receipts (token)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_receipts_token`).Error
			},
		},
	})

	return m.Migrate()
}
