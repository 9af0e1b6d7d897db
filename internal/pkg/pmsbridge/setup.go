package pmsbridge

import (
	"log"
	"strings"

	"github.com/finbridge-tw/finbridge/internal/pkg/env"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var pmsDB *gorm.DB

// SetupPMSDatabase opens the external performance store when
// PMS_DATABASE_URL is set. The integration is optional: an empty variable
// leaves the handle nil and every bridge call fails fast with
// ErrNotConfigured instead of crashing the process.
func SetupPMSDatabase() {
	dsn := strings.TrimSpace(env.GetEnv("PMS_DATABASE_URL", ""))
	if dsn == "" {
		log.Print("pms bridge disabled: PMS_DATABASE_URL is not set")
		return
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		// Keep the process up; the bridge endpoints report 503 instead.
		log.Printf("pms bridge: failed to connect to performance store: %v", err)
		return
	}
	pmsDB = db
	log.Print("pms bridge: connected to performance store")
}

// GetPMSDB returns the external store handle, nil when unconfigured.
func GetPMSDB() *gorm.DB {
	return pmsDB
}
