package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	//ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	//ErrDuplicate is returned when an insert or update violates a unique index
	ErrDuplicate = errors.New("duplicate key")
	//ErrTransactionClose is returned when Close is called on a transaction scoped Datastore
	ErrTransactionClose = errors.New("cannot close a transaction scoped datastore")
)

//Datastore is an interface that is used to inject the database into different handlers to improve testability
type Datastore interface {
	//Transaction runs fn inside a single database transaction. The Datastore passed to fn
	//is bound to that transaction, and returning an error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx Datastore) error) error
	Close() error

	CreateDevice(ctx context.Context, device *models.Device) error
	GetDeviceFromID(ctx context.Context, id uint) (*models.Device, error)
	//LockDevice reads the device and holds a row lock on it until the transaction ends
	LockDevice(ctx context.Context, id uint) (*models.Device, error)
	GetDevices(ctx context.Context, offset, limit int) ([]models.Device, error)
	UpdateDeviceFields(ctx context.Context, id uint, fields map[string]interface{}) error
	DeleteDevice(ctx context.Context, id uint) error
	SetDeviceGateway(ctx context.Context, deviceID uint, gatewayID *uint) error
	ClearGatewayFromDevices(ctx context.Context, gatewayID uint) (int64, error)

	CreateGateway(ctx context.Context, gateway *models.Gateway) error
	GetGatewayFromID(ctx context.Context, id uint) (*models.Gateway, error)
	GetGatewayFromSerial(ctx context.Context, serial string) (*models.Gateway, error)
	GetGatewayFromName(ctx context.Context, name string) (*models.Gateway, error)
	//LockGateway reads the gateway and holds a row lock on it until the transaction ends
	LockGateway(ctx context.Context, id uint) (*models.Gateway, error)
	LockGatewayFromSerial(ctx context.Context, serial string) (*models.Gateway, error)
	GetGateways(ctx context.Context, offset, limit int) ([]models.Gateway, error)
	GetGatewayAddresses(ctx context.Context, excludeID uint) ([]string, error)
	//LockGatewayAddresses serialises gateway creations and address changes until the
	//transaction ends, so that subnet checks cannot race each other
	LockGatewayAddresses(ctx context.Context) error
	UpdateGatewayFields(ctx context.Context, id uint, fields map[string]interface{}) error
	DeleteGateway(ctx context.Context, id uint) error
	//IncrementDeviceCount adds one to the counter unless it already is at limit.
	//It reports false when the guard prevented the update.
	IncrementDeviceCount(ctx context.Context, gatewayID uint, limit int) (bool, error)
	//DecrementDeviceCount subtracts one from the counter unless it already is zero
	DecrementDeviceCount(ctx context.Context, gatewayID uint) (bool, error)
	ResetDeviceCount(ctx context.Context, gatewayID uint) error

	CreateAssociation(ctx context.Context, gatewayID, deviceID uint) error
	GetAssociationForDevice(ctx context.Context, deviceID uint) (*models.Association, error)
	GetAssociationsForGateway(ctx context.Context, gatewayID uint) ([]models.Association, error)
	CountAssociationsForGateway(ctx context.Context, gatewayID uint) (int64, error)
	DeleteAssociationForDevice(ctx context.Context, deviceID uint) (int64, error)
	DeleteAssociationsForGateway(ctx context.Context, gatewayID uint) (int64, error)
	GetDevicesForGateway(ctx context.Context, gatewayID uint) ([]models.Device, error)
	GetGatewayForDevice(ctx context.Context, deviceID uint) (*models.Gateway, error)
}

type myDB struct {
	impl *gorm.DB
	inTx bool
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewPostgreSQLConnector opens a connection to a postgresql database
func NewPostgreSQLConnector(cfg config.DatabaseConfig, log logging.Logger) ConnectorFunc {
	dbURI := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", cfg.Host, cfg.User, cfg.Name, cfg.SSLMode, cfg.Password)

	return func() (*gorm.DB, error) {
		const maxAttempts = 10

		var err error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			log.Infof("Connecting to database host %s ...", cfg.Host)

			var db *gorm.DB
			db, err = gorm.Open(postgres.Open(dbURI), &gorm.Config{
				TranslateError: true,
			})
			if err == nil {
				return db, nil
			}

			log.Errorf("Failed to connect to database (attempt %d/%d): %s", attempt, maxAttempts, err.Error())
			time.Sleep(3 * time.Second)
		}

		return nil, fmt.Errorf("giving up on database host %s: %w", cfg.Host, err)
	}
}

//NewSQLiteConnector opens a connection to a private, in-memory sqlite database.
//A single connection is used so that transactions are serialised by the pool.
func NewSQLiteConnector() ConnectorFunc {
	return func() (*gorm.DB, error) {
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())

		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err != nil {
			return nil, err
		}

		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)

		return db, nil
	}
}

//NewDatabaseConnection initializes a new connection to the database and wraps it in a Datastore
func NewDatabaseConnection(connect ConnectorFunc, log logging.Logger) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	db := &myDB{
		impl: impl,
	}

	err = db.impl.AutoMigrate(&models.Gateway{}, &models.Device{}, &models.Association{})
	if err != nil {
		log.Errorf("Failed to migrate database: %s", err.Error())
		return nil, err
	}

	log.Infof("Database migrated successfully.")

	return db, nil
}

func (db *myDB) Transaction(ctx context.Context, fn func(tx Datastore) error) error {
	return db.impl.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&myDB{impl: tx, inTx: true})
	})
}

func (db *myDB) Close() error {
	if db.inTx {
		return ErrTransactionClose
	}

	sqlDB, err := db.impl.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

//locking returns a query that takes row locks on dialects that support them. SQLite
//has no row level locks, but its transactions are serialised by the single connection.
func (db *myDB) locking(ctx context.Context) *gorm.DB {
	q := db.impl.WithContext(ctx)
	if db.impl.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func first(q *gorm.DB, dest interface{}, conds ...interface{}) error {
	err := q.First(dest, conds...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func translate(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicate, err.Error())
	}

	// Older drivers do not translate their errors
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	}

	return err
}

func affected(result *gorm.DB) error {
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func pageOf(q *gorm.DB, offset, limit int) *gorm.DB {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
