package db

import (
	"embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/dbtypes"
	"github.com/Apillon/blockchain-service/types"

	_ "github.com/jackc/pgx/v4/stdlib"
)

//go:embed schema/pgsql/*.sql
var EmbedPgsqlSchema embed.FS

//go:embed schema/sqlite/*.sql
var EmbedSqliteSchema embed.FS

var logger = logrus.StandardLogger().WithField("module", "db")

// Database is the storage handle passed to every component. It wraps the
// writer/reader connections for the configured engine.
//
// Locking contract: on pgsql, nonce-affecting reads go through
// SELECT ... FOR UPDATE and the webhook outbox uses FOR UPDATE SKIP
// LOCKED. The sqlite engine has no row locks; the writer mutex in
// RunDBTransaction serializes all writing transactions instead, which
// preserves the same nonce-serialization guarantee for a single process.
// Any substitute engine must offer one of the two.
type Database struct {
	Engine      dbtypes.DBEngineType
	ReaderDb    *sqlx.DB
	writerDb    *sqlx.DB
	writerMutex sync.Mutex
}

func checkDbConn(dbConn *sqlx.DB, dataBaseName string) error {
	// The golang sql driver does not properly implement PingContext
	// therefore we use a timer to catch db connection timeouts
	dbConnectionTimeout := time.NewTimer(15 * time.Second)
	defer dbConnectionTimeout.Stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- dbConn.Ping()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("unable to ping %v: %w", dataBaseName, err)
		}
		return nil
	case <-dbConnectionTimeout.C:
		return fmt.Errorf("timeout while connecting to %v", dataBaseName)
	}
}

func initSqlite(config *types.SqliteDatabaseConfig) (*sqlx.DB, *sqlx.DB, error) {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 50
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns < config.MaxIdleConns {
		config.MaxIdleConns = config.MaxOpenConns
	}

	logger.Infof("initializing sqlite connection to %v with %v/%v conn limit", config.File, config.MaxIdleConns, config.MaxOpenConns)
	dbConn, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_pragma=journal_mode(WAL)", config.File))
	if err != nil {
		return nil, nil, fmt.Errorf("error opening sqlite database: %w", err)
	}

	if err := checkDbConn(dbConn, "database"); err != nil {
		return nil, nil, err
	}
	dbConn.SetConnMaxIdleTime(0)
	dbConn.SetConnMaxLifetime(0)
	dbConn.SetMaxOpenConns(config.MaxOpenConns)
	dbConn.SetMaxIdleConns(config.MaxIdleConns)

	return dbConn, dbConn, nil
}

func initPgsql(writer *types.PgsqlDatabaseConfig, reader *types.PgsqlDatabaseConfig) (*sqlx.DB, *sqlx.DB, error) {
	if writer.MaxOpenConns == 0 {
		writer.MaxOpenConns = 50
	}
	if writer.MaxIdleConns == 0 {
		writer.MaxIdleConns = 10
	}
	if writer.MaxOpenConns < writer.MaxIdleConns {
		writer.MaxIdleConns = writer.MaxOpenConns
	}

	if reader.MaxOpenConns == 0 {
		reader.MaxOpenConns = 50
	}
	if reader.MaxIdleConns == 0 {
		reader.MaxIdleConns = 10
	}
	if reader.MaxOpenConns < reader.MaxIdleConns {
		reader.MaxIdleConns = reader.MaxOpenConns
	}

	logger.Infof("initializing pgsql writer connection to %v with %v/%v conn limit", writer.Host, writer.MaxIdleConns, writer.MaxOpenConns)
	dbConnWriter, err := sqlx.Open("pgx", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", writer.Username, writer.Password, writer.Host, writer.Port, writer.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("error getting pgsql writer database: %w", err)
	}

	if err := checkDbConn(dbConnWriter, "database"); err != nil {
		return nil, nil, err
	}
	dbConnWriter.SetConnMaxIdleTime(time.Second * 30)
	dbConnWriter.SetConnMaxLifetime(time.Second * 60)
	dbConnWriter.SetMaxOpenConns(writer.MaxOpenConns)
	dbConnWriter.SetMaxIdleConns(writer.MaxIdleConns)

	logger.Infof("initializing pgsql reader connection to %v with %v/%v conn limit", reader.Host, reader.MaxIdleConns, reader.MaxOpenConns)
	dbConnReader, err := sqlx.Open("pgx", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", reader.Username, reader.Password, reader.Host, reader.Port, reader.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("error getting pgsql reader database: %w", err)
	}

	if err := checkDbConn(dbConnReader, "read replica database"); err != nil {
		return nil, nil, err
	}
	dbConnReader.SetConnMaxIdleTime(time.Second * 30)
	dbConnReader.SetConnMaxLifetime(time.Second * 60)
	dbConnReader.SetMaxOpenConns(reader.MaxOpenConns)
	dbConnReader.SetMaxIdleConns(reader.MaxIdleConns)
	return dbConnWriter, dbConnReader, nil
}

// NewDatabase opens the configured database engine and returns the handle.
func NewDatabase(cfg *types.Config) (*Database, error) {
	database := &Database{}

	switch cfg.Database.Engine {
	case "sqlite":
		sqliteConfig := types.SqliteDatabaseConfig{
			File:         cfg.Database.Sqlite.File,
			MaxOpenConns: cfg.Database.Sqlite.MaxOpenConns,
			MaxIdleConns: cfg.Database.Sqlite.MaxIdleConns,
		}
		database.Engine = dbtypes.DBEngineSqlite
		writerDb, readerDb, err := initSqlite(&sqliteConfig)
		if err != nil {
			return nil, err
		}
		database.writerDb = writerDb
		database.ReaderDb = readerDb
	case "pgsql":
		readerConfig := types.PgsqlDatabaseConfig{
			Username:     cfg.Database.Pgsql.Username,
			Password:     cfg.Database.Pgsql.Password,
			Name:         cfg.Database.Pgsql.Name,
			Host:         cfg.Database.Pgsql.Host,
			Port:         cfg.Database.Pgsql.Port,
			MaxOpenConns: cfg.Database.Pgsql.MaxOpenConns,
			MaxIdleConns: cfg.Database.Pgsql.MaxIdleConns,
		}
		writerConfig := types.PgsqlDatabaseConfig{
			Username:     cfg.Database.PgsqlWriter.Username,
			Password:     cfg.Database.PgsqlWriter.Password,
			Name:         cfg.Database.PgsqlWriter.Name,
			Host:         cfg.Database.PgsqlWriter.Host,
			Port:         cfg.Database.PgsqlWriter.Port,
			MaxOpenConns: cfg.Database.PgsqlWriter.MaxOpenConns,
			MaxIdleConns: cfg.Database.PgsqlWriter.MaxIdleConns,
		}
		if writerConfig.Host == "" {
			writerConfig = readerConfig
		}
		database.Engine = dbtypes.DBEnginePgsql
		writerDb, readerDb, err := initPgsql(&writerConfig, &readerConfig)
		if err != nil {
			return nil, err
		}
		database.writerDb = writerDb
		database.ReaderDb = readerDb
	default:
		return nil, fmt.Errorf("unknown database engine type: %s", cfg.Database.Engine)
	}

	return database, nil
}

func (database *Database) Close() {
	err := database.writerDb.Close()
	if err != nil {
		logger.Errorf("Error closing writer db connection: %v", err)
	}
	if database.ReaderDb != database.writerDb {
		err = database.ReaderDb.Close()
		if err != nil {
			logger.Errorf("Error closing reader db connection: %v", err)
		}
	}
}

// RunDBTransaction runs handler inside a writing transaction. On sqlite
// all writers are serialized through the writer mutex.
func (database *Database) RunDBTransaction(handler func(tx *sqlx.Tx) error) error {
	if database.Engine == dbtypes.DBEngineSqlite {
		database.writerMutex.Lock()
		defer database.writerMutex.Unlock()
	}

	tx, err := database.writerDb.Beginx()
	if err != nil {
		return fmt.Errorf("error starting db transactions: %v", err)
	}

	defer tx.Rollback()

	err = handler(tx)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("error committing db transaction: %v", err)
	}

	return nil
}

// ApplyEmbeddedDbSchema applies the embedded goose migrations up to
// version (-2: all, -1: one step).
func (database *Database) ApplyEmbeddedDbSchema(version int64) error {
	var engineDialect string
	var schemaDirectory string
	switch database.Engine {
	case dbtypes.DBEnginePgsql:
		goose.SetBaseFS(EmbedPgsqlSchema)
		engineDialect = "postgres"
		schemaDirectory = "schema/pgsql"
	case dbtypes.DBEngineSqlite:
		goose.SetBaseFS(EmbedSqliteSchema)
		engineDialect = "sqlite3"
		schemaDirectory = "schema/sqlite"
	default:
		return fmt.Errorf("unknown database engine")
	}
	if err := goose.SetDialect(engineDialect); err != nil {
		return err
	}

	goose.SetLogger(goose.NopLogger())

	if version == -2 {
		if err := goose.Up(database.writerDb.DB, schemaDirectory, goose.WithAllowMissing()); err != nil {
			return err
		}
	} else if version == -1 {
		if err := goose.UpByOne(database.writerDb.DB, schemaDirectory, goose.WithAllowMissing()); err != nil {
			return err
		}
	} else {
		if err := goose.UpTo(database.writerDb.DB, schemaDirectory, version, goose.WithAllowMissing()); err != nil {
			return err
		}
	}

	return nil
}

// EngineQuery selects the engine specific SQL from queryMap.
func (database *Database) EngineQuery(queryMap map[dbtypes.DBEngineType]string) string {
	if queryMap[database.Engine] != "" {
		return queryMap[database.Engine]
	}
	return queryMap[dbtypes.DBEngineAny]
}
