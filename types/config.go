package types

import "time"

// Config is a struct to hold the configuration data
type Config struct {
	Logging struct {
		OutputLevel  string `yaml:"outputLevel" envconfig:"LOGGING_OUTPUT_LEVEL"`
		OutputStderr bool   `yaml:"outputStderr" envconfig:"LOGGING_OUTPUT_STDERR"`

		FilePath  string `yaml:"filePath" envconfig:"LOGGING_FILE_PATH"`
		FileLevel string `yaml:"fileLevel" envconfig:"LOGGING_FILE_LEVEL"`
	} `yaml:"logging"`

	Api struct {
		Enabled bool   `yaml:"enabled" envconfig:"API_ENABLED"`
		Host    string `yaml:"host" envconfig:"API_HOST"`
		Port    string `yaml:"port" envconfig:"API_PORT"`

		HttpReadTimeout  time.Duration `yaml:"httpReadTimeout" envconfig:"API_HTTP_READ_TIMEOUT"`
		HttpWriteTimeout time.Duration `yaml:"httpWriteTimeout" envconfig:"API_HTTP_WRITE_TIMEOUT"`
		HttpIdleTimeout  time.Duration `yaml:"httpIdleTimeout" envconfig:"API_HTTP_IDLE_TIMEOUT"`
	} `yaml:"api"`

	Chains struct {
		// RpcTimeout bounds every single chain RPC call.
		RpcTimeout time.Duration `yaml:"rpcTimeout" envconfig:"CHAINS_RPC_TIMEOUT"`
	} `yaml:"chains"`

	Transmitter struct {
		Enabled  bool          `yaml:"enabled" envconfig:"TRANSMITTER_ENABLED"`
		Interval time.Duration `yaml:"interval" envconfig:"TRANSMITTER_INTERVAL"`

		// MaxPerWallet caps how many queued transactions are broadcast for
		// one wallet within a single invocation.
		MaxPerWallet int `yaml:"maxPerWallet" envconfig:"TRANSMITTER_MAX_PER_WALLET"`
	} `yaml:"transmitter"`

	NonceMonitor struct {
		Enabled        bool          `yaml:"enabled" envconfig:"NONCEMONITOR_ENABLED"`
		Interval       time.Duration `yaml:"interval" envconfig:"NONCEMONITOR_INTERVAL"`
		StallThreshold time.Duration `yaml:"stallThreshold" envconfig:"NONCEMONITOR_STALL_THRESHOLD"`
	} `yaml:"nonceMonitor"`

	Confirmer struct {
		Enabled  bool          `yaml:"enabled" envconfig:"CONFIRMER_ENABLED"`
		Interval time.Duration `yaml:"interval" envconfig:"CONFIRMER_INTERVAL"`
	} `yaml:"confirmer"`

	Webhooks struct {
		Enabled   bool          `yaml:"enabled" envconfig:"WEBHOOKS_ENABLED"`
		Interval  time.Duration `yaml:"interval" envconfig:"WEBHOOKS_INTERVAL"`
		BatchSize int           `yaml:"batchSize" envconfig:"WEBHOOKS_BATCH_SIZE"`

		// DefaultUrl receives batches for reference tables without an
		// explicit consumer entry.
		DefaultUrl  string            `yaml:"defaultUrl" envconfig:"WEBHOOKS_DEFAULT_URL"`
		Consumers   []ConsumerConfig  `yaml:"consumers"`
		SendTimeout time.Duration     `yaml:"sendTimeout" envconfig:"WEBHOOKS_SEND_TIMEOUT"`
		AuthHeaders map[string]string `yaml:"authHeaders"`
	} `yaml:"webhooks"`

	Alerting struct {
		WebhookUrl string        `yaml:"webhookUrl" envconfig:"ALERTING_WEBHOOK_URL"`
		Cooldown   time.Duration `yaml:"cooldown" envconfig:"ALERTING_COOLDOWN"`
	} `yaml:"alerting"`

	Database struct {
		Engine string `yaml:"engine" envconfig:"DATABASE_ENGINE"`
		Sqlite struct {
			File string `yaml:"file" envconfig:"DATABASE_SQLITE_FILE"`

			MaxOpenConns int `yaml:"maxOpenConns" envconfig:"DATABASE_SQLITE_MAX_OPEN_CONNS"`
			MaxIdleConns int `yaml:"maxIdleConns" envconfig:"DATABASE_SQLITE_MAX_IDLE_CONNS"`
		} `yaml:"sqlite"`
		Pgsql struct {
			Username string `yaml:"user" envconfig:"DATABASE_PGSQL_USERNAME"`
			Password string `yaml:"password" envconfig:"DATABASE_PGSQL_PASSWORD"`
			Name     string `yaml:"name" envconfig:"DATABASE_PGSQL_NAME"`
			Host     string `yaml:"host" envconfig:"DATABASE_PGSQL_HOST"`
			Port     string `yaml:"port" envconfig:"DATABASE_PGSQL_PORT"`

			MaxOpenConns int `yaml:"maxOpenConns" envconfig:"DATABASE_PGSQL_MAX_OPEN_CONNS"`
			MaxIdleConns int `yaml:"maxIdleConns" envconfig:"DATABASE_PGSQL_MAX_IDLE_CONNS"`
		} `yaml:"pgsql"`
		PgsqlWriter struct {
			Username string `yaml:"user" envconfig:"DATABASE_PGSQL_WRITER_USERNAME"`
			Password string `yaml:"password" envconfig:"DATABASE_PGSQL_WRITER_PASSWORD"`
			Name     string `yaml:"name" envconfig:"DATABASE_PGSQL_WRITER_NAME"`
			Host     string `yaml:"host" envconfig:"DATABASE_PGSQL_WRITER_HOST"`
			Port     string `yaml:"port" envconfig:"DATABASE_PGSQL_WRITER_PORT"`

			MaxOpenConns int `yaml:"maxOpenConns" envconfig:"DATABASE_PGSQL_WRITER_MAX_OPEN_CONNS"`
			MaxIdleConns int `yaml:"maxIdleConns" envconfig:"DATABASE_PGSQL_WRITER_MAX_IDLE_CONNS"`
		} `yaml:"pgsqlWriter"`
	} `yaml:"database"`
}

// ConsumerConfig maps a reference table to the webhook consumer that
// receives outcome notifications for its rows.
type ConsumerConfig struct {
	ReferenceTable string `yaml:"referenceTable"`
	Url            string `yaml:"url"`
}

type SqliteDatabaseConfig struct {
	File         string
	MaxOpenConns int
	MaxIdleConns int
}

type PgsqlDatabaseConfig struct {
	Username     string
	Password     string
	Name         string
	Host         string
	Port         string
	MaxOpenConns int
	MaxIdleConns int
}
