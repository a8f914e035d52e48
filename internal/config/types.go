package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Mirror        MirrorConfig        `mapstructure:"mirror"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Report        ReportConfig        `mapstructure:"report"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	History       HistoryConfig       `mapstructure:"history"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

type MirrorConfig struct {
	SourceURL       string        `mapstructure:"source_url"`
	AltSourceURL    string        `mapstructure:"alt_source_url"`
	Resolve         []string      `mapstructure:"resolve"` // file names settled by block-number comparison
	Exclude         []string      `mapstructure:"exclude"` // file names never mirrored
	MinContentBytes int           `mapstructure:"min_content_bytes"`
	MaxParallelism  int           `mapstructure:"max_parallelism"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
	Prefix  string     `mapstructure:"prefix"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type ReportConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	StatusFile string `mapstructure:"status_file"`
}

type ArchiveConfig struct {
	Compression   string    `mapstructure:"compression"` // none, gzip, zstd
	Encryption    bool      `mapstructure:"encryption"`
	EncryptionKey string    `mapstructure:"encryption_key"`
	Retention     Retention `mapstructure:"retention"`
}

type Retention struct {
	KeepLast int   `mapstructure:"keep_last"`
	KeepDays int   `mapstructure:"keep_days"`
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type MonitorConfig struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	DataFile    string        `mapstructure:"data_file"`
	PoolManager string        `mapstructure:"pool_manager"`
	TokenSlot   string        `mapstructure:"token_slot"` // token/WETH pool slot0 storage key
	USDSlot     string        `mapstructure:"usd_slot"`   // WETH/USD pool slot0 storage key
	TargetHours []int         `mapstructure:"target_hours"`
	WindowDays  int           `mapstructure:"window_days"`
	Tolerance   time.Duration `mapstructure:"tolerance"`
	RetryCount  int           `mapstructure:"retry_count"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
	Keep int    `mapstructure:"keep"` // runs retained; 0 keeps everything
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}
