package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Mission   MissionConfig   `mapstructure:"MISSION"`
	Antispoof AntispoofConfig `mapstructure:"ANTISPOOF"`
}

// MissionConfig holds the tunables of the mission-run state machine. The
// numbers are policy, not contract; every one of them may differ per
// deployment.
type MissionConfig struct {
	RunTTL             time.Duration `mapstructure:"RUN_TTL"`
	QRTokenTTL         time.Duration `mapstructure:"QR_TOKEN_TTL"`
	EvidenceMaxAge     time.Duration `mapstructure:"EVIDENCE_MAX_AGE"`
	ClockSkewTolerance time.Duration `mapstructure:"CLOCK_SKEW_TOLERANCE"`
	MaxAccuracyM       float64       `mapstructure:"MAX_ACCURACY_M"`
	MissionCacheTTL    time.Duration `mapstructure:"MISSION_CACHE_TTL"`
}

// AntispoofConfig holds the plausibility band and velocity limits of the
// anti-spoof pipeline.
type AntispoofConfig struct {
	MinAccuracyM  float64       `mapstructure:"MIN_ACCURACY_M"`
	MaxAccuracyM  float64       `mapstructure:"MAX_ACCURACY_M"`
	MaxSpeedMps   float64       `mapstructure:"MAX_SPEED_MPS"`
	FixHistoryTTL time.Duration `mapstructure:"FIX_HISTORY_TTL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config file", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Mission.RunTTL == 0 {
		cfg.Mission.RunTTL = 30 * time.Minute
	}
	if cfg.Mission.QRTokenTTL == 0 {
		cfg.Mission.QRTokenTTL = 10 * time.Minute
	}
	if cfg.Mission.EvidenceMaxAge == 0 {
		cfg.Mission.EvidenceMaxAge = 2 * time.Minute
	}
	if cfg.Mission.ClockSkewTolerance == 0 {
		cfg.Mission.ClockSkewTolerance = time.Minute
	}
	if cfg.Mission.MaxAccuracyM == 0 {
		cfg.Mission.MaxAccuracyM = 100
	}
	if cfg.Mission.MissionCacheTTL == 0 {
		cfg.Mission.MissionCacheTTL = 30 * time.Second
	}
	if cfg.Antispoof.MaxAccuracyM == 0 {
		cfg.Antispoof.MaxAccuracyM = 150
	}
	if cfg.Antispoof.MaxSpeedMps == 0 {
		cfg.Antispoof.MaxSpeedMps = 70
	}
	if cfg.Antispoof.FixHistoryTTL == 0 {
		cfg.Antispoof.FixHistoryTTL = time.Hour
	}
}
