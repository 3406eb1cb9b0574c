package config

import (
	"errors"

	"github.com/caarlos0/env/v11"
)

// SolverConfig 是局部搜索与求解器的默认参数，离线命令行工具也只需要这一部分
type SolverConfig struct {
	Days                int     `env:"DAYS" envDefault:"100"`
	MinAttendance       int     `env:"MIN_ATTENDANCE" envDefault:"125"`
	MaxAttendance       int     `env:"MAX_ATTENDANCE" envDefault:"300"`
	MaxSweeps           int     `env:"MAX_SWEEPS" envDefault:"50"`
	VerifyEvery         int     `env:"VERIFY_EVERY" envDefault:"1"`
	OracleTimeout       int     `env:"ORACLE_TIMEOUT" envDefault:"60"` // 秒
	Variant             string  `env:"VARIANT" envDefault:"preference_only"`
	AccountingPrecision int     `env:"ACCOUNTING_PRECISION" envDefault:"6"`
	SmoothingLimit      int     `env:"SMOOTHING_LIMIT" envDefault:"32"`
	SmoothingPenalty    int     `env:"SMOOTHING_PENALTY" envDefault:"18"`
	MaxRank             int     `env:"MAX_RANK" envDefault:"10"`
	PairCostCutoff      float64 `env:"PAIR_COST_CUTOFF" envDefault:"0"`   // accounting_pairs 变体只保留会计成本低于该值的组合，0 表示不过滤
	MaxLPCells          int     `env:"MAX_LP_CELLS" envDefault:"4000000"` // 约束矩阵稠密存储的最大元素个数
}

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"15"`
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
		MaxUploadSize   int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
	} `envPrefix:"SERVER_"`
	Database struct {
		DSN                string `env:"DSN,required"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		QueryTimeout       int    `env:"QUERY_TIMEOUT" envDefault:"10"`
		TransactionTimeout int    `env:"TRANSACTION_TIMEOUT" envDefault:"60"`
		MaxOpenConns       int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns       int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
		MaxIdleTime        int    `env:"MAX_IDLE_TIME" envDefault:"60"`
	} `envPrefix:"DATABASE_"`
	InitialAdmin struct {
		Username string `env:"USERNAME" envDefault:"admin"`
		Password string `env:"PASSWORD,required"`
		FullName string `env:"FULL_NAME" envDefault:"管理员"`
		Email    string `env:"EMAIL,required"`
	} `envPrefix:"INITIAL_ADMIN_"`
	JWT struct {
		Expiration int    `env:"EXPIRATION" envDefault:"336"` // 小时，14 天
		Secret     string `env:"SECRET,required"`
	} `envPrefix:"JWT_"`
	Seed struct {
		User struct {
			Password string `env:"PASSWORD,required"`
		} `envPrefix:"USER_"`
	} `envPrefix:"SEED_"`
	Email struct {
		UserDomain string `env:"USER_DOMAIN,required"`
		SMTP       struct {
			Username    string `env:"USERNAME,required"`
			Password    string `env:"PASSWORD,required"`
			Host        string `env:"HOST,required"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	RabbitMQ struct {
		DSN            string `env:"DSN,required"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
		JobQueue       string `env:"JOB_QUEUE" envDefault:"optimize_queue"`
		MailQueue      string `env:"MAIL_QUEUE" envDefault:"email_queue"`
	} `envPrefix:"RABBITMQ_"`
	Redis struct {
		Host             string `env:"HOST" envDefault:"localhost"`
		Port             int    `env:"PORT" envDefault:"6379"`
		Password         string `env:"PASSWORD,required"`
		ConnectTimeout   int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		OperationTimeout int    `env:"OPERATION_TIMEOUT" envDefault:"5"`
		ProgressTTL      int    `env:"PROGRESS_TTL" envDefault:"86400"` // 秒
	} `envPrefix:"REDIS_"`
	Solver  SolverConfig `envPrefix:"SOLVER_"`
	NewUser struct {
		PasswordLength int `env:"PASSWORD_LENGTH" envDefault:"12"`
	} `envPrefix:"NEW_USER_"`
}

// firstError 只返回聚合错误中的第一个，使得日志更清晰
func firstError(err error) error {
	aggErr := env.AggregateError{}
	if ok := errors.As(err, &aggErr); ok && len(aggErr.Errors) > 0 {
		return aggErr.Errors[0]
	}
	return err
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, firstError(err)
	}

	return cfg, nil
}

// LoadSolverConfig 只读取 SOLVER_ 前缀的配置，不要求数据库等服务的配置存在
func LoadSolverConfig() (*SolverConfig, error) {
	cfg := &SolverConfig{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "SOLVER_"}); err != nil {
		return nil, firstError(err)
	}

	return cfg, nil
}
