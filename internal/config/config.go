package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	SSLRedirect bool   `env:"SSL_REDIRECT" envDefault:"false"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"keyed-auth"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"10080"`

	HashWorkers int `env:"HASH_WORKERS" envDefault:"0"`
	BcryptCost  int `env:"BCRYPT_COST" envDefault:"10"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	PrincipalCacheTTLSeconds int    `env:"PRINCIPAL_CACHE_TTL_SECONDS" envDefault:"300"`
	PurgeCron                string `env:"PURGE_CRON" envDefault:"@every 1h"`
	WorkerConcurrency        int    `env:"WORKER_CONCURRENCY" envDefault:"5"`
	MigrationsOnStart        bool   `env:"MIGRATIONS_ON_START" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
