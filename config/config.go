// Package config loads the service configuration from defaults, an optional
// config file, a .env file and HOTLINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/escalation"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, with "." mapped to "_":
// records.sqlite_path is read from HOTLINE_RECORDS_SQLITE_PATH.
const EnvPrefix = "HOTLINE"

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Records    RecordsConfig    `mapstructure:"records"`
	Session    SessionConfig    `mapstructure:"session"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Speech     SpeechConfig     `mapstructure:"speech"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Twilio     TwilioConfig     `mapstructure:"twilio"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Background BackgroundConfig `mapstructure:"background"`
	Synthesis  SynthesisConfig  `mapstructure:"synthesis"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicURL is where Twilio reaches this service.
	PublicURL      string        `mapstructure:"public_url"`
	SegmentTimeout time.Duration `mapstructure:"segment_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type AudioConfig struct {
	Root string `mapstructure:"root"`
	// Fallback is the artifact played whenever a reply cannot be synthesized.
	Fallback string `mapstructure:"fallback"`
}

type RecordsConfig struct {
	Driver      string        `mapstructure:"driver"` // sqlite, supabase
	SQLitePath  string        `mapstructure:"sqlite_path"`
	SupabaseURL string        `mapstructure:"supabase_url"`
	SupabaseKey string        `mapstructure:"supabase_key"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type SessionConfig struct {
	Driver    string        `mapstructure:"driver"` // memory, redis
	RedisURL  string        `mapstructure:"redis_url"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type MemoryConfig struct {
	Driver         string  `mapstructure:"driver"` // none, chromem, qdrant
	Dir            string  `mapstructure:"dir"`
	QdrantURL      string  `mapstructure:"qdrant_url"`
	QdrantAPIKey   string  `mapstructure:"qdrant_api_key"`
	Collection     string  `mapstructure:"collection"`
	MinScore       float32 `mapstructure:"min_score"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Limit          int     `mapstructure:"limit"`
}

type SpeechConfig struct {
	Driver            string  `mapstructure:"driver"` // none, sarvam
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	TokenBudget int     `mapstructure:"token_budget"`
	// Tokenizer selects the token counter: estimate or tiktoken.
	Tokenizer string `mapstructure:"tokenizer"`
}

type RiskConfig struct {
	// ModelURL of the classifier inference service. Empty uses keywords only.
	ModelURL string        `mapstructure:"model_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SafetyConfig struct {
	Scorer    string  `mapstructure:"scorer"` // keyword, llm
	Threshold float64 `mapstructure:"threshold"`
}

type TwilioConfig struct {
	AccountSID            string `mapstructure:"account_sid"`
	AuthToken             string `mapstructure:"auth_token"`
	FromNumber            string `mapstructure:"from_number"`
	ValidateSignatures    bool   `mapstructure:"validate_signatures"`
	MaxSegmentSeconds     int    `mapstructure:"max_segment_seconds"`
	SilenceTimeoutSeconds int    `mapstructure:"silence_timeout_seconds"`
}

// Dialable reports whether outbound alert calls can be placed.
func (t TwilioConfig) Dialable() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

type EscalationConfig struct {
	Contacts    []escalation.Contact `mapstructure:"contacts"`
	Concurrency int                  `mapstructure:"concurrency"`
	DialTimeout time.Duration        `mapstructure:"dial_timeout"`
}

type BackgroundConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type SynthesisConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts int           `mapstructure:"poll_max_attempts"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.segment_timeout", 2*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("audio.root", "data/audio")
	v.SetDefault("audio.fallback", "assets/fallback.wav")

	v.SetDefault("records.driver", "sqlite")
	v.SetDefault("records.sqlite_path", "data/hotline.db")
	v.SetDefault("records.supabase_url", "")
	v.SetDefault("records.supabase_key", "")
	v.SetDefault("records.cache_ttl", 5*time.Minute)

	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.redis_url", "")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.key_prefix", "hotline:call:")

	v.SetDefault("memory.driver", "none")
	v.SetDefault("memory.dir", "data/memory")
	v.SetDefault("memory.qdrant_url", "")
	v.SetDefault("memory.qdrant_api_key", "")
	v.SetDefault("memory.collection", "caller_memories")
	v.SetDefault("memory.min_score", 0)
	v.SetDefault("memory.embedding_model", "text-embedding-3-small")
	v.SetDefault("memory.limit", 2)

	v.SetDefault("speech.driver", "none")
	v.SetDefault("speech.base_url", "https://api.sarvam.ai")
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.requests_per_second", 5)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.token_budget", 125000)
	v.SetDefault("llm.tokenizer", "estimate")

	v.SetDefault("risk.model_url", "")
	v.SetDefault("risk.timeout", 10*time.Second)

	v.SetDefault("safety.scorer", "keyword")
	v.SetDefault("safety.threshold", 0.5)

	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from_number", "")
	v.SetDefault("twilio.validate_signatures", true)
	v.SetDefault("twilio.max_segment_seconds", 30)
	v.SetDefault("twilio.silence_timeout_seconds", 3)

	v.SetDefault("escalation.concurrency", 0)
	v.SetDefault("escalation.dial_timeout", 15*time.Second)

	v.SetDefault("background.workers", 4)
	v.SetDefault("background.queue_size", 64)
	v.SetDefault("background.task_timeout", 30*time.Second)

	v.SetDefault("synthesis.poll_interval", 500*time.Millisecond)
	v.SetDefault("synthesis.poll_max_attempts", 20)
	v.SetDefault("synthesis.poll_timeout", 10*time.Second)
}

// vendorEnv maps keys to the unprefixed variable names vendors document.
var vendorEnv = map[string]string{
	"speech.api_key":     "SARVAM_API_KEY",
	"twilio.account_sid": "TWILIO_ACCOUNT_SID",
	"twilio.auth_token":  "TWILIO_AUTH_TOKEN",
	"twilio.from_number": "TWILIO_PHONE_NUMBER",
	"llm.api_key":        "OPENAI_API_KEY",
}

// Options controls Load.
type Options struct {
	// File is an optional YAML, TOML or JSON config file.
	File string
	// DotEnv files are loaded into the environment first. Missing files are
	// ignored. Variables already set win.
	DotEnv []string
}

// Load builds a Config. It does not validate it.
func Load(opts Options) (*Config, error) {
	for _, f := range opts.DotEnv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range vendorEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the combinations Load cannot.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.PublicURL != "", "server.public_url is required")
	check(c.Audio.Root != "", "audio.root is required")
	check(c.Audio.Fallback != "", "audio.fallback is required")

	switch c.Records.Driver {
	case "sqlite":
		check(c.Records.SQLitePath != "", "records.sqlite_path is required")
	case "supabase":
		check(c.Records.SupabaseURL != "" && c.Records.SupabaseKey != "", "records.supabase_url and records.supabase_key are required")
	default:
		check(false, "records.driver %q must be sqlite or supabase", c.Records.Driver)
	}

	switch c.Session.Driver {
	case "memory":
	case "redis":
		check(c.Session.RedisURL != "", "session.redis_url is required")
	default:
		check(false, "session.driver %q must be memory or redis", c.Session.Driver)
	}

	switch c.Memory.Driver {
	case "none":
	case "chromem", "qdrant":
		check(c.LLM.APIKey != "", "llm.api_key is required for memory embeddings")
		check(c.Memory.Driver != "qdrant" || c.Memory.QdrantURL != "", "memory.qdrant_url is required")
	default:
		check(false, "memory.driver %q must be none, chromem or qdrant", c.Memory.Driver)
	}

	switch c.Speech.Driver {
	case "none":
	case "sarvam":
		check(c.Speech.APIKey != "", "speech.api_key is required")
	default:
		check(false, "speech.driver %q must be none or sarvam", c.Speech.Driver)
	}

	check(c.LLM.APIKey != "", "llm.api_key is required")
	check(c.LLM.TokenBudget > 0, "llm.token_budget must be positive")
	check(c.LLM.Tokenizer == "estimate" || c.LLM.Tokenizer == "tiktoken", "llm.tokenizer %q must be estimate or tiktoken", c.LLM.Tokenizer)
	check(c.Safety.Scorer == "keyword" || c.Safety.Scorer == "llm", "safety.scorer %q must be keyword or llm", c.Safety.Scorer)
	check(c.Safety.Threshold > 0 && c.Safety.Threshold <= 1, "safety.threshold must be in (0, 1]")
	check(!c.Twilio.ValidateSignatures || c.Twilio.AuthToken != "", "twilio.auth_token is required to validate signatures")

	check(len(c.Escalation.Contacts) > 0, "escalation.contacts must list at least one contact")
	for i, contact := range c.Escalation.Contacts {
		check(contact.Name != "" && contact.Phone != "", "escalation.contacts[%d] needs a name and phone", i)
		switch contact.Type {
		case escalation.ContactSupervisor, escalation.ContactEmergency, escalation.ContactCrisisTeam:
		default:
			check(false, "escalation.contacts[%d] type %q is unknown", i, contact.Type)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", hotline.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
