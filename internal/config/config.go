package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Port      int             `mapstructure:"port"`
	Secret    string          `mapstructure:"secret"`
	Identity  string          `mapstructure:"identity"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Inspector InspectorConfig `mapstructure:"inspector"`
	Notes     NotesConfig     `mapstructure:"notes"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TokenPath      string        `mapstructure:"token_path"`
	TokenTimeout   time.Duration `mapstructure:"token_timeout"`
	DetectTimeout  time.Duration `mapstructure:"detect_timeout"`
	EmbedTimeout   time.Duration `mapstructure:"embed_timeout"`
	SimilarTimeout time.Duration `mapstructure:"similar_timeout"`
	NoteTimeout    time.Duration `mapstructure:"note_timeout"`
	ListTimeout    time.Duration `mapstructure:"list_timeout"`
}

type RelayConfig struct {
	// PublicURL overrides the relay address returned with the token.
	PublicURL        string        `mapstructure:"public_url"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

type InspectorConfig struct {
	DetectFallback   bool    `mapstructure:"detect_fallback"`
	SimilarTopK      int     `mapstructure:"similar_top_k"`
	SimilarThreshold float64 `mapstructure:"similar_threshold"`
}

type NotesConfig struct {
	SavedDisplayDelay time.Duration `mapstructure:"saved_display_delay"`
}

type CaptureConfig struct {
	// WAVPath feeds the capture device; empty means no microphone.
	WAVPath       string        `mapstructure:"wav_path"`
	FrameDuration time.Duration `mapstructure:"frame_duration"`
	TempDir       string        `mapstructure:"temp_dir"`
}

type MQTTConfig struct {
	Server      string `mapstructure:"server"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
	Encoding    string `mapstructure:"encoding"`
}

type LimitsConfig struct {
	ScanPerMinute    int `mapstructure:"scan_per_minute"`
	ConnectPerMinute int `mapstructure:"connect_per_minute"`
}

// Load reads config/config.<CONFIG_ENV>.yaml unless path is set.
// FIELDLINK_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := path
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("fieldlink")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("backend", cfg.Backend.BaseURL).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("secret", "fieldlink-dev-secret")
	v.SetDefault("identity", "manager")

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.token_path", "/api/streaming/livekit/token/manager")
	v.SetDefault("backend.token_timeout", "30s")
	v.SetDefault("backend.detect_timeout", "5m")
	v.SetDefault("backend.embed_timeout", "120s")
	v.SetDefault("backend.similar_timeout", "120s")
	v.SetDefault("backend.note_timeout", "90s")
	v.SetDefault("backend.list_timeout", "60s")

	v.SetDefault("relay.public_url", "")
	v.SetDefault("relay.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("relay.handshake_timeout", "15s")
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.read_limit", 1<<20)

	v.SetDefault("inspector.detect_fallback", true)
	v.SetDefault("inspector.similar_top_k", 1)
	v.SetDefault("inspector.similar_threshold", 0.0)

	v.SetDefault("notes.saved_display_delay", "1500ms")

	v.SetDefault("capture.wav_path", "")
	v.SetDefault("capture.frame_duration", "20ms")
	v.SetDefault("capture.temp_dir", "")

	v.SetDefault("mqtt.server", "")
	v.SetDefault("mqtt.client_id", "fieldlink")
	v.SetDefault("mqtt.topic_prefix", "fieldlink")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.encoding", "json")

	v.SetDefault("limits.scan_per_minute", 20)
	v.SetDefault("limits.connect_per_minute", 10)
}
