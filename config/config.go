// canvascast/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Generation service
	FFBin               string        `mapstructure:"FF_BIN"`
	FFTimeout           time.Duration `mapstructure:"FF_TIMEOUT"`
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	MaxConcurrency      int           `mapstructure:"MAX_CONCURRENCY"`
	ThrottleCPU         float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem     int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk    int64         `mapstructure:"THROTTLE_FREEDISK"`
	GenDuration         time.Duration `mapstructure:"GEN_DURATION"`
	GenSize             string        `mapstructure:"GEN_SIZE"`
	GenExtraArgs        string        `mapstructure:"GEN_EXTRA_ARGS"`
	AuthEnable          bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey             string        `mapstructure:"AUTH_KEY"`
	RateLimit           float64       `mapstructure:"RATE_LIMIT"`
	RateBurst           int           `mapstructure:"RATE_BURST"`
	Port                string        `mapstructure:"PORT"`
	BaseURL             string        `mapstructure:"BASE"`

	// Recording
	CaptureFormat    string        `mapstructure:"CAPTURE_FORMAT"`
	CaptureInput     string        `mapstructure:"CAPTURE_INPUT"`
	CaptureSize      string        `mapstructure:"CAPTURE_SIZE"`
	AudioFormat      string        `mapstructure:"AUDIO_FORMAT"`
	AudioInput       string        `mapstructure:"AUDIO_INPUT"`
	TargetFPS        int           `mapstructure:"TARGET_FPS"`
	VideoBitrate     int           `mapstructure:"VIDEO_BITRATE"`
	AudioBitrate     int           `mapstructure:"AUDIO_BITRATE"`
	PreferredFormats []string      `mapstructure:"PREFERRED_FORMATS"`
	Timeslice        time.Duration `mapstructure:"TIMESLICE"`
	StartGrace       time.Duration `mapstructure:"START_GRACE"`
	TrailingGrace    time.Duration `mapstructure:"TRAILING_GRACE"`
	ExportDir        string        `mapstructure:"EXPORT_DIR"`

	// Narration
	SpeechBin      string        `mapstructure:"SPEECH_BIN"`
	SpeechRate     float64       `mapstructure:"SPEECH_RATE"`
	SpeechPitch    float64       `mapstructure:"SPEECH_PITCH"`
	SpeechVolume   float64       `mapstructure:"SPEECH_VOLUME"`
	NarrationPause time.Duration `mapstructure:"NARRATION_PAUSE"`

	// Remote job polling
	JobAPIURL    string        `mapstructure:"JOB_API_URL"`
	JobAPIKey    string        `mapstructure:"JOB_API_KEY"`
	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	TempDir string
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// DefaultPreferredFormats lists recorder container/codec choices in descending preference.
var DefaultPreferredFormats = []string{
	"video/mp4;codecs=avc1,mp4a",
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
}

func Load() (*Config, error) {
	// A missing .env is fine; real env and defaults still apply.
	_ = godotenv.Load()

	vp := viper.New()

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_TIMEOUT", "12m3s")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "1h23m")
	vp.SetDefault("MAX_CONCURRENCY", 1)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("GEN_DURATION", "6s")
	vp.SetDefault("GEN_SIZE", "1280x720")
	vp.SetDefault("GEN_EXTRA_ARGS", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("RATE_LIMIT", 5.0)
	vp.SetDefault("RATE_BURST", 10)
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")

	vp.SetDefault("CAPTURE_FORMAT", "x11grab")
	vp.SetDefault("CAPTURE_INPUT", ":0.0")
	vp.SetDefault("CAPTURE_SIZE", "")
	vp.SetDefault("AUDIO_FORMAT", "pulse")
	vp.SetDefault("AUDIO_INPUT", "default")
	vp.SetDefault("TARGET_FPS", 30)
	vp.SetDefault("VIDEO_BITRATE", 2500000)
	vp.SetDefault("AUDIO_BITRATE", 128000)
	vp.SetDefault("PREFERRED_FORMATS", strings.Join(DefaultPreferredFormats, " "))
	vp.SetDefault("TIMESLICE", "1s")
	vp.SetDefault("START_GRACE", "500ms")
	vp.SetDefault("TRAILING_GRACE", "1s")
	vp.SetDefault("EXPORT_DIR", ".")

	vp.SetDefault("SPEECH_BIN", "espeak")
	vp.SetDefault("SPEECH_RATE", 1.0)
	vp.SetDefault("SPEECH_PITCH", 1.0)
	vp.SetDefault("SPEECH_VOLUME", 1.0)
	vp.SetDefault("NARRATION_PAUSE", "500ms")

	vp.SetDefault("JOB_API_URL", "http://localhost:8080/api/v1")
	vp.SetDefault("JOB_API_KEY", "")
	vp.SetDefault("POLL_INTERVAL", "3s")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "json")

	vp.SetConfigName("canvascast_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/canvascast/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("CANVASCAST")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(" "),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
