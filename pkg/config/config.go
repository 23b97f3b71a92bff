package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	SQLite    SQLiteConfig
	Blob      BlobConfig
	Stream    StreamConfig
	Audit     AuditConfig
	Training  TrainingConfig
	Promotion PromotionConfig
	Notify    NotifyConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type BlobConfig struct {
	Root string
}

type StreamConfig struct {
	FeedbackQueue string
	MetricsQueue  string
	BatchSize     int
	Interval      time.Duration
	ReceiveWait   time.Duration

	// Hot-alert thresholds checked each cycle against the current hour.
	ErrorRateAlert        float64
	SatisfactionDropAlert float64
}

type AuditConfig struct {
	Interval time.Duration
	Command  string
	Args     []string
	Timeout  time.Duration

	// Regression thresholds.
	NewErrors              int
	PerformanceDegradation float64
	SatisfactionDrop       float64
	MissingFiles           int
}

type TrainingConfig struct {
	Interval           time.Duration
	MinFeedbackSamples int
	JobPrefix          string
	ExecutorURL        string
	DispatchTimeout    time.Duration
	BaseModel          string
	FineTuningMethod   string
	LearningRate       float64
	Epochs             int
	BatchSize          int
}

type PromotionConfig struct {
	TrafficFraction      float64
	ObservationWindow    time.Duration
	EvaluationInterval   time.Duration
	PerformanceThreshold float64
}

type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/feedback-engine")

	viper.SetEnvPrefix("FEEDBACK_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Stream.BatchSize <= 0 {
		return fmt.Errorf("stream.batchSize must be positive, got %d", c.Stream.BatchSize)
	}
	if c.Promotion.TrafficFraction < 0 || c.Promotion.TrafficFraction > 1 {
		return fmt.Errorf("promotion.trafficFraction must be in [0,1], got %f", c.Promotion.TrafficFraction)
	}
	if c.Training.MinFeedbackSamples <= 0 {
		return fmt.Errorf("training.minFeedbackSamples must be positive, got %d", c.Training.MinFeedbackSamples)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sqlite.path", "./data/feedback-engine.db")
	viper.SetDefault("blob.root", "./data/datasets")

	viper.SetDefault("stream.feedbackQueue", "feedback")
	viper.SetDefault("stream.metricsQueue", "metrics")
	viper.SetDefault("stream.batchSize", 10)
	viper.SetDefault("stream.interval", 30*time.Second)
	viper.SetDefault("stream.receiveWait", 5*time.Second)
	viper.SetDefault("stream.errorRateAlert", 0.05)
	viper.SetDefault("stream.satisfactionDropAlert", 0.1)

	viper.SetDefault("audit.interval", time.Hour)
	viper.SetDefault("audit.command", "./scripts/run-audit.sh")
	viper.SetDefault("audit.timeout", 5*time.Minute)
	viper.SetDefault("audit.newErrors", 10)
	viper.SetDefault("audit.performanceDegradation", 0.2)
	viper.SetDefault("audit.satisfactionDrop", 0.1)
	viper.SetDefault("audit.missingFiles", 1)

	viper.SetDefault("training.interval", 4*time.Hour)
	viper.SetDefault("training.minFeedbackSamples", 100)
	viper.SetDefault("training.jobPrefix", "retrain-")
	viper.SetDefault("training.executorURL", "http://localhost:9090/train")
	viper.SetDefault("training.dispatchTimeout", 10*time.Second)
	viper.SetDefault("training.baseModel", "gpt-3.5-turbo")
	viper.SetDefault("training.fineTuningMethod", "lora")
	viper.SetDefault("training.learningRate", 1e-5)
	viper.SetDefault("training.epochs", 3)
	viper.SetDefault("training.batchSize", 8)

	viper.SetDefault("promotion.trafficFraction", 0.1)
	viper.SetDefault("promotion.observationWindow", time.Hour)
	viper.SetDefault("promotion.evaluationInterval", 5*time.Minute)
	viper.SetDefault("promotion.performanceThreshold", 0.05)

	viper.SetDefault("notify.webhookURL", "")
	viper.SetDefault("notify.timeout", 10*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
