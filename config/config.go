package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/open4go/streamflow/kf"
	"github.com/spf13/viper"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid configuration")

var replacer = strings.NewReplacer(".", "_")

// Config 运行参数
type Config struct {
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Emit   EmitConfig   `mapstructure:"emit"`
	NiFi   NiFiConfig   `mapstructure:"nifi"`
	Flow   FlowConfig   `mapstructure:"flow"`
	Report ReportConfig `mapstructure:"report"`
}

// KafkaConfig 对应 bootstrap.servers 以及目标 topic
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	Verify        bool          `mapstructure:"verify"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

// EmitConfig 发送条数与间隔
type EmitConfig struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

// NiFiConfig NiFi 管理接口
type NiFiConfig struct {
	URL                string        `mapstructure:"url"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// FlowConfig 需要查找的组件名称
type FlowConfig struct {
	ProcessGroup string `mapstructure:"process_group"`
	InputPort    string `mapstructure:"input_port"`
	OutputPort   string `mapstructure:"output_port"`
	Processor    string `mapstructure:"processor"`
}

// ReportConfig 运行报告输出，地址为空表示不启用
type ReportConfig struct {
	Redis RedisReportConfig `mapstructure:"redis"`
	AMQP  AMQPReportConfig  `mapstructure:"amqp"`
	Mongo MongoReportConfig `mapstructure:"mongo"`
}

// RedisReportConfig 报告发布到 redis 频道，并保存最近一次报告
type RedisReportConfig struct {
	Addr    string        `mapstructure:"addr"`
	Channel string        `mapstructure:"channel"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// AMQPReportConfig 报告写入 RabbitMQ 队列
type AMQPReportConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// MongoReportConfig 报告写入 mongo 集合
type MongoReportConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// SetDefaults 写入默认值，与最初的硬编码运行保持一致
func SetDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", kf.DefaultTopic)
	v.SetDefault("kafka.verify", false)
	v.SetDefault("kafka.verify_timeout", 30*time.Second)

	v.SetDefault("emit.count", 10)
	v.SetDefault("emit.interval", time.Second)

	v.SetDefault("nifi.url", "http://localhost:8080/nifi-api")
	v.SetDefault("nifi.username", "")
	v.SetDefault("nifi.password", "")
	v.SetDefault("nifi.insecure_skip_verify", false)
	v.SetDefault("nifi.timeout", 30*time.Second)

	v.SetDefault("flow.process_group", "My Process Group")
	v.SetDefault("flow.input_port", "My Input Port")
	v.SetDefault("flow.output_port", "My Output Port")
	v.SetDefault("flow.processor", "Kafka Producer")

	v.SetDefault("report.redis.addr", "")
	v.SetDefault("report.redis.channel", "streamflow:runs")
	v.SetDefault("report.redis.ttl", 24*time.Hour)
	v.SetDefault("report.amqp.url", "")
	v.SetDefault("report.amqp.queue", "streamflow.runs")
	v.SetDefault("report.mongo.uri", "")
	v.SetDefault("report.mongo.database", "streamflow")
	v.SetDefault("report.mongo.collection", "runs")
}

// New 创建带默认值、环境变量覆盖的 viper 实例
//
// 环境变量形如 STREAMFLOW_KAFKA_TOPIC
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigName("streamflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/streamflow")
	v.SetEnvPrefix("streamflow")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()
	return v
}

// Load 读取配置文件（可选）并解析
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// 环境变量里的 broker 列表是逗号分隔的字符串
	cfg.Kafka.Brokers = splitList(strings.Join(cfg.Kafka.Brokers, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.brokers is empty", ErrInvalidConfig)
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("%w: kafka.topic is empty", ErrInvalidConfig)
	}
	if c.Emit.Count < 0 {
		return fmt.Errorf("%w: emit.count must not be negative", ErrInvalidConfig)
	}
	if c.Emit.Interval < 0 {
		return fmt.Errorf("%w: emit.interval must not be negative", ErrInvalidConfig)
	}
	u, err := url.Parse(c.NiFi.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: nifi.url %q is not an absolute url", ErrInvalidConfig, c.NiFi.URL)
	}
	if c.NiFi.Username != "" && c.NiFi.Password == "" {
		return fmt.Errorf("%w: nifi.password is required with nifi.username", ErrInvalidConfig)
	}
	names := map[string]string{
		"flow.process_group": c.Flow.ProcessGroup,
		"flow.input_port":    c.Flow.InputPort,
		"flow.output_port":   c.Flow.OutputPort,
		"flow.processor":     c.Flow.Processor,
	}
	for key, name := range names {
		if name == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, key)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
