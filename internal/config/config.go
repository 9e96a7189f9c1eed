package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 是覆盖配置项时使用的环境变量前缀，例如 OPENMCP_SUI_STAKE_POOL_ID。
const EnvPrefix = "OPENMCP"

// Config 描述了服务在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Web3      Web3Config      `mapstructure:"web3"`
	Sui       SuiConfig       `mapstructure:"sui"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Contacts  ContactsConfig  `mapstructure:"contacts"`
	TaskQueue TaskQueueConfig `mapstructure:"task_queue"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// MetricsConfig 控制独立的 Prometheus 指标端口。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// AlertingConfig 控制任务终态失败时的告警推送。
type AlertingConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `mapstructure:"level"`
	Format  string      `mapstructure:"format"`
	Outputs []string    `mapstructure:"outputs"`
	Audit   AuditConfig `mapstructure:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LLMConfig 用于配置意图识别模型的调用方式。
type LLMConfig struct {
	Provider string             `mapstructure:"provider"`
	OpenAI   OpenAIConfig       `mapstructure:"openai"`
	Python   PythonBridgeConfig `mapstructure:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `mapstructure:"python_executable"`
	ScriptPath       string `mapstructure:"script_path"`
	WorkingDir       string `mapstructure:"working_dir"`
}

// Web3Config 包含访问 Sui 全节点所需的信息。
type Web3Config struct {
	NetworkConfig  string `mapstructure:"network_config"`
	DefaultNetwork string `mapstructure:"default_network"`
	RPCURL         string `mapstructure:"rpc_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SuiConfig 描述链上合约包与共享对象。
type SuiConfig struct {
	AddressBookPackageID string `mapstructure:"address_book_package_id"`
	AddressBookModule    string `mapstructure:"address_book_module"`
	StakePackageID       string `mapstructure:"stake_package_id"`
	StakeModule          string `mapstructure:"stake_module"`
	StakePoolID          string `mapstructure:"stake_pool_id"`
	GasBudget            string `mapstructure:"gas_budget"`
}

// StorageConfig 描述会话历史的持久化方式。
type StorageConfig struct {
	History HistoryConfig `mapstructure:"history"`
}

// HistoryConfig 支持 memory 与 mysql 两种驱动。
type HistoryConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
}

// ContactsConfig 描述链下加密通讯录。
type ContactsConfig struct {
	PublisherURL  string      `mapstructure:"publisher_url"`
	AggregatorURL string      `mapstructure:"aggregator_url"`
	Epochs        int         `mapstructure:"epochs"`
	SecretKey     string      `mapstructure:"secret_key"`
	Index         IndexConfig `mapstructure:"index"`
}

// IndexConfig 描述账户到 blob ID 的索引存储。
type IndexConfig struct {
	Driver   string      `mapstructure:"driver"`
	Redis    RedisConfig `mapstructure:"redis"`
	Prefix   string      `mapstructure:"prefix"`
	TTLHours int         `mapstructure:"ttl_hours"`
}

// RedisConfig 为 Redis 连接参数。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TaskQueueConfig 描述异步对话任务的队列实现。
type TaskQueueConfig struct {
	Driver     string         `mapstructure:"driver"`
	Workers    int            `mapstructure:"workers"`
	MaxRetries int            `mapstructure:"max_retries"`
	Redis      RedisConfig    `mapstructure:"redis"`
	RedisQueue string         `mapstructure:"redis_queue"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RabbitMQConfig 为 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

// AgentConfig 控制意图解析器的运行参数。
type AgentConfig struct {
	MemoryDepth       int `mapstructure:"memory_depth"`
	LLMTimeoutSeconds int `mapstructure:"llm_timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load 解析指定路径的配置文件，路径为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("alerting.timeout_seconds", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-2024-08-06")
	v.SetDefault("llm.openai.timeout_seconds", 60)
	v.SetDefault("llm.python_bridge.python_executable", "python3")
	v.SetDefault("llm.python_bridge.script_path", "")
	v.SetDefault("llm.python_bridge.working_dir", "")

	v.SetDefault("web3.network_config", "")
	v.SetDefault("web3.default_network", "testnet")
	v.SetDefault("web3.rpc_url", "https://fullnode.testnet.sui.io:443")
	v.SetDefault("web3.timeout_seconds", 10)

	const packageID = "0x8e385abb2ccefc0aed625567e72c8005f06ae3a97d534a25cb8e5dd2b62f6f9c"
	v.SetDefault("sui.address_book_package_id", packageID)
	v.SetDefault("sui.address_book_module", "address_book")
	v.SetDefault("sui.stake_package_id", packageID)
	v.SetDefault("sui.stake_module", "stake")
	v.SetDefault("sui.stake_pool_id", "0x3115704216024fdfb16b823bb5b4f6a7113747ef1c28435fb14e44b5ad19ebd9")
	v.SetDefault("sui.gas_budget", "10000000")

	v.SetDefault("storage.history.driver", "memory")
	v.SetDefault("storage.history.dsn", "")

	v.SetDefault("contacts.publisher_url", "https://publisher.walrus-testnet.walrus.space")
	v.SetDefault("contacts.aggregator_url", "https://aggregator.walrus-testnet.walrus.space")
	v.SetDefault("contacts.epochs", 5)
	v.SetDefault("contacts.secret_key", "")
	v.SetDefault("contacts.index.driver", "memory")
	v.SetDefault("contacts.index.prefix", "openmcp:contacts:")
	v.SetDefault("contacts.index.redis.address", "")
	v.SetDefault("contacts.index.redis.password", "")
	v.SetDefault("contacts.index.redis.db", 0)

	v.SetDefault("task_queue.driver", "memory")
	v.SetDefault("task_queue.workers", 4)
	v.SetDefault("task_queue.max_retries", 3)
	v.SetDefault("task_queue.redis.address", "")
	v.SetDefault("task_queue.redis_queue", "openmcp:chat_tasks")
	v.SetDefault("task_queue.rabbitmq.url", "")
	v.SetDefault("task_queue.rabbitmq.queue", "openmcp.chat_tasks")

	v.SetDefault("agent.memory_depth", 5)
	v.SetDefault("agent.llm_timeout_seconds", 60)
	v.SetDefault("runtime.data_dir", "data")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，并把相对路径解析到配置文件目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Python.WorkingDir) {
		c.LLM.Python.WorkingDir = filepath.Join(baseDir, c.LLM.Python.WorkingDir)
	}
	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	c.Web3.NetworkConfig = resolvePath(baseDir, c.Web3.NetworkConfig)
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
	if c.Sui.StakePackageID == "" {
		c.Sui.StakePackageID = c.Sui.AddressBookPackageID
	}
	if c.Agent.MemoryDepth < 0 {
		c.Agent.MemoryDepth = 0
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate 检查驱动名称等枚举值。
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.LLM.Provider, "openai", "python_bridge") {
		errs = append(errs, fmt.Errorf("不支持的 llm.provider: %s", c.LLM.Provider))
	}
	if !oneOf(c.Storage.History.Driver, "memory", "mysql") {
		errs = append(errs, fmt.Errorf("不支持的 storage.history.driver: %s", c.Storage.History.Driver))
	}
	if c.Storage.History.Driver == "mysql" && strings.TrimSpace(c.Storage.History.DSN) == "" {
		errs = append(errs, errors.New("storage.history.dsn 不能为空"))
	}
	if !oneOf(c.Contacts.Index.Driver, "memory", "redis") {
		errs = append(errs, fmt.Errorf("不支持的 contacts.index.driver: %s", c.Contacts.Index.Driver))
	}
	if !oneOf(c.TaskQueue.Driver, "memory", "redis", "rabbitmq") {
		errs = append(errs, fmt.Errorf("不支持的 task_queue.driver: %s", c.TaskQueue.Driver))
	}
	return errors.Join(errs...)
}

// LedgerTimeout 返回链上调用的超时时间。
func (c *Config) LedgerTimeout() time.Duration {
	return seconds(c.Web3.TimeoutSeconds, 10)
}

// LLMTimeout 返回意图识别调用的超时时间。
func (c *Config) LLMTimeout() time.Duration {
	return seconds(c.Agent.LLMTimeoutSeconds, 60)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if strings.EqualFold(v, o) {
			return true
		}
	}
	return false
}
