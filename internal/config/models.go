package config

import (
	"fmt"
	"time"
)

// PatternsConfig locates the pattern tables
type PatternsConfig struct {
	Path           string
	ReloadInterval time.Duration
}

// TrustConfig represents the configuration for the sender trust scorer
type TrustConfig struct {
	Enabled          bool
	LookupTimeout    time.Duration
	CacheTTL         time.Duration
	DNSServer        string
	DKIMSelectors    []string
	TLSInspection    bool
	WhoisEnabled     bool
	CorroborateBelow float64
}

// VendorConfig represents the configuration for vendor intent classification
type VendorConfig struct {
	TieGap          float64
	ContentBoost    float64
	MarketingBoost  float64
	PreferencesPath string
}

// StatisticalConfig represents the configuration for the trained classifier
type StatisticalConfig struct {
	Enabled        bool
	ModelPath      string
	MinSamples     int
	CategoryGate   float64
	Epochs         int
	LearningRate   float64
	L2             float64
	DriftThreshold float64
}

// SubcategoryConfig controls pattern hit recording
type SubcategoryConfig struct {
	RecordHits    bool
	FlushInterval time.Duration
}

// CacheConfig represents the configuration for the trust intel cache
type CacheConfig struct {
	Type             string
	Capacity         int
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// StoreConfig locates the classification store
type StoreConfig struct {
	Driver string
	DSN    string
}

// FeedbackConfig selects where feedback is queued
type FeedbackConfig struct {
	Sink       string
	AMQPURL    string
	Exchange   string
	RoutingKey string
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Enabled         bool
	Provider        string
	BelowConfidence float64
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// HeadersConfig names the result headers stamped by the filter
type HeadersConfig struct {
	Category   string
	Confidence string
	Reason     string
	Preserve   string
	Threat     string
}

// ServerConfig represents the configuration for the Postfix content filter
type ServerConfig struct {
	ListenAddress   string
	PostfixAddress  string
	PostfixPort     int
	PostfixEnabled  bool
	BlockDeletes    bool
	ModifySubject   bool
	SubjectPrefix   string
	RecordOutcomes  bool
	ClassifyTimeout time.Duration
	Headers         HeadersConfig
}

// GetPatterns returns the pattern library configuration
func (c *Config) GetPatterns() (PatternsConfig, error) {
	interval, err := c.GetDuration("patterns.reload_interval")
	if err != nil {
		return PatternsConfig{}, err
	}
	return PatternsConfig{
		Path:           c.GetString("patterns.path"),
		ReloadInterval: interval,
	}, nil
}

// GetTrust returns the trust scorer configuration
func (c *Config) GetTrust() (TrustConfig, error) {
	timeout, err := c.GetDuration("trust.lookup_timeout")
	if err != nil {
		return TrustConfig{}, err
	}
	ttl, err := c.GetDuration("trust.cache_ttl")
	if err != nil {
		return TrustConfig{}, err
	}
	return TrustConfig{
		Enabled:          c.GetBool("trust.enabled"),
		LookupTimeout:    timeout,
		CacheTTL:         ttl,
		DNSServer:        c.GetString("trust.dns_server"),
		DKIMSelectors:    c.GetStringSlice("trust.dkim_selectors"),
		TLSInspection:    c.GetBool("trust.tls_inspection"),
		WhoisEnabled:     c.GetBool("trust.whois_enabled"),
		CorroborateBelow: c.GetFloat64("trust.corroborate_below"),
	}, nil
}

// GetVendor returns the vendor classifier configuration
func (c *Config) GetVendor() VendorConfig {
	return VendorConfig{
		TieGap:          c.GetFloat64("vendor.tie_gap"),
		ContentBoost:    c.GetFloat64("vendor.content_boost"),
		MarketingBoost:  c.GetFloat64("vendor.marketing_boost"),
		PreferencesPath: c.GetString("vendor.preferences_path"),
	}
}

// GetStatistical returns the statistical classifier configuration
func (c *Config) GetStatistical() StatisticalConfig {
	return StatisticalConfig{
		Enabled:        c.GetBool("statistical.enabled"),
		ModelPath:      c.GetString("statistical.model_path"),
		MinSamples:     c.GetInt("statistical.min_samples"),
		CategoryGate:   c.GetFloat64("statistical.category_gate"),
		Epochs:         c.GetInt("statistical.epochs"),
		LearningRate:   c.GetFloat64("statistical.learning_rate"),
		L2:             c.GetFloat64("statistical.l2"),
		DriftThreshold: c.GetFloat64("statistical.drift_threshold"),
	}
}

// GetSubcategory returns the subcategory hit recording configuration
func (c *Config) GetSubcategory() (SubcategoryConfig, error) {
	interval, err := c.GetDuration("subcategory.flush_interval")
	if err != nil {
		return SubcategoryConfig{}, err
	}
	return SubcategoryConfig{
		RecordHits:    c.GetBool("subcategory.record_hits"),
		FlushInterval: interval,
	}, nil
}

// GetCache returns the cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	freq, err := c.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return CacheConfig{}, err
	}
	return CacheConfig{
		Type:             c.GetString("cache.type"),
		Capacity:         c.GetInt("cache.capacity"),
		CleanupFrequency: freq,
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
		RedisAddr:        c.GetString("cache.redis_addr"),
		RedisPassword:    c.GetString("cache.redis_password"),
		RedisDB:          c.GetInt("cache.redis_db"),
	}, nil
}

// GetStore returns the classification store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Driver: c.GetString("store.driver"),
		DSN:    c.GetString("store.dsn"),
	}
}

// GetFeedback returns the feedback sink configuration
func (c *Config) GetFeedback() FeedbackConfig {
	return FeedbackConfig{
		Sink:       c.GetString("feedback.sink"),
		AMQPURL:    c.GetString("feedback.amqp_url"),
		Exchange:   c.GetString("feedback.exchange"),
		RoutingKey: c.GetString("feedback.routing_key"),
	}
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Enabled:         c.GetBool("llm.enabled"),
		Provider:        c.GetString("llm.provider"),
		BelowConfidence: c.GetFloat64("llm.below_confidence"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetServer returns the content filter configuration
func (c *Config) GetServer() (ServerConfig, error) {
	timeout, err := c.GetDuration("server.classify_timeout")
	if err != nil {
		return ServerConfig{}, err
	}
	port := c.GetInt("server.postfix.port")
	if port <= 0 || port > 65535 {
		return ServerConfig{}, fmt.Errorf("invalid server.postfix.port %d", port)
	}
	return ServerConfig{
		ListenAddress:   c.GetString("server.listen_address"),
		PostfixAddress:  c.GetString("server.postfix.address"),
		PostfixPort:     port,
		PostfixEnabled:  c.GetBool("server.postfix.enabled"),
		BlockDeletes:    c.GetBool("server.block_deletes"),
		ModifySubject:   c.GetBool("server.modify_subject"),
		SubjectPrefix:   c.GetString("server.subject_prefix"),
		RecordOutcomes:  c.GetBool("server.record_outcomes"),
		ClassifyTimeout: timeout,
		Headers: HeadersConfig{
			Category:   c.GetString("server.headers.category"),
			Confidence: c.GetString("server.headers.confidence"),
			Reason:     c.GetString("server.headers.reason"),
			Preserve:   c.GetString("server.headers.preserve"),
			Threat:     c.GetString("server.headers.threat"),
		},
	}, nil
}

// MetricsAddress is where the Prometheus endpoint listens. Empty disables it.
func (c *Config) MetricsAddress() string {
	return c.GetString("metrics.listen_address")
}
