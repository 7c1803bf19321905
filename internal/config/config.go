package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file preloaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	CallToken CallTokenConfig
	Gateway   GatewayConfig
	Twilio    TwilioConfig
	WhatsApp  WhatsAppConfig
	AI        AIConfig
	Bot       BotConfig
	Queue     QueueConfig
	Monitor   MonitorConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	// DefaultTier applies when the CRM account record carries no tier.
	DefaultTier string
	// WSOrigins are extra origins allowed to open the agent websocket.
	WSOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig covers agent access tokens for the /v1 API.
type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// CallTokenConfig covers the short-lived tokens handed to the browser for the gateway.
// The secret is stable per deployment.
type CallTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type GatewayConfig struct {
	// Backend selects the single active adapter: valve, janus, mediasoup, livekit.
	Backend string
	// EventToken authenticates POST /gateway/events.
	EventToken    string
	CreateTimeout time.Duration

	Valve     ValveConfig
	Janus     JanusConfig
	MediaSoup MediaSoupConfig
	LiveKit   LiveKitConfig

	// STUNCheck enables a reachability check of the configured STUN servers.
	STUNCheck        bool
	STUNCheckTimeout time.Duration
}

type ValveConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
}

type JanusConfig struct {
	Enabled        bool
	ServerURL      string
	AdminURL       string
	APISecret      string
	STUNServers    string // JSON list of {"urls": ...}
	TURNURL        string
	TURNUsername   string
	TURNCredential string
}

type MediaSoupConfig struct {
	Enabled      bool
	SignalingURL string
	RTCMinPort   int
	RTCMaxPort   int
	ICEServers   string // JSON list of {"urls": ..., "username": ..., "credential": ...}
	Codecs       string // comma separated codec preference, e.g. "opus,PCMU"
}

type LiveKitConfig struct {
	Enabled   bool
	ServerURL string
	APIKey    string
	APISecret string
}

// TwilioConfig is used only for TURN credentials (Network Traversal Service).
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

type WhatsAppConfig struct {
	GraphBaseURL     string
	AccessToken      string
	PhoneNumberID    string
	BusinessNumber   string
	AppSecret        string
	VerifyToken      string
	BotEnabled       bool
	DefaultLeadOwner string
}

type AIConfig struct {
	// Provider selects the completion backend: openai or anthropic.
	Provider       string
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
}

type BotConfig struct {
	HistoryLimit        int
	EscalationThreshold int
	InactiveAfter       time.Duration
	// SalesAgents is the escalation assignment pool, "user" or "user:weight".
	SalesAgents []string

	CompanyName     string
	CompanyIndustry string
	CompanyProducts string
	CompanyContact  string
}

type QueueConfig struct {
	// Backend is one of memory, redis, amqp.
	Backend string
	Name    string
	AMQPURL string
	Workers int
}

type MonitorConfig struct {
	QualityInterval time.Duration
	SweepInterval   time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	c.App.DefaultTier = strings.TrimSpace(os.Getenv("ACCOUNT_TIER"))
	c.App.WSOrigins = splitList(os.Getenv("WS_ALLOWED_ORIGINS"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optInt("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.CallToken.Secret = os.Getenv("CALL_TOKEN_SECRET")
	c.CallToken.Issuer = strings.TrimSpace(os.Getenv("CALL_TOKEN_ISSUER"))
	c.CallToken.TTL = mustDuration("CALL_TOKEN_TTL")

	c.Gateway.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("GATEWAY_BACKEND")))
	c.Gateway.EventToken = os.Getenv("GATEWAY_EVENT_TOKEN")
	c.Gateway.CreateTimeout = mustDuration("GATEWAY_CREATE_TIMEOUT")
	c.Gateway.STUNCheck = optBool("GATEWAY_STUN_CHECK")
	c.Gateway.STUNCheckTimeout = mustDuration("GATEWAY_STUN_CHECK_TIMEOUT")

	c.Gateway.Valve.Enabled = optBool("VALVE_ENABLED")
	c.Gateway.Valve.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("VALVE_BASE_URL")), "/")
	c.Gateway.Valve.APIKey = os.Getenv("VALVE_API_KEY")

	c.Gateway.Janus.Enabled = optBool("JANUS_ENABLED")
	c.Gateway.Janus.ServerURL = strings.TrimRight(strings.TrimSpace(os.Getenv("JANUS_SERVER_URL")), "/")
	c.Gateway.Janus.AdminURL = strings.TrimRight(strings.TrimSpace(os.Getenv("JANUS_ADMIN_URL")), "/")
	c.Gateway.Janus.APISecret = os.Getenv("JANUS_API_SECRET")
	c.Gateway.Janus.STUNServers = strings.TrimSpace(os.Getenv("JANUS_STUN_SERVERS"))
	c.Gateway.Janus.TURNURL = strings.TrimSpace(os.Getenv("JANUS_TURN_URL"))
	c.Gateway.Janus.TURNUsername = os.Getenv("JANUS_TURN_USERNAME")
	c.Gateway.Janus.TURNCredential = os.Getenv("JANUS_TURN_CREDENTIAL")

	c.Gateway.MediaSoup.Enabled = optBool("MEDIASOUP_ENABLED")
	c.Gateway.MediaSoup.SignalingURL = strings.TrimSpace(os.Getenv("MEDIASOUP_SIGNALING_URL"))
	{
		n, err := optInt("MEDIASOUP_RTC_MIN_PORT", 40000)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Gateway.MediaSoup.RTCMinPort = n
	}
	{
		n, err := optInt("MEDIASOUP_RTC_MAX_PORT", 49999)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Gateway.MediaSoup.RTCMaxPort = n
	}
	c.Gateway.MediaSoup.ICEServers = strings.TrimSpace(os.Getenv("MEDIASOUP_ICE_SERVERS"))
	c.Gateway.MediaSoup.Codecs = strings.TrimSpace(os.Getenv("MEDIASOUP_CODECS"))

	c.Gateway.LiveKit.Enabled = optBool("LIVEKIT_ENABLED")
	c.Gateway.LiveKit.ServerURL = strings.TrimSpace(os.Getenv("LIVEKIT_SERVER_URL"))
	c.Gateway.LiveKit.APIKey = os.Getenv("LIVEKIT_API_KEY")
	c.Gateway.LiveKit.APISecret = os.Getenv("LIVEKIT_API_SECRET")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	c.WhatsApp.GraphBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("WHATSAPP_GRAPH_BASE_URL")), "/")
	c.WhatsApp.AccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	c.WhatsApp.PhoneNumberID = strings.TrimSpace(os.Getenv("WHATSAPP_PHONE_NUMBER_ID"))
	c.WhatsApp.BusinessNumber = strings.TrimSpace(os.Getenv("WHATSAPP_BUSINESS_NUMBER"))
	c.WhatsApp.AppSecret = os.Getenv("WHATSAPP_APP_SECRET")
	c.WhatsApp.VerifyToken = os.Getenv("WHATSAPP_VERIFY_TOKEN")
	c.WhatsApp.BotEnabled = optBool("WHATSAPP_BOT_ENABLED")
	c.WhatsApp.DefaultLeadOwner = strings.TrimSpace(os.Getenv("WHATSAPP_DEFAULT_LEAD_OWNER"))

	c.AI.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	c.AI.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.AI.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	c.AI.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	c.AI.AnthropicModel = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))

	{
		n, err := optInt("BOT_HISTORY_LIMIT", 20)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Bot.HistoryLimit = n
	}
	{
		n, err := optInt("BOT_ESCALATION_THRESHOLD", 70)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Bot.EscalationThreshold = n
	}
	c.Bot.InactiveAfter = mustDuration("BOT_INACTIVE_AFTER")
	c.Bot.SalesAgents = splitList(os.Getenv("SALES_AGENTS"))
	c.Bot.CompanyName = strings.TrimSpace(os.Getenv("COMPANY_NAME"))
	c.Bot.CompanyIndustry = strings.TrimSpace(os.Getenv("COMPANY_INDUSTRY"))
	c.Bot.CompanyProducts = strings.TrimSpace(os.Getenv("COMPANY_PRODUCTS"))
	c.Bot.CompanyContact = strings.TrimSpace(os.Getenv("COMPANY_CONTACT"))

	c.Queue.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_BACKEND")))
	c.Queue.Name = strings.TrimSpace(os.Getenv("QUEUE_NAME"))
	c.Queue.AMQPURL = os.Getenv("AMQP_URL")
	{
		n, err := optInt("QUEUE_WORKERS", 4)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Queue.Workers = n
	}

	c.Monitor.QualityInterval = mustDuration("QUALITY_CHECK_INTERVAL")
	c.Monitor.SweepInterval = mustDuration("CONVERSATION_SWEEP_INTERVAL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills optional values. Validate never mutates.
func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.CallToken.Issuer == "" {
		c.CallToken.Issuer = "whatsapp-calling"
	}
	if c.CallToken.TTL <= 0 {
		c.CallToken.TTL = 60 * time.Minute
	}
	if c.Gateway.CreateTimeout <= 0 {
		c.Gateway.CreateTimeout = 30 * time.Second
	}
	if c.Gateway.STUNCheckTimeout <= 0 {
		c.Gateway.STUNCheckTimeout = 5 * time.Second
	}
	if c.WhatsApp.GraphBaseURL == "" {
		c.WhatsApp.GraphBaseURL = "https://graph.facebook.com/v17.0"
	}
	if c.WhatsApp.DefaultLeadOwner == "" {
		c.WhatsApp.DefaultLeadOwner = "Administrator"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "anthropic"
	}
	if c.Bot.InactiveAfter <= 0 {
		c.Bot.InactiveAfter = 24 * time.Hour
	}
	if c.Bot.CompanyName == "" {
		c.Bot.CompanyName = "Your Company"
	}
	if c.Bot.CompanyIndustry == "" {
		c.Bot.CompanyIndustry = "Technology"
	}
	if c.Bot.CompanyProducts == "" {
		c.Bot.CompanyProducts = "CRM Solutions"
	}
	if c.Bot.CompanyContact == "" {
		c.Bot.CompanyContact = "Contact Sales"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "redis"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "whatsapp-calling.tasks"
	}
	if c.Monitor.QualityInterval <= 0 {
		c.Monitor.QualityInterval = 5 * time.Minute
	}
	if c.Monitor.SweepInterval <= 0 {
		c.Monitor.SweepInterval = time.Hour
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.CallToken.Secret == "" {
		errs = append(errs, errors.New("CALL_TOKEN_SECRET is required"))
	} else if c.CallToken.Secret == c.Auth.JWTSecret {
		errs = append(errs, errors.New("CALL_TOKEN_SECRET must differ from JWT_SECRET"))
	}

	if !isValidBackend(c.Gateway.Backend) {
		errs = append(errs, fmt.Errorf("GATEWAY_BACKEND must be one of valve, janus, mediasoup, livekit, got %q", c.Gateway.Backend))
	}
	if c.Gateway.EventToken == "" {
		errs = append(errs, errors.New("GATEWAY_EVENT_TOKEN is required"))
	}
	if c.Gateway.CreateTimeout > 30*time.Second {
		errs = append(errs, fmt.Errorf("GATEWAY_CREATE_TIMEOUT must be at most 30s, got %s", c.Gateway.CreateTimeout))
	}
	if c.Gateway.STUNCheckTimeout > 10*time.Second {
		errs = append(errs, fmt.Errorf("GATEWAY_STUN_CHECK_TIMEOUT must be at most 10s, got %s", c.Gateway.STUNCheckTimeout))
	}

	if c.WhatsApp.AppSecret == "" {
		errs = append(errs, errors.New("WHATSAPP_APP_SECRET is required"))
	}
	if c.WhatsApp.VerifyToken == "" {
		errs = append(errs, errors.New("WHATSAPP_VERIFY_TOKEN is required"))
	}
	if c.WhatsApp.BotEnabled {
		if c.WhatsApp.AccessToken == "" || c.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, errors.New("WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID are required when the bot is enabled"))
		}
		switch c.AI.Provider {
		case "openai":
			if c.AI.OpenAIKey == "" {
				errs = append(errs, errors.New("OPENAI_API_KEY is required for AI_PROVIDER=openai"))
			}
		case "anthropic":
			if c.AI.AnthropicKey == "" {
				errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for AI_PROVIDER=anthropic"))
			}
		default:
			errs = append(errs, fmt.Errorf("AI_PROVIDER must be one of openai, anthropic, got %q", c.AI.Provider))
		}
	}

	if c.Bot.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("BOT_HISTORY_LIMIT must be > 0, got %d", c.Bot.HistoryLimit))
	}
	if c.Bot.EscalationThreshold <= 0 || c.Bot.EscalationThreshold > 100 {
		errs = append(errs, fmt.Errorf("BOT_ESCALATION_THRESHOLD must be within 1..100, got %d", c.Bot.EscalationThreshold))
	}

	switch c.Queue.Backend {
	case "memory", "redis":
	case "amqp":
		if c.Queue.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required for QUEUE_BACKEND=amqp"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be one of memory, redis, amqp, got %q", c.Queue.Backend))
	}
	if c.Queue.Workers <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_WORKERS must be > 0, got %d", c.Queue.Workers))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidBackend(v string) bool {
	switch v {
	case "valve", "janus", "mediasoup", "livekit":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
