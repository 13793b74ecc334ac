package i18n

import (
	"reflect"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangPT Language = "pt"
)

// Messages holds all translatable strings
type Messages struct {
	// Process
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	TestModeOn         string
	LiveModeOn         string
	ConfigLoadFailed   string
	SettingsDefaulted  string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	AutoStartFailed    string

	// Control API
	EngineStarted      string
	EngineStopped      string
	AlreadyRunning     string
	NotRunning         string
	SettingsSaved      string
	InvalidSettings    string
	InvalidPayload     string
	PositionClosed     string
	NoPosition         string
	ConnectionOK       string
	ConnectionFailed   string
	JournalUnavailable string
	Unauthorized       string
	RateLimited        string
	RequestTimeout     string
	InternalError      string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:           "Starting perp-core trading engine...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using journal path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	TestModeOn:         "Running in TEST mode (orders are simulated, nothing reaches the exchange)",
	LiveModeOn:         "Running in LIVE mode (orders are sent to the exchange)",
	ConfigLoadFailed:   "Failed to load config: %v",
	SettingsDefaulted:  "No settings file at %s, writing defaults",
	DBInitFailed:       "Failed to init journal: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	AutoStartFailed:    "Auto-start failed: %v",

	EngineStarted:      "trading engine started",
	EngineStopped:      "trading engine stopped",
	AlreadyRunning:     "trading engine is already running",
	NotRunning:         "trading engine is not running",
	SettingsSaved:      "settings saved; they apply on the next start",
	InvalidSettings:    "invalid settings",
	InvalidPayload:     "invalid request payload",
	PositionClosed:     "position closed",
	NoPosition:         "no open position for symbol",
	ConnectionOK:       "exchange connection OK",
	ConnectionFailed:   "exchange connection failed",
	JournalUnavailable: "journal is not configured",
	Unauthorized:       "invalid or missing token",
	RateLimited:        "too many requests, please slow down",
	RequestTimeout:     "request took too long to process",
	InternalError:      "internal server error",
}

// Portuguese messages
var messagesPT = Messages{
	Starting:           "Iniciando o motor de negociação perp-core...",
	ConfigLoaded:       "Configuração carregada (Porta: %s)",
	UsingDBPath:        "Usando o diário em: %s",
	ServerListening:    "Servidor escutando em :%s",
	ShuttingDown:       "Encerrando de forma ordenada...",
	TestModeOn:         "Executando em modo de TESTE (ordens simuladas, nada chega à corretora)",
	LiveModeOn:         "Executando em modo REAL (ordens enviadas à corretora)",
	ConfigLoadFailed:   "Falha ao carregar a configuração: %v",
	SettingsDefaulted:  "Nenhum arquivo de configurações em %s, gravando valores padrão",
	DBInitFailed:       "Falha ao iniciar o diário: %v",
	DBMigrationsFailed: "Falha ao aplicar as migrações: %v",
	APIServerError:     "Erro no servidor da API: %v",
	AutoStartFailed:    "Falha no início automático: %v",

	EngineStarted:      "motor de negociação iniciado",
	EngineStopped:      "motor de negociação parado",
	AlreadyRunning:     "o motor de negociação já está em execução",
	NotRunning:         "o motor de negociação não está em execução",
	SettingsSaved:      "configurações salvas; valem a partir do próximo início",
	InvalidSettings:    "configurações inválidas",
	InvalidPayload:     "corpo da requisição inválido",
	PositionClosed:     "posição fechada",
	NoPosition:         "nenhuma posição aberta para o símbolo",
	ConnectionOK:       "conexão com a corretora OK",
	ConnectionFailed:   "falha na conexão com a corretora",
	JournalUnavailable: "o diário não está configurado",
	Unauthorized:       "token inválido ou ausente",
	RateLimited:        "requisições demais, aguarde um pouco",
	RequestTimeout:     "a requisição demorou demais",
	InternalError:      "erro interno do servidor",
}

func init() {
	messages = &messagesEN
}

// Parse maps a LANGUAGE value to a supported language, defaulting to English.
func Parse(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pt", "pt-br", "pt_br", "portuguese":
		return LangPT
	default:
		return LangEN
	}
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangPT:
		messages = &messagesPT
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
