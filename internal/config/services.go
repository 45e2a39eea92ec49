package config

import "time"

// Logging is shared by every service.
type Logging struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	JSON  bool   `env:"LOG_JSON"`
}

// RateLimit configures the per-client token bucket of a proxy.
type RateLimit struct {
	// Requests per second.
	Rate  float64 `env:"RATE_LIMIT" envDefault:"5"`
	Burst int     `env:"RATE_BURST" envDefault:"20"`
}

// WizardServer configures the live signup wizard.
type WizardServer struct {
	Addr string `env:"SIGNUP_ADDR" envDefault:":8080"`

	CVRURL        string `env:"SIGNUP_CVR_URL" envDefault:"https://cvr-worker.anvisninger.workers.dev/cvr"`
	PlanURL       string `env:"SIGNUP_PLAN_URL" envDefault:"https://outseta-plan-worker.anvisninger.workers.dev/plans"`
	EmailCheckURL string `env:"SIGNUP_EMAIL_CHECK_URL"`

	CVRTimeout   time.Duration `env:"SIGNUP_CVR_TIMEOUT" envDefault:"12s"`
	PlanTimeout  time.Duration `env:"SIGNUP_PLAN_TIMEOUT" envDefault:"12s"`
	EmailTimeout time.Duration `env:"SIGNUP_EMAIL_TIMEOUT" envDefault:"8s"`
	SettleDelay  time.Duration `env:"SIGNUP_SETTLE_DELAY" envDefault:"150ms"`

	AllowedOrigins []string `env:"SIGNUP_ALLOWED_ORIGINS" envSeparator:","`
	BasisPlanUID   string   `env:"SIGNUP_BASIS_PLAN_UID" envDefault:"BWzE5N9E"`
	TrackPurchase  bool     `env:"SIGNUP_TRACK_PURCHASE" envDefault:"true"`
	Locale         string   `env:"SIGNUP_LOCALE" envDefault:"da"`

	// Purchase events go to the GA4 Measurement Protocol when both are set,
	// otherwise to the log.
	GAMeasurementID string `env:"SIGNUP_GA_MEASUREMENT_ID"`
	GAAPISecret     string `env:"SIGNUP_GA_API_SECRET"`

	MaxSessions int           `env:"SIGNUP_MAX_SESSIONS" envDefault:"10000"`
	SessionTTL  time.Duration `env:"SIGNUP_SESSION_TTL" envDefault:"30m"`

	Logging Logging `envPrefix:"SIGNUP_"`
}

// CVRProxy configures the company lookup proxy.
type CVRProxy struct {
	Addr    string `env:"CVR_ADDR" envDefault:":8081"`
	APIKey  string `env:"CVR_DEV_API_KEY,required,notEmpty"`
	APIBase string `env:"CVR_API_BASE" envDefault:"https://api.cvr.dev/api"`

	AllowedOrigins []string `env:"CVR_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://anvisninger-dk-e81a432f7570a8eceb515ecb.webflow.io,https://anvisninger.dk,https://www.anvisninger.dk"`

	CacheTTL time.Duration `env:"CVR_CACHE_TTL" envDefault:"1h"`
	Timeout  time.Duration `env:"CVR_UPSTREAM_TIMEOUT" envDefault:"10s"`

	RateLimit RateLimit `envPrefix:"CVR_"`
	Logging   Logging   `envPrefix:"CVR_"`
}

// PlanProxy configures the plan lookup and email check proxy.
type PlanProxy struct {
	Addr      string `env:"PLAN_ADDR" envDefault:":8082"`
	APIKey    string `env:"OUTSETA_API_KEY,required,notEmpty"`
	APISecret string `env:"OUTSETA_API_SECRET,required,notEmpty"`
	BaseURL   string `env:"OUTSETA_BASE_URL" envDefault:"https://anvisninger.outseta.com/api/v1"`

	PlanFamilyName string `env:"PLAN_FAMILY_NAME" envDefault:"OffentligtUdbud - Prismodel 2026"`

	AllowedOrigins []string `env:"PLAN_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://anvisninger-dk-e81a432f7570a8eceb515ecb.webflow.io,https://anvisninger.dk"`

	Timeout time.Duration `env:"PLAN_UPSTREAM_TIMEOUT" envDefault:"10s"`

	RateLimit RateLimit `envPrefix:"PLAN_"`
	Logging   Logging   `envPrefix:"PLAN_"`
}

// LoadWizardServer parses the wizard server configuration.
func LoadWizardServer() (WizardServer, error) {
	var cfg WizardServer
	if err := ParseEnv(&cfg); err != nil {
		return WizardServer{}, err
	}
	return cfg, nil
}

// LoadCVRProxy parses the company lookup proxy configuration.
func LoadCVRProxy() (CVRProxy, error) {
	var cfg CVRProxy
	if err := ParseEnv(&cfg); err != nil {
		return CVRProxy{}, err
	}
	return cfg, nil
}

// LoadPlanProxy parses the plan proxy configuration.
func LoadPlanProxy() (PlanProxy, error) {
	var cfg PlanProxy
	if err := ParseEnv(&cfg); err != nil {
		return PlanProxy{}, err
	}
	return cfg, nil
}
