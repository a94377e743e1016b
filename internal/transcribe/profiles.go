package transcribe

import (
	"errors"
	"fmt"
	"strings"

	"subsync/internal/config"
)

// ErrProfileNotSubmittable reports an engine profile that never produces a
// remote job (it runs entirely inside the host browser).
var ErrProfileNotSubmittable = errors.New("engine profile cannot be submitted to the service")

// Profile is one member of the closed set of engine configurations. Each
// profile knows its required fields and how it appears on the wire.
type Profile interface {
	Name() string
	Validate() error
	apply(req *submitRequest)
}

// LocalProfile runs the service's own local whisper engine.
type LocalProfile struct {
	Model string
}

func (LocalProfile) Name() string { return config.EngineLocal }

func (LocalProfile) Validate() error { return nil }

func (p LocalProfile) apply(req *submitRequest) {
	req.Service = "local"
	req.Model = p.Model
}

// GroqLikeProfile proxies through a Groq-compatible hosted speech API.
type GroqLikeProfile struct {
	APIKey string
}

func (GroqLikeProfile) Name() string { return config.EngineGroqLike }

func (p GroqLikeProfile) Validate() error {
	if strings.TrimSpace(p.APIKey) == "" {
		return errors.New("groq_like engine requires an API key")
	}
	return nil
}

func (p GroqLikeProfile) apply(req *submitRequest) {
	req.Service = "groq"
	req.APIKey = p.APIKey
}

// CloudProviderProfile targets an arbitrary OpenAI-compatible endpoint.
type CloudProviderProfile struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (CloudProviderProfile) Name() string { return config.EngineCloudProvider }

func (p CloudProviderProfile) Validate() error {
	if strings.TrimSpace(p.APIKey) == "" {
		return errors.New("cloud_provider engine requires an API key")
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		return errors.New("cloud_provider engine requires a base URL")
	}
	return nil
}

func (p CloudProviderProfile) apply(req *submitRequest) {
	req.Service = "openai"
	req.APIKey = p.APIKey
	req.BaseURL = p.BaseURL
	req.Model = p.Model
}

// BrowserBuiltinProfile marks recognition that happens in the host browser;
// it is a valid configuration but can never reach the remote service.
type BrowserBuiltinProfile struct{}

func (BrowserBuiltinProfile) Name() string { return config.EngineBrowserBuiltin }

func (BrowserBuiltinProfile) Validate() error { return nil }

func (BrowserBuiltinProfile) apply(*submitRequest) {}

// ProfileFromConfig builds the engine profile selected by configuration.
func ProfileFromConfig(cfg *config.Config) (Profile, error) {
	gen := cfg.Generation
	switch gen.Engine {
	case config.EngineLocal:
		return LocalProfile{Model: gen.Model}, nil
	case config.EngineGroqLike:
		return GroqLikeProfile{APIKey: gen.EngineAPIKey}, nil
	case config.EngineCloudProvider:
		return CloudProviderProfile{APIKey: gen.EngineAPIKey, BaseURL: gen.EngineBaseURL, Model: gen.Model}, nil
	case config.EngineBrowserBuiltin:
		return BrowserBuiltinProfile{}, nil
	default:
		return nil, fmt.Errorf("unknown engine profile %q", gen.Engine)
	}
}

// Settings is the immutable configuration snapshot captured at submission
// time. The pipeline treats it as a read-only input.
type Settings struct {
	Language       string
	TargetLanguage string
	Profile        Profile
}

// Validate checks the snapshot before submission.
func (s Settings) Validate() error {
	if s.Profile == nil {
		return errors.New("settings missing engine profile")
	}
	if err := s.Profile.Validate(); err != nil {
		return fmt.Errorf("engine %s: %w", s.Profile.Name(), err)
	}
	if _, ok := s.Profile.(BrowserBuiltinProfile); ok {
		return ErrProfileNotSubmittable
	}
	return nil
}

// SettingsFromConfig captures a submission snapshot from configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	profile, err := ProfileFromConfig(cfg)
	if err != nil {
		return Settings{}, err
	}
	language := cfg.Generation.Language
	if language == "" {
		language = "auto"
	}
	return Settings{
		Language:       language,
		TargetLanguage: cfg.Generation.TargetLanguage,
		Profile:        profile,
	}, nil
}
