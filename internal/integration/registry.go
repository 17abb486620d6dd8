package integration

import (
	"fmt"
	"sort"
	"strings"
)

// CredentialSpec describes one stored credential field and the environment
// variable it is injected as at run time.
type CredentialSpec struct {
	Key         string   // key in the credential store (e.g. "access_token")
	EnvVar      string   // injected variable name (e.g. "GMAIL_ACCESS_TOKEN")
	Required    bool
	OAuthScopes []string
}

// Spec is the authoritative definition of an integration: what credentials it
// needs and how they map to the execution environment. Scripts register
// integration names only; the platform resolves everything else from here.
type Spec struct {
	Name        string
	DisplayName string
	Description string
	Credentials []CredentialSpec
	SetupURL    string // template with %s for the integration name path segment
	DocsURL     string
}

// EnvMapping returns stored-key -> env var name.
func (s Spec) EnvMapping() map[string]string {
	m := make(map[string]string, len(s.Credentials))
	for _, c := range s.Credentials {
		m[c.Key] = c.EnvVar
	}
	return m
}

// RequiredKeys returns the credential keys that must be present for the
// integration to be usable.
func (s Spec) RequiredKeys() []string {
	var keys []string
	for _, c := range s.Credentials {
		if c.Required {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// RequiredEnvVars returns the env var names for required credential fields.
func (s Spec) RequiredEnvVars() []string {
	var vars []string
	for _, c := range s.Credentials {
		if c.Required {
			vars = append(vars, c.EnvVar)
		}
	}
	return vars
}

// Registry is the static integration table. Populated once at process start
// and read-only afterwards.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds the registry with all supported integrations.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	for _, s := range builtinSpecs() {
		r.specs[s.Name] = s
	}
	return r
}

// Get returns the spec for an integration name.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.specs[strings.ToLower(name)]
	return s, ok
}

// Names returns all registered integration names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetupURL returns the credential setup URL for an integration, or "".
func (r *Registry) SetupURL(name string) string {
	s, ok := r.Get(name)
	if !ok || s.SetupURL == "" {
		return ""
	}
	return fmt.Sprintf(s.SetupURL, s.Name)
}

// DocsURL returns the documentation URL for an integration, or "".
func (r *Registry) DocsURL(name string) string {
	s, ok := r.Get(name)
	if !ok {
		return ""
	}
	return s.DocsURL
}

func builtinSpecs() []Spec {
	return []Spec{
		{
			Name:        "gmail",
			DisplayName: "Gmail",
			Description: "Read and send email through a connected Gmail account.",
			Credentials: []CredentialSpec{
				{Key: "access_token", EnvVar: "GMAIL_ACCESS_TOKEN", Required: true,
					OAuthScopes: []string{"https://www.googleapis.com/auth/gmail.modify"}},
				{Key: "refresh_token", EnvVar: "GMAIL_REFRESH_TOKEN"},
			},
			SetupURL: "https://scriptflow.dev/integrations/%s/setup",
			DocsURL:  "https://docs.scriptflow.dev/integrations/gmail",
		},
		{
			Name:        "slack",
			DisplayName: "Slack",
			Description: "Post messages and read channels in a Slack workspace.",
			Credentials: []CredentialSpec{
				{Key: "bot_token", EnvVar: "SLACK_BOT_TOKEN", Required: true,
					OAuthScopes: []string{"chat:write", "channels:read"}},
			},
			SetupURL: "https://scriptflow.dev/integrations/%s/setup",
			DocsURL:  "https://docs.scriptflow.dev/integrations/slack",
		},
		{
			Name:        "discord",
			DisplayName: "Discord",
			Description: "Send messages through a Discord bot.",
			Credentials: []CredentialSpec{
				{Key: "bot_token", EnvVar: "DISCORD_BOT_TOKEN", Required: true},
			},
			SetupURL: "https://scriptflow.dev/integrations/%s/setup",
			DocsURL:  "https://docs.scriptflow.dev/integrations/discord",
		},
		{
			Name:        "messaging",
			DisplayName: "Messaging",
			Description: "Unified send over whichever chat integration is configured.",
			Credentials: []CredentialSpec{
				{Key: "webhook_url", EnvVar: "MESSAGING_WEBHOOK_URL", Required: true},
			},
			SetupURL: "https://scriptflow.dev/integrations/%s/setup",
			DocsURL:  "https://docs.scriptflow.dev/integrations/messaging",
		},
		{
			Name:        "docs",
			DisplayName: "Docs",
			Description: "Create and append to documents in a connected workspace.",
			Credentials: []CredentialSpec{
				{Key: "access_token", EnvVar: "DOCS_ACCESS_TOKEN", Required: true,
					OAuthScopes: []string{"https://www.googleapis.com/auth/documents"}},
				{Key: "refresh_token", EnvVar: "DOCS_REFRESH_TOKEN"},
			},
			SetupURL: "https://scriptflow.dev/integrations/%s/setup",
			DocsURL:  "https://docs.scriptflow.dev/integrations/docs",
		},
	}
}
