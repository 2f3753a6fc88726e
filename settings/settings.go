// Package settings resolves the connection settings every tplsync
// command needs: tenant, stage, and credentials.
//
// Each setting is resolved from the first source that provides it:
//
//  1. Command-line flag (highest priority)
//  2. Environment variable (TENANT, STAGE, NS_USER, NS_PASSWORD,
//     NS_ACCESS_TOKEN)
//  3. .env file in the working directory (loaded into the environment,
//     never overriding variables that are already set)
//  4. .tplsync.yaml project file in the working directory
//
// The package also stores access tokens obtained via password grant in
// the XDG data directory so repeated invocations against the same
// tenant/stage don't re-authenticate. See tokens.go.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names for each setting.
const (
	EnvTenant      = "TENANT"
	EnvStage       = "STAGE"
	EnvUsername    = "NS_USER"
	EnvPassword    = "NS_PASSWORD"
	EnvAccessToken = "NS_ACCESS_TOKEN"
)

// Settings holds the resolved connection settings for one invocation.
type Settings struct {
	Tenant      string
	Stage       string
	Username    string
	Password    string
	AccessToken string
}

// ---------------------------------------------------------------------------
// Project file (.tplsync.yaml)
// ---------------------------------------------------------------------------

// ProjectFileName is the optional per-project configuration file.
const ProjectFileName = ".tplsync.yaml"

// ProjectFile is the .tplsync.yaml structure. All fields are optional;
// flags and environment variables take precedence over every one of them.
type ProjectFile struct {
	// Tenant is the default tenant identifier.
	Tenant string `yaml:"tenant,omitempty"`
	// Stage is the default stage identifier (e.g. "x", "s", "p").
	Stage string `yaml:"stage,omitempty"`
	// Locales is the default locale list for update-all.
	Locales []string `yaml:"locales,omitempty"`
	// TemplateGlob overrides the template file pattern (default "*.j2").
	TemplateGlob string `yaml:"template_glob,omitempty"`
	// StyleGlob overrides the stylesheet file pattern (default "*.css").
	StyleGlob string `yaml:"style_glob,omitempty"`
}

// LoadProjectFile loads .tplsync.yaml from dir. Returns nil if the file
// does not exist.
func LoadProjectFile(dir string) (*ProjectFile, error) {
	path := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var pf ProjectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &pf, nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Resolve fills the empty fields of flags from the environment, a .env
// file, and the project file in dir, in that order of precedence.
// Fields that remain empty are legitimately absent; callers decide which
// ones are required.
func Resolve(flags Settings, dir string) (Settings, error) {
	// .env only fills variables not already set, so environment beats
	// file contents without extra bookkeeping.
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return Settings{}, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	s := flags
	fillFromEnv(&s.Tenant, EnvTenant)
	fillFromEnv(&s.Stage, EnvStage)
	fillFromEnv(&s.Username, EnvUsername)
	fillFromEnv(&s.Password, EnvPassword)
	fillFromEnv(&s.AccessToken, EnvAccessToken)

	pf, err := LoadProjectFile(dir)
	if err != nil {
		return Settings{}, err
	}
	if pf != nil {
		if s.Tenant == "" {
			s.Tenant = pf.Tenant
		}
		if s.Stage == "" {
			s.Stage = pf.Stage
		}
	}

	return s, nil
}

func fillFromEnv(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}
