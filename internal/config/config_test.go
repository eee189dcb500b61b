package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	// Verify defaults
	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Keystore.Container != "key.keybox" {
		t.Errorf("expected container key.keybox, got %s", cfg.Keystore.Container)
	}
	if cfg.Passphrase.Source != "terminal" {
		t.Errorf("expected passphrase source terminal, got %s", cfg.Passphrase.Source)
	}
	if cfg.Derivation.Role != "external" {
		t.Errorf("expected role external, got %s", cfg.Derivation.Role)
	}

	// Check paths contain keybox
	if !strings.Contains(cfg.Keystore.Dir, "keybox") {
		t.Errorf("keystore dir should contain keybox: %s", cfg.Keystore.Dir)
	}
	if !strings.Contains(cfg.Logging.FilePath, "keybox") {
		t.Errorf("log path should contain keybox: %s", cfg.Logging.FilePath)
	}
	if !strings.Contains(cfg.Audit.FilePath, "keybox") {
		t.Errorf("audit path should contain keybox: %s", cfg.Audit.FilePath)
	}

	// The defaults must pass their own validation
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "keybox") {
		t.Errorf("config path should contain keybox: %s", path)
	}
}

func TestKeyboxDirEnvOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("KEYBOX_DATA_DIR", tmp)

	if dir := KeyboxDir(); dir != tmp {
		t.Errorf("expected %s, got %s", tmp, dir)
	}
}

func TestContainerPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keystore.Dir = "/var/lib/keybox"
	cfg.Keystore.Container = "main.keybox"

	want := filepath.Join("/var/lib/keybox", "main.keybox")
	if got := cfg.ContainerPath(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	// Load from nonexistent path should return default config
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.Keystore.Container != "key.keybox" {
		t.Errorf("expected default container, got %s", cfg.Keystore.Container)
	}
}

const testTOML = `
version = 1

[keystore]
dir = "/tmp/keybox-test"
container = "main.keybox"

[passphrase]
source = "env"
env_var = "KEYBOX_TEST_PASS"

[derivation]
account = 3
role = "staking"
index = 7

[logging]
level = "debug"
`

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(testTOML), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Keystore.Dir != "/tmp/keybox-test" {
		t.Errorf("keystore dir: got %s", cfg.Keystore.Dir)
	}
	if cfg.Keystore.Container != "main.keybox" {
		t.Errorf("container: got %s", cfg.Keystore.Container)
	}
	if cfg.Passphrase.Source != "env" {
		t.Errorf("passphrase source: got %s", cfg.Passphrase.Source)
	}
	if cfg.Passphrase.EnvVar != "KEYBOX_TEST_PASS" {
		t.Errorf("env var: got %s", cfg.Passphrase.EnvVar)
	}
	if cfg.Derivation.Account != 3 {
		t.Errorf("account: got %d", cfg.Derivation.Account)
	}
	if cfg.Derivation.Role != "staking" {
		t.Errorf("role: got %s", cfg.Derivation.Role)
	}
	if cfg.Derivation.Index != 7 {
		t.Errorf("index: got %d", cfg.Derivation.Index)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level: got %s", cfg.Logging.Level)
	}

	// Unspecified sections keep their defaults
	if cfg.Logging.Format != "text" {
		t.Errorf("log format should default to text, got %s", cfg.Logging.Format)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit should default to enabled")
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
  "keystore": {"dir": "/tmp/keybox-json", "container": "j.keybox"},
  "derivation": {"role": "drep"}
}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Keystore.Dir != "/tmp/keybox-json" {
		t.Errorf("keystore dir: got %s", cfg.Keystore.Dir)
	}
	if cfg.Derivation.Role != "drep" {
		t.Errorf("role: got %s", cfg.Derivation.Role)
	}
}

func TestLoadYAML(t *testing.T) {
	content := `
keystore:
  dir: /tmp/keybox-yaml
passphrase:
  source: secret-service
  service_attributes:
    service: keybox-test
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Keystore.Dir != "/tmp/keybox-yaml" {
		t.Errorf("keystore dir: got %s", cfg.Keystore.Dir)
	}
	if cfg.Passphrase.Source != "secret-service" {
		t.Errorf("passphrase source: got %s", cfg.Passphrase.Source)
	}
	if cfg.Passphrase.ServiceAttributes["service"] != "keybox-test" {
		t.Errorf("service attributes: got %v", cfg.Passphrase.ServiceAttributes)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is not [[[ valid toml"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadAutoDetect(t *testing.T) {
	// No extension: format is detected from content
	content := `{"keystore": {"container": "detected.keybox"}}`
	path := filepath.Join(t.TempDir(), "keyboxrc")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Keystore.Container != "detected.keybox" {
		t.Errorf("container: got %s", cfg.Keystore.Container)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KEYBOX_KEYSTORE_DIR", "/srv/keys")
	t.Setenv("KEYBOX_CONTAINER", "override.keybox")
	t.Setenv("KEYBOX_PASSPHRASE_SOURCE", "env")
	t.Setenv("KEYBOX_PASSPHRASE_ENV", "MY_PASS")
	t.Setenv("KEYBOX_ACCOUNT", "12")
	t.Setenv("KEYBOX_LOG_LEVEL", "warn")

	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Keystore.Dir != "/srv/keys" {
		t.Errorf("keystore dir: got %s", cfg.Keystore.Dir)
	}
	if cfg.Keystore.Container != "override.keybox" {
		t.Errorf("container: got %s", cfg.Keystore.Container)
	}
	if cfg.Passphrase.Source != "env" {
		t.Errorf("passphrase source: got %s", cfg.Passphrase.Source)
	}
	if cfg.Passphrase.EnvVar != "MY_PASS" {
		t.Errorf("env var: got %s", cfg.Passphrase.EnvVar)
	}
	if cfg.Derivation.Account != 12 {
		t.Errorf("account: got %d", cfg.Derivation.Account)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level: got %s", cfg.Logging.Level)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KEYBOX_LOG_LEVEL", "error")

	cfg := LoadFromEnv()
	if cfg.Logging.Level != "error" {
		t.Errorf("log level: got %s", cfg.Logging.Level)
	}
}

func validationFields(t *testing.T, err error) map[string]bool {
	t.Helper()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	fields := make(map[string]bool, len(verrs))
	for _, ve := range verrs {
		fields[ve.Field] = true
	}
	return fields
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Passphrase.Source = "keychain"
	cfg.Derivation.Account = 0x80000000
	cfg.Derivation.Role = "governance"
	cfg.Logging.Level = "trace"
	cfg.Audit.FilePath = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	fields := validationFields(t, err)
	for _, want := range []string{
		"passphrase.source",
		"derivation.account",
		"derivation.role",
		"logging.level",
		"audit.file_path",
	} {
		if !fields[want] {
			t.Errorf("expected validation error for %s, got %v", want, err)
		}
	}
}

func TestValidateEnvSourceNeedsVar(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Passphrase.Source = "env"
	cfg.Passphrase.EnvVar = ""

	fields := validationFields(t, cfg.Validate())
	if !fields["passphrase.env_var"] {
		t.Error("expected validation error for passphrase.env_var")
	}
}

func TestValidateContainerMustBeFileName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keystore.Container = "sub/dir/key.keybox"

	fields := validationFields(t, cfg.Validate())
	if !fields["keystore.container"] {
		t.Error("expected validation error for keystore.container")
	}
}

func TestValidateVersion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = Version + 1

	fields := validationFields(t, cfg.Validate())
	if !fields["version"] {
		t.Error("expected validation error for version")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Keystore.Container = "other.keybox"
	clone.Passphrase.ServiceAttributes["service"] = "mutated"

	if cfg.Keystore.Container != "key.keybox" {
		t.Error("clone mutation leaked into original container")
	}
	if cfg.Passphrase.ServiceAttributes["service"] != "keybox" {
		t.Error("clone mutation leaked into original attributes")
	}
}

func TestMerge(t *testing.T) {
	dst := DefaultConfig()
	src := &Config{}
	src.Keystore.Container = "merged.keybox"
	src.Derivation.Role = "staking"
	src.Logging.Level = "debug"

	merged := Merge(dst, src)

	if merged.Keystore.Container != "merged.keybox" {
		t.Errorf("container: got %s", merged.Keystore.Container)
	}
	if merged.Derivation.Role != "staking" {
		t.Errorf("role: got %s", merged.Derivation.Role)
	}
	if merged.Logging.Level != "debug" {
		t.Errorf("log level: got %s", merged.Logging.Level)
	}

	// Zero-valued src fields keep dst values
	if merged.Keystore.Dir != dst.Keystore.Dir {
		t.Errorf("keystore dir should be unchanged, got %s", merged.Keystore.Dir)
	}
	if merged.Passphrase.Source != "terminal" {
		t.Errorf("passphrase source should be unchanged, got %s", merged.Passphrase.Source)
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}
	if cfg == nil {
		t.Fatal("LoadOrCreate returned nil config")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file was not written: %v", err)
	}

	cfg2, created2, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created2 {
		t.Error("expected created=false on second call")
	}
	if cfg2.Keystore.Container != cfg.Keystore.Container {
		t.Errorf("reloaded container differs: %s vs %s", cfg2.Keystore.Container, cfg.Keystore.Container)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Keystore.Container = "saved.keybox"
	cfg.Derivation.Role = "internal"

	for _, name := range []string{"config.toml", "config.yaml"} {
		path := filepath.Join(dir, name)
		if err := SaveConfig(cfg, path); err != nil {
			t.Fatalf("SaveConfig %s: %v", name, err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
		if loaded.Keystore.Container != "saved.keybox" {
			t.Errorf("%s: container: got %s", name, loaded.Keystore.Container)
		}
		if loaded.Derivation.Role != "internal" {
			t.Errorf("%s: role: got %s", name, loaded.Derivation.Role)
		}
	}
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[logging]\nlevel = \"trace\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoaderConfigAccessor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(testTOML), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if loader.Config() != nil {
		t.Error("Config should be nil before Load")
	}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loader.Config() != cfg {
		t.Error("Config should return the loaded configuration")
	}
}

func TestLoaderWatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(testTOML), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	reloaded := make(chan *Config, 1)
	loader.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	updated := strings.Replace(testTOML, "account = 3", "account = 9", 1)
	if err := os.WriteFile(path, []byte(updated), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Derivation.Account != 9 {
			t.Errorf("reloaded account: got %d, want 9", cfg.Derivation.Account)
		}
		if got := loader.Config().Derivation.Account; got != 9 {
			t.Errorf("Config after reload: account %d, want 9", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestLoaderWatchKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(testTOML), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	bad := strings.Replace(testTOML, `role = "staking"`, `role = "governance"`, 1)
	if err := os.WriteFile(path, []byte(bad), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	// The previous configuration stays in effect
	if got := loader.Config().Derivation.Role; got != "staking" {
		t.Errorf("invalid reload replaced config: role %q", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmp := t.TempDir()

	cfg := DefaultConfig()
	cfg.Keystore.Dir = filepath.Join(tmp, "keys")
	cfg.Logging.FilePath = filepath.Join(tmp, "logs", "keybox.log")
	cfg.Audit.FilePath = filepath.Join(tmp, "logs", "audit.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	info, err := os.Stat(cfg.Keystore.Dir)
	if err != nil {
		t.Fatalf("keystore dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("keystore path is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("keystore dir permissions: got %o, want 0700", perm)
	}

	if _, err := os.Stat(filepath.Join(tmp, "logs")); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
}

func TestGetDefaultPaths(t *testing.T) {
	paths := GetDefaultPaths()

	if !strings.Contains(paths.DataDir, "keybox") {
		t.Errorf("data dir should contain keybox: %s", paths.DataDir)
	}
	if !strings.HasSuffix(paths.ConfigFile, "config.toml") {
		t.Errorf("config file should end with config.toml: %s", paths.ConfigFile)
	}
	if !strings.HasSuffix(paths.ContainerFile, "key.keybox") {
		t.Errorf("container file should end with key.keybox: %s", paths.ContainerFile)
	}
}

func TestFindConfigFile(t *testing.T) {
	tmp := t.TempDir()

	// Point every search location somewhere empty
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg-config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "xdg-data"))
	t.Chdir(tmp)

	if found := FindConfigFile(); found != "" {
		t.Errorf("expected no config file, found %s", found)
	}

	// A file in the current directory wins
	if err := os.WriteFile(filepath.Join(tmp, "config.yaml"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	found := FindConfigFile()
	if filepath.Base(found) != "config.yaml" {
		t.Errorf("expected config.yaml, found %q", found)
	}
}
