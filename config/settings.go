package config

import (
	"time"

	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

// Default settings
const (
	DefaultMaxFileSize       = 50 * 1024 * 1024
	DefaultHeavyConcurrency  = 2
	DefaultExtractionTimeout = 10 * time.Second
	DefaultMaxLineLength     = 4096
	DefaultConfigName        = "find-replace"
	DefaultEnvPrefix         = "FINDREPLACE"
	DefaultPluginConfigPath  = ""
	DefaultBackupSuffix      = ".bak"
	DefaultLogLevel          = "info"
)

// Settings holds engine-level configuration that outlives a single search
type Settings struct {
	Workers           int
	HeavyConcurrency  int
	ExtractionTimeout time.Duration
	MaxFileSize       int64
	MaxLineLength     int
	SkipDirs          []string
	PluginConfigPath  string
	Backup            BackupSettings
	LogLevel          string
}

// BackupSettings controls undo copies written by the replace engine
type BackupSettings struct {
	Enabled bool
	Dir     string
	Suffix  string
}

// SetViperDefaults sets all default configuration values in Viper
func SetViperDefaults(v *viper.Viper) {
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.heavy_concurrency", DefaultHeavyConcurrency)
	v.SetDefault("engine.extraction_timeout", DefaultExtractionTimeout)
	v.SetDefault("engine.max_file_size", DefaultMaxFileSize)
	v.SetDefault("engine.max_line_length", DefaultMaxLineLength)
	v.SetDefault("engine.skip_dirs", DefaultSkipDirs)

	v.SetDefault("plugins.config_path", DefaultPluginConfigPath)

	v.SetDefault("replace.backup.enabled", true)
	v.SetDefault("replace.backup.dir", "")
	v.SetDefault("replace.backup.suffix", DefaultBackupSuffix)

	v.SetDefault("log.level", DefaultLogLevel)
}

// Load builds Settings from a configured Viper instance
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Workers:           v.GetInt("engine.workers"),
		HeavyConcurrency:  v.GetInt("engine.heavy_concurrency"),
		ExtractionTimeout: v.GetDuration("engine.extraction_timeout"),
		MaxFileSize:       v.GetInt64("engine.max_file_size"),
		MaxLineLength:     v.GetInt("engine.max_line_length"),
		SkipDirs:          v.GetStringSlice("engine.skip_dirs"),
		PluginConfigPath:  v.GetString("plugins.config_path"),
		Backup: BackupSettings{
			Enabled: v.GetBool("replace.backup.enabled"),
			Dir:     v.GetString("replace.backup.dir"),
			Suffix:  v.GetString("replace.backup.suffix"),
		},
		LogLevel: v.GetString("log.level"),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the engine cannot run with
func (s *Settings) Validate() error {
	if s.Workers < 0 {
		return errors.Errorf("engine.workers must not be negative, got %d", s.Workers)
	}
	if s.HeavyConcurrency < 1 {
		return errors.Errorf("engine.heavy_concurrency must be at least 1, got %d", s.HeavyConcurrency)
	}
	if s.MaxFileSize < 0 {
		return errors.Errorf("engine.max_file_size must not be negative, got %d", s.MaxFileSize)
	}
	if s.Backup.Enabled && s.Backup.Dir == "" && s.Backup.Suffix == "" {
		return errors.New("replace.backup needs a dir or a suffix")
	}
	return nil
}

// EffectiveWorkers resolves a zero worker count to the performance profile default
func (s *Settings) EffectiveWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	workers, _ := GetPerformanceProfile(0)
	return workers
}
