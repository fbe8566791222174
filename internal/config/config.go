package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type AppConfig struct {
	ServerAddr string `mapstructure:"SERVER_ADDR" validate:"min=2"`
	GinMode    string `mapstructure:"GIN_MODE" validate:"min=4"`

	// DataDir holds one record-store subdirectory per destination key.
	DataDir string `mapstructure:"DATA_DIR" validate:"min=1"`
	// SourceDir is the media library root for the folder-backed library.
	SourceDir string `mapstructure:"SOURCE_DIR" validate:"min=1"`
	// ExportRoot is the destination folder selected at startup.
	ExportRoot string `mapstructure:"EXPORT_ROOT" validate:"min=1"`

	StorageMode string `mapstructure:"STORAGE_MODE" validate:"oneof=wal bbolt"`

	CompactEvery    int           `mapstructure:"COMPACT_EVERY" validate:"min=1"`
	NotifyDebounce  time.Duration `mapstructure:"NOTIFY_DEBOUNCE" validate:"nonzero_duration"`
	ExportTimeout   time.Duration `mapstructure:"EXPORT_TIMEOUT" validate:"nonzero_duration"`
	SnapshotTimeout time.Duration `mapstructure:"SNAPSHOT_TIMEOUT" validate:"nonzero_duration"`
}

func (c *AppConfig) Validate() error {
	v := validator.New()

	_ = v.RegisterValidation("nonzero_duration", func(fl validator.FieldLevel) bool {
		if d, ok := fl.Field().Interface().(time.Duration); ok {
			return d > 0
		} else {
			return false
		}
	})
	if err := v.Struct(c); err != nil {
		return err
	}
	return nil
}

func LoadAppConfig(name, ext string, paths ...string) (*AppConfig, error) {
	for _, path := range paths {
		viper.AddConfigPath(path)
	}
	viper.SetConfigName(name)
	viper.SetConfigType(ext)
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_ADDR", ":8082")
	viper.SetDefault("GIN_MODE", "debug")
	viper.SetDefault("DATA_DIR", "./data/records")
	viper.SetDefault("SOURCE_DIR", "./data/library")
	viper.SetDefault("EXPORT_ROOT", "./data/export")
	viper.SetDefault("STORAGE_MODE", "wal")
	viper.SetDefault("COMPACT_EVERY", 1000)
	viper.SetDefault("NOTIFY_DEBOUNCE", 200*time.Millisecond)
	viper.SetDefault("EXPORT_TIMEOUT", 10*time.Minute)
	viper.SetDefault("SNAPSHOT_TIMEOUT", time.Minute)

	err := viper.ReadInConfig()

	if err != nil {
		return nil, err
	}
	cfg := &AppConfig{}
	err = viper.Unmarshal(cfg)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
