package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MaintenancePolicy is the hot-reloadable product policy read from
// maintenance.yml.
type MaintenancePolicy struct {
	// OpenRecordThreshold is the number of open records that puts a unit into
	// maintenance. Zero means the built-in default.
	OpenRecordThreshold int           `mapstructure:"openRecordThreshold"`
	ExportLocale        string        `mapstructure:"exportLocale"`
	Presets             []IssuePreset `mapstructure:"presets"`
}

// IssuePreset is a canned issue technicians can pick instead of typing one.
type IssuePreset struct {
	Code            string `mapstructure:"code" json:"code"`
	Title           string `mapstructure:"title" json:"title"`
	MaintenanceType string `mapstructure:"maintenanceType" json:"maintenance_type"`
}

func DefaultMaintenancePolicy() MaintenancePolicy {
	return MaintenancePolicy{
		OpenRecordThreshold: 0,
		ExportLocale:        "ko",
		Presets: []IssuePreset{
			{Code: "fan_noise", Title: "팬 소음", MaintenanceType: "corrective"},
			{Code: "filter_clogged", Title: "필터 막힘", MaintenanceType: "preventive"},
			{Code: "refrigerant_leak", Title: "냉매 누설", MaintenanceType: "emergency"},
			{Code: "compressor_fault", Title: "압축기 이상", MaintenanceType: "emergency"},
			{Code: "coil_cleaning", Title: "코일 세척", MaintenanceType: "preventive"},
			{Code: "abnormal_vibration", Title: "이상 진동", MaintenanceType: "corrective"},
			{Code: "periodic_inspection", Title: "정기 점검", MaintenanceType: "inspection"},
		},
	}
}

// Preset looks up a preset by code.
func (p MaintenancePolicy) Preset(code string) (IssuePreset, bool) {
	code = strings.TrimSpace(code)
	for _, preset := range p.Presets {
		if preset.Code == code {
			return preset, true
		}
	}
	return IssuePreset{}, false
}

type PolicyHolder struct {
	current atomic.Value // holds MaintenancePolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy MaintenancePolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("maintenance")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/cdulog/config")
	v.AddConfigPath("/etc/cdulog")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CDULOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMaintenancePolicy()
	v.SetDefault("maintenance.openRecordThreshold", defaults.OpenRecordThreshold)
	v.SetDefault("maintenance.exportLocale", defaults.ExportLocale)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var policy MaintenancePolicy
	if err := v.UnmarshalKey("maintenance", &policy); err != nil {
		return nil, err
	}
	if len(policy.Presets) == 0 {
		policy.Presets = defaults.Presets
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileFound {
		log.Info("maintenance.yml not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MaintenancePolicy
		if err := v.UnmarshalKey("maintenance", &updated); err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		if len(updated.Presets) == 0 {
			updated.Presets = defaults.Presets
		}
		if err := validatePolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded",
			zap.String("file", e.Name),
			zap.Int("open_record_threshold", updated.OpenRecordThreshold),
		)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() MaintenancePolicy {
	return h.current.Load().(MaintenancePolicy)
}

// OpenRecordThreshold returns the configured threshold, zero when unset.
func (h *PolicyHolder) OpenRecordThreshold() int {
	if h == nil {
		return 0
	}
	return h.Get().OpenRecordThreshold
}

func validatePolicy(policy MaintenancePolicy) error {
	if policy.OpenRecordThreshold < 0 {
		return errors.New("maintenance.openRecordThreshold cannot be negative")
	}
	switch strings.ToLower(strings.TrimSpace(policy.ExportLocale)) {
	case "", "ko", "en":
	default:
		return fmt.Errorf("maintenance.exportLocale %q is not supported", policy.ExportLocale)
	}
	seen := make(map[string]struct{}, len(policy.Presets))
	for _, preset := range policy.Presets {
		code := strings.TrimSpace(preset.Code)
		if code == "" || strings.TrimSpace(preset.Title) == "" {
			return errors.New("maintenance.presets entries need code and title")
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("maintenance.presets code %q is duplicated", code)
		}
		seen[code] = struct{}{}
	}
	return nil
}
