package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
)

// LoadPolicy builds the startup policy from the file or the inline keys.
func LoadPolicy(cfg PolicyConfig) (policy.Policy, error) {
	if cfg.File != "" {
		v, err := readPolicyFile(cfg.File)
		if err != nil {
			return policy.Policy{}, err
		}
		return decodePolicy(v)
	}
	return inlinePolicy(cfg)
}

// WatchPolicy reloads the policy file into holder whenever it changes. Invalid
// documents are logged and the previous policy stays active. A config without a
// policy file has nothing to watch.
func WatchPolicy(cfg PolicyConfig, holder *policy.Holder, log *zap.Logger) error {
	if cfg.File == "" {
		return nil
	}
	v, err := readPolicyFile(cfg.File)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		reloadPolicy(v, holder, log, e)
	})
	v.WatchConfig()
	return nil
}

func reloadPolicy(v *viper.Viper, holder *policy.Holder, log *zap.Logger, e fsnotify.Event) {
	p, err := decodePolicy(v)
	if err == nil {
		err = holder.Replace(p)
	}
	if err != nil {
		log.Warn("invalid policy ignored", zap.String("file", e.Name), zap.Error(err))
		return
	}
	log.Info("policy reloaded",
		zap.String("file", e.Name),
		zap.String("policy", p.Name),
		zap.String("late_fee", p.LateFeeAmount.String()),
		zap.Int("grace_days", p.GraceDays),
	)
}

func readPolicyFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return v, nil
}

// decodePolicy re-encodes viper's settings as JSON so JSON and YAML files go
// through the same strict document parser.
func decodePolicy(v *viper.Viper) (policy.Policy, error) {
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return policy.Policy{}, fmt.Errorf("%w: %v", policy.ErrInvalidPolicy, err)
	}
	return policy.Parse(raw)
}

func inlinePolicy(cfg PolicyConfig) (policy.Policy, error) {
	var doc policy.Document
	if cfg.DefaultPaymentDay != "" {
		day, err := strconv.Atoi(cfg.DefaultPaymentDay)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("%w: POLICY_DEFAULT_PAYMENT_DAY %q", policy.ErrInvalidPolicy, cfg.DefaultPaymentDay)
		}
		doc.DefaultPaymentDay = &day
	}
	if cfg.LateFee != "" {
		fee, err := money.Parse(cfg.LateFee)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("%w: POLICY_LATE_FEE: %v", policy.ErrInvalidPolicy, err)
		}
		doc.LateFeeAmount = &fee
	}
	if cfg.GraceDays != "" {
		grace, err := strconv.Atoi(cfg.GraceDays)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("%w: POLICY_GRACE_DAYS %q", policy.ErrInvalidPolicy, cfg.GraceDays)
		}
		doc.GraceDays = &grace
	}
	doc.ProrationRule = cfg.ProrationRule
	doc.MoneyRounding = cfg.Rounding
	return policy.FromDocument(doc)
}
