// pkg/configloader/configloader.go
//
// Порядок источников: defaults → YAML-файл → ENV (ENV побеждает).
package configloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrValidation оборачивает ошибку Validate() целевой структуры.
var ErrValidation = errors.New("configloader: validation failed")

// Validator реализуется конфигами, умеющими проверять себя.
type Validator interface {
	Validate() error
}

// Load заполняет cfgPtr.
// envPrefix — префикс ENV, ключ "kafka.brokers" читается из <PREFIX>_KAFKA_BROKERS.
// Ключи без дефолта из ENV не видны: viper узнаёт о ключе только по defaults или файлу.
func Load(path, envPrefix string, defaults map[string]interface{}, cfgPtr interface{}) error {
	v, err := newViper(path, envPrefix, defaults)
	if err != nil {
		return err
	}

	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode: %w", err)
	}

	if val, ok := cfgPtr.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}

func newViper(path, envPrefix string, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("configloader: read %q: %w", path, err)
		}
	}
	return v, nil
}
