package config

import (
	"strings"

	"github.com/spf13/viper"
)

// NewViper returns a viper instance that maps dotted keys to underscored
// environment variables, e.g. teams.base_url -> TEAMS_BASE_URL.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	return v
}

// Load fills c from the environment after configure has registered defaults.
func Load[T any](c *T, configure func(v *viper.Viper)) (*T, error) {
	v := NewViper()

	configure(v)
	return c, v.Unmarshal(c)
}
