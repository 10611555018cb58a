//go:build property
// +build property

package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

// TestConfigurationProperties tests configuration loading and validation properties
func TestConfigurationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4321)
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ports load exactly when in range", prop.ForAll(
		func(port int) bool {
			v := viper.New()
			v.Set("server.port", port)
			cfg, err := LoadFrom(v)
			if port < 0 || port > 65535 {
				return err != nil && cfg == nil
			}
			return err == nil && cfg.Server.Port == port
		},
		gen.IntRange(-1000, 70000),
	))

	properties.Property("positive windows always load", prop.ForAll(
		func(initialMs, rollingMs int) bool {
			v := viper.New()
			v.Set("batch.initial_window", fmt.Sprintf("%dms", initialMs))
			v.Set("batch.rolling_window", fmt.Sprintf("%dms", rollingMs))
			cfg, err := LoadFrom(v)
			return err == nil &&
				cfg.Batch.InitialWindow == time.Duration(initialMs)*time.Millisecond &&
				cfg.Batch.RollingWindow == time.Duration(rollingMs)*time.Millisecond
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 10000),
	))

	properties.Property("paths with traversal never validate", prop.ForAll(
		func(segments []string) bool {
			path := strings.Join(append([]string{".."}, segments...), "/")
			return validatePath(path) != nil
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
