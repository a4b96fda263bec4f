package reelforge

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrNotPointer is returned by SetConfigFromEnvVars for non-pointer targets.
var ErrNotPointer = errors.New("config must be a pointer to a struct")

// ErrUnsupportedField is returned for env-tagged fields of a kind that cannot
// be parsed from a string.
var ErrUnsupportedField = errors.New("unsupported config field type")

var durationType = reflect.TypeOf(time.Duration(0))

// GetenvOrDefault returns the trimmed value of key, or defaultValue when it
// is unset or blank.
func GetenvOrDefault(key string, defaultValue string) string {
	str := strings.TrimSpace(os.Getenv(key))
	if str == "" {
		return defaultValue
	}

	return str
}

// GetenvBoolOrDefault returns key parsed as a bool, or defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	str := GetenvOrDefault(key, "")

	val, err := strconv.ParseBool(str)
	if err != nil {
		return defaultValue
	}

	return val
}

// GetenvIntOrDefault returns key parsed as an int64, or defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	str := GetenvOrDefault(key, "")

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return defaultValue
	}

	return val
}

// GetenvDurationOrDefault returns key parsed with time.ParseDuration, or
// defaultValue.
func GetenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	str := GetenvOrDefault(key, "")

	val, err := time.ParseDuration(str)
	if err != nil {
		return defaultValue
	}

	return val
}

// SetConfigFromEnvVars fills the `env`-tagged fields of s from the
// environment. Fields whose variable is unset keep their current value, so
// defaults can be set before the call. A struct field tagged
// `envPrefix:"VOICE_"` is filled the same way with every key of its own
// fields prefixed.
//
// Supported field kinds are string, bool, signed and unsigned integers,
// floats and time.Duration.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	return setStructFromEnv(v.Elem(), "")
}

func setStructFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		if nested, ok := field.Tag.Lookup("envPrefix"); ok && field.Type.Kind() == reflect.Struct {
			if err := setStructFromEnv(v.Field(i), prefix+nested); err != nil {
				return err
			}

			continue
		}

		key, ok := field.Tag.Lookup("env")
		if !ok || key == "" {
			continue
		}

		key = prefix + key

		raw := GetenvOrDefault(key, "")
		if raw == "" {
			continue
		}

		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		fv.SetInt(int64(d))

		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return err
		}

		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, fv.Type().Bits())
		if err != nil {
			return err
		}

		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, fv.Type().Bits())
		if err != nil {
			return err
		}

		fv.SetFloat(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedField, fv.Kind())
	}

	return nil
}

// LocalEnvConfig reports whether a local .env file was loaded.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// InitLocalEnvConfig loads .env into the environment when ENV_NAME is
// "local". It runs once per process and prints the version and environment
// name.
func InitLocalEnvConfig() *LocalEnvConfig {
	localEnvConfigOnce.Do(func() {
		version := GetenvOrDefault("VERSION", "NO-VERSION")
		envName := GetenvOrDefault("ENV_NAME", "development")

		fmt.Printf("VERSION: %s\n\n", version)
		fmt.Printf("ENVIRONMENT NAME: %s\n\n", envName)

		if envName != "local" {
			localEnvConfig = &LocalEnvConfig{}
			return
		}

		if err := godotenv.Load(); err != nil {
			fmt.Println("Skipping .env file, using environment variables:", err)

			localEnvConfig = &LocalEnvConfig{}

			return
		}

		fmt.Println("Loaded local .env file")

		localEnvConfig = &LocalEnvConfig{Initialized: true}
	})

	return localEnvConfig
}
