package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	domainconfig "github.com/felixgeelhaar/eventstore-go/domain/config"
)

var (
	bracketPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*|:\?[^}]*)?\}`)
	simplePattern  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// envExpander expands environment variables in configuration strings.
type envExpander struct {
	// strict fails if a referenced variable is not set.
	strict bool
	// missing tracks missing environment variables.
	missing []string
}

// Expand expands environment variables in the input string.
// Supported patterns:
//   - ${VAR} - expands to the value of VAR
//   - ${VAR:-default} - expands to VAR or "default" if not set
//   - ${VAR:?error message} - fails if VAR is not set
//   - $VAR - simple expansion
func (e *envExpander) Expand(input string) (string, error) {
	e.missing = nil

	result := bracketPattern.ReplaceAllStringFunc(input, func(match string) string {
		inner := match[2 : len(match)-1]

		parts := strings.SplitN(inner, ":", 2)
		varName := parts[0]
		var modifier string
		if len(parts) > 1 {
			modifier = parts[1]
		}

		value, exists := os.LookupEnv(varName)

		switch {
		case strings.HasPrefix(modifier, "-"):
			if !exists || value == "" {
				return modifier[1:]
			}
		case strings.HasPrefix(modifier, "?"):
			if !exists || value == "" {
				e.missing = append(e.missing, fmt.Sprintf("%s: %s", varName, modifier[1:]))
				return match
			}
		default:
			if !exists {
				if e.strict {
					e.missing = append(e.missing, varName)
				}
				return ""
			}
		}

		return value
	})

	result = simplePattern.ReplaceAllStringFunc(result, func(match string) string {
		varName := match[1:]
		value, exists := os.LookupEnv(varName)
		if !exists {
			if e.strict {
				e.missing = append(e.missing, varName)
			}
			return ""
		}
		return value
	})

	if len(e.missing) > 0 {
		return "", fmt.Errorf("%w: %s", domainconfig.ErrMissingEnvVar, strings.Join(e.missing, ", "))
	}

	return result, nil
}

// ExpandEnv is a convenience function that expands environment variables.
func ExpandEnv(input string) string {
	e := &envExpander{strict: false}
	result, _ := e.Expand(input)
	return result
}

// ExpandEnvStrict expands environment variables and returns an error for missing vars.
func ExpandEnvStrict(input string) (string, error) {
	e := &envExpander{strict: true}
	return e.Expand(input)
}

// EnvPrefix prefixes the override variables.
const EnvPrefix = "EVENTSTORE_"

// ApplyEnvOverrides sets configuration fields from EVENTSTORE_* variables,
// the way containerized deployments configure the server.
func ApplyEnvOverrides(cfg *domainconfig.ServerConfig) error {
	str := func(name string, target *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*target = v
		}
	}
	str("DB_ENGINE", &cfg.Database.Engine)
	str("MONGODB_URI", &cfg.Database.MongoDB.URI)
	str("MONGODB_DATABASE", &cfg.Database.MongoDB.Database)
	str("SQLITE_PATH", &cfg.Database.SQLite.Path)
	str("DELETION_MODE", &cfg.Deletion.Mode)
	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("REDIS_ADDRESS", &cfg.Cache.Redis.Address)
	str("ATTACHMENTS_PATH", &cfg.Attachments.Path)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("HTTP_ADDRESS", &cfg.HTTP.Address)
	str("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)

	if v, ok := os.LookupEnv(EnvPrefix + "FORCE_KEEP_HISTORY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sFORCE_KEEP_HISTORY: %v", domainconfig.ErrInvalidFormat, EnvPrefix, err)
		}
		cfg.Deletion.ForceKeepHistory = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "TRACING_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sTRACING_ENABLED: %v", domainconfig.ErrInvalidFormat, EnvPrefix, err)
		}
		cfg.Tracing.Enabled = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "CONNECT_RETRY_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sCONNECT_RETRY_INTERVAL: %v", domainconfig.ErrInvalidFormat, EnvPrefix, err)
		}
		cfg.Database.ConnectRetryInterval = domainconfig.Duration(d)
	}
	return nil
}
