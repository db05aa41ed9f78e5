package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Settings is the env-tunable part of a breaker Config.
type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetLLMConfig returns settings for text-generation providers (CB_LLM_*).
// Generative calls are slow and bursty, so the breaker opens late and stays
// open long enough for a provider incident to clear.
func GetLLMConfig() Settings {
	return fromEnv("CB_LLM", Settings{
		MaxRequests:      2,
		Interval:         120 * time.Second,
		Timeout:          45 * time.Second,
		FailureThreshold: 4,
		SuccessThreshold: 1,
	})
}

// GetHTTPConfig returns settings for search, paper and docs APIs (CB_HTTP_*).
func GetHTTPConfig() Settings {
	return fromEnv("CB_HTTP", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetRedisConfig returns settings for the documentation cache (CB_REDIS_*).
func GetRedisConfig() Settings {
	return fromEnv("CB_REDIS", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// ToConfig converts Settings to a breaker Config.
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func fromEnv(prefix string, def Settings) Settings {
	return Settings{
		MaxRequests:      getEnvUint32(prefix+"_MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(prefix+"_INTERVAL", def.Interval),
		Timeout:          getEnvDuration(prefix+"_TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(prefix+"_FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: getEnvUint32(prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
