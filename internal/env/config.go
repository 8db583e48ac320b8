package env

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"

	"github.com/luma/protoip/transport"
)

const envPrefix = "PROTOIP_"

type Config struct {
	Region    string `env:"PROTOIP_REGION"`
	DebugHTTP bool   `env:"PROTOIP_DEBUG_HTTP,default=false"`
	LogLevel  string `env:"PROTOIP_LOG_LEVEL,default=info"`

	MaxTries       int           `env:"PROTOIP_MAX_TRIES,default=3"`
	ReadTimeout    time.Duration `env:"PROTOIP_READ_TIMEOUT,default=10s"`
	WriteTimeout   time.Duration `env:"PROTOIP_WRITE_TIMEOUT,default=10s"`
	IdleTimeout    time.Duration `env:"PROTOIP_IDLE_TIMEOUT,default=0s"`
	ConnectTimeout time.Duration `env:"PROTOIP_CONNECT_TIMEOUT,default=5s"`
	Trace          bool          `env:"PROTOIP_TRACE,default=false"`

	// FileDir is where the server stores files sent by clients
	FileDir string `env:"PROTOIP_FILE_DIR"`
}

// LoadConfig resolves the configuration from, in order of precedence, the
// environment (including .env.local), the TOML file at path and the
// defaults. An empty path skips the file.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env.local: %w", err)
		}
	}

	fileValues, err := loadFileValues(path)
	if err != nil {
		return nil, err
	}

	lookuper := envconfig.MultiLookuper(
		envconfig.OsLookuper(),
		envconfig.MapLookuper(fileValues),
	)

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadFileValues reads a flat TOML file and maps every key to the name of
// the environment variable it stands in for, e.g. max_tries becomes
// PROTOIP_MAX_TRIES.
func loadFileValues(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}

	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	for key, value := range raw {
		switch v := value.(type) {
		case string, bool, int64, float64:
			values[envPrefix+strings.ToUpper(key)] = fmt.Sprint(v)

		default:
			return nil, fmt.Errorf("config parse failed (%s): key %q must be a string, number or boolean", path, key)
		}
	}

	return values, nil
}

func (c *Config) Validate() error {
	if c.MaxTries < 1 {
		return fmt.Errorf("max tries must be at least 1, got %d", c.MaxTries)
	}

	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// StreamOptions converts the transfer settings for transport.NewStream.
func (c *Config) StreamOptions(log *zap.Logger) transport.StreamOptions {
	return transport.StreamOptions{
		MaxTries:     c.MaxTries,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
		Trace:        c.Trace,
		Log:          log,
	}
}
