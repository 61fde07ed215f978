package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr           string
	MySQLDSN           string
	AdminToken         string
	ClientToken        string
	KeyEncMasterB64    string
	CORSAllowedOrigins []string

	UpstreamBaseURL  string
	AnthropicVersion string

	LogFile string
	Debug   bool
}

func FromEnv() (Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	httpAddr := getenvDefault("HTTP_ADDR", ":8080")
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if strings.TrimSpace(mysqlDSN) == "" {
		return Config{}, fmt.Errorf("MYSQL_DSN is required")
	}
	adminToken := os.Getenv("ADMIN_TOKEN")
	if strings.TrimSpace(adminToken) == "" {
		return Config{}, fmt.Errorf("ADMIN_TOKEN is required")
	}
	keyEnc := os.Getenv("KEY_ENC_MASTER_B64")
	if strings.TrimSpace(keyEnc) == "" {
		return Config{}, fmt.Errorf("KEY_ENC_MASTER_B64 is required")
	}

	origins := os.Getenv("CORS_ALLOWED_ORIGINS")
	allowed := []string{"*"}
	if strings.TrimSpace(origins) != "" {
		allowed = splitCSV(origins)
	}

	return Config{
		HTTPAddr:           httpAddr,
		MySQLDSN:           mysqlDSN,
		AdminToken:         adminToken,
		ClientToken:        strings.TrimSpace(os.Getenv("CLIENT_TOKEN")),
		KeyEncMasterB64:    keyEnc,
		CORSAllowedOrigins: allowed,
		UpstreamBaseURL:    getenvDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicVersion:   getenvDefault("ANTHROPIC_VERSION", "2023-06-01"),
		LogFile:            strings.TrimSpace(os.Getenv("LOG_FILE")),
		Debug:              strings.EqualFold(strings.TrimSpace(os.Getenv("DEBUG")), "true"),
	}, nil
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
