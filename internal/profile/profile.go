package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the service.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	Addr string
	Port int
	// Data is the data directory. The sqlite database and the vector index live here.
	Data string
	// Driver is the database driver: sqlite, mysql or postgres.
	Driver string
	// DSN points to where the store saves its data. Derived from Data for sqlite.
	DSN string

	ReplicateToken string
	ReplicateURL   string
	// ReasoningBackend selects the intent reasoning service: "replicate" or "openrouter".
	ReasoningBackend string
	ReasoningModel   string
	OpenRouterAPIKey string
	OpenRouterURL    string

	// JWTSecret verifies bearer tokens issued by the auth provider.
	JWTSecret string

	PollAttempts int
	PollInterval time.Duration
	// HistoryLimit caps the generation history kept per user.
	HistoryLimit int

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	// S3URLPrefix is prepended to object keys to build public URLs.
	S3URLPrefix string
	// ResizeMax bounds the longest side of uploaded images, in pixels.
	ResizeMax int

	EmbeddingURL   string
	EmbeddingKey   string
	EmbeddingModel string

	Version string
}

const (
	DefaultReplicateURL   = "https://api.replicate.com/v1"
	DefaultOpenRouterURL  = "https://openrouter.ai/api/v1"
	DefaultReasoningModel = "anthropic/claude-3.7-sonnet"
	DefaultPollAttempts   = 60
	DefaultPollInterval   = 2 * time.Second
	DefaultHistoryLimit   = 50
	DefaultResizeMax      = 2048
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate fills defaults and rejects inconsistent settings.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" && p.Mode != "demo" {
		p.Mode = "dev"
	}

	if p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "picarcade")
		} else {
			p.Data = "/var/opt/picarcade"
		}
		if p.IsDev() {
			p.Data = "."
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrap(err, "failed to check data dir")
	}
	p.Data = dataDir

	switch p.Driver {
	case "", "sqlite":
		p.Driver = "sqlite"
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("picarcade_%s.db", p.Mode))
		}
	case "mysql", "postgres":
		if p.DSN == "" {
			return errors.Errorf("dsn is required for driver %s", p.Driver)
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	switch p.ReasoningBackend {
	case "":
		p.ReasoningBackend = "replicate"
	case "replicate", "openrouter":
	default:
		return errors.Errorf("unsupported reasoning backend %q", p.ReasoningBackend)
	}

	if p.ReplicateURL == "" {
		p.ReplicateURL = DefaultReplicateURL
	}
	if p.OpenRouterURL == "" {
		p.OpenRouterURL = DefaultOpenRouterURL
	}
	if p.ReasoningModel == "" {
		p.ReasoningModel = DefaultReasoningModel
	}
	if p.PollAttempts <= 0 {
		p.PollAttempts = DefaultPollAttempts
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = DefaultHistoryLimit
	}
	if p.ResizeMax <= 0 {
		p.ResizeMax = DefaultResizeMax
	}
	return nil
}
