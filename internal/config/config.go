package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mvrga/speer/internal/gcp"
)

const (
	configPathEnv = "SPEER_CONFIG"

	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendGCS        = "gcs"
	BackendFile       = "file"
	BackendFirestore  = "firestore"

	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// Config holds every setting the pipeline, the functions and the CLI need.
type Config struct {
	ProjectID  string           `yaml:"projectId"`
	DataDir    string           `yaml:"dataDir"`
	Storage    StorageConfig    `yaml:"storage"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	OCR        OCRConfig        `yaml:"ocr"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Export     ExportConfig     `yaml:"export"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig selects where raw evidence bytes are kept.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// LedgerConfig selects the audit ledger backend.
type LedgerConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	DatabaseID string `yaml:"databaseId"`
}

// OCRConfig wires the OCR capability.
type OCRConfig struct {
	Enabled       bool    `yaml:"enabled"`
	PDFFallback   bool    `yaml:"pdfFallback"`
	Region        string  `yaml:"region"`
	Model         string  `yaml:"model"`
	MinConfidence float64 `yaml:"minConfidence"`
}

// ExtractionConfig tunes field extraction.
type ExtractionConfig struct {
	// BICDirectory adds bank-code to BIC entries, keyed "<country>:<bank code>".
	BICDirectory map[string]string `yaml:"bicDirectory"`
}

// PipelineConfig bounds per-run parallelism.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// ExportConfig selects where and how export artifacts are written.
type ExportConfig struct {
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Format  string `yaml:"format"`
}

// WorkflowConfig names the workflow notified after a run is exported.
type WorkflowConfig struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if SPEER_CONFIG is set) and applies environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom is Load with an explicit file; an empty path uses the defaults.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file on top of the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a local, credential-free configuration.
func Default() Config {
	return Config{
		DataDir: "output",
		Storage: StorageConfig{Backend: BackendFilesystem, Prefix: "evidence"},
		Ledger:  LedgerConfig{Backend: BackendFile, Collection: "runs"},
		OCR: OCRConfig{
			Enabled:       false,
			PDFFallback:   true,
			Region:        "us-central1",
			Model:         gcp.DefaultOCRModel,
			MinConfidence: 0.6,
		},
		Pipeline: PipelineConfig{Concurrency: 4},
		Export:   ExportConfig{Backend: BackendFilesystem, Prefix: "exports", Format: FormatXLSX},
		Workflow: WorkflowConfig{Location: "us-central1"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func (c *Config) applyEnvOverrides() error {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.DataDir = gcp.GetEnv("SPEER_DATA_DIR", c.DataDir)

	if v := gcp.GetEnv("EVIDENCE_BUCKET", ""); v != "" {
		c.Storage.Backend = BackendGCS
		c.Storage.Bucket = v
	}
	if v := gcp.GetEnv("EXPORT_BUCKET", ""); v != "" {
		c.Export.Backend = BackendGCS
		c.Export.Bucket = v
	}
	if v := gcp.GetEnv("FIRESTORE_COLLECTION", ""); v != "" {
		c.Ledger.Backend = BackendFirestore
		c.Ledger.Collection = v
	}
	c.Ledger.DatabaseID = gcp.GetEnv("FIRESTORE_DATABASE", c.Ledger.DatabaseID)

	c.OCR.Region = gcp.GetEnv("VERTEX_AI_REGION", c.OCR.Region)
	if v := gcp.GetEnv("OCR_MODEL", ""); v != "" {
		c.OCR.Enabled = true
		c.OCR.Model = v
	}
	if v := gcp.GetEnv("OCR_FALLBACK", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OCR_FALLBACK: %w", err)
		}
		c.OCR.PDFFallback = b
	}
	if v := gcp.GetEnv("PIPELINE_CONCURRENCY", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PIPELINE_CONCURRENCY: %w", err)
		}
		c.Pipeline.Concurrency = n
	}
	c.Export.Format = gcp.GetEnv("EXPORT_FORMAT", c.Export.Format)

	c.Workflow.ID = gcp.GetEnv("WORKFLOW_ID", c.Workflow.ID)
	c.Workflow.Location = gcp.GetEnv("WORKFLOW_LOCATION", c.Workflow.Location)

	c.Logging.Level = gcp.GetEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = gcp.GetEnv("LOG_FORMAT", c.Logging.Format)
	return nil
}

// Validate rejects combinations the wiring cannot build.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFilesystem:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config: storage backend gcs requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Ledger.Backend {
	case BackendMemory, BackendFile:
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("config: ledger backend firestore requires PROJECT_ID")
		}
	default:
		return fmt.Errorf("config: unknown ledger backend %q", c.Ledger.Backend)
	}

	switch c.Export.Backend {
	case BackendFilesystem:
	case BackendGCS:
		if c.Export.Bucket == "" {
			return fmt.Errorf("config: export backend gcs requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown export backend %q", c.Export.Backend)
	}

	switch strings.ToLower(c.Export.Format) {
	case FormatXLSX, FormatCSV:
	default:
		return fmt.Errorf("config: unknown export format %q", c.Export.Format)
	}

	if c.OCR.Enabled && c.ProjectID == "" {
		return fmt.Errorf("config: ocr requires PROJECT_ID")
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return fmt.Errorf("config: ocr.minConfidence must be within [0,1], got %v", c.OCR.MinConfidence)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("config: pipeline.concurrency must be positive, got %d", c.Pipeline.Concurrency)
	}
	return nil
}
