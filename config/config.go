package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Mode selects which command a Config is loaded for.
type Mode int

const (
	ModeServe Mode = iota
	ModeExtract
	ModeLabels
	ModeAudit
)

// Config captures all command-line options.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	UseTLS             bool
	InsecureSkipVerify bool
	MboxPath           string
	WorkDir            string
	OutputPath         string
	Separator          string
	StripHeaders       []string
	Workers            int
	LogLevel           string
	LogDir             string
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string

	// serve
	Listen       string
	RateLimit    int
	RateWindow   time.Duration
	CORSOrigin   string
	MaxBodyBytes int64
	TrustProxy   bool

	// extract and labels
	User  string
	Pass  string
	Label string
	Start int
	Count int

	// audit
	Limit     int
	Top       int
	ReportDir string
}

// RegisterPersistentFlags attaches the flags shared by every command.
func RegisterPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mbox", "", "Read messages from this mbox archive instead of IMAP")
	flags.String("work-dir", "extracted_emails", "Directory for per-message files (emptied on every extraction)")
	flags.String("output", "merged_emails.txt", "Path of the merged corpus file")
	flags.String("separator", "__SEP__", "Separator line placed between messages in the corpus")
	flags.StringArray("strip-header", nil, "Additional header to remove entirely (repeatable)")
	flags.Int("workers", 1, "Number of messages fetched concurrently per extraction")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// RegisterServeFlags attaches the HTTP server flags.
func RegisterServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("listen", "", "HTTP listen address (defaults to :$PORT or :3000)")
	flags.Int("rate-limit", 100, "Requests allowed per client IP per rate window (0 disables)")
	flags.Duration("rate-window", 15*time.Minute, "Rate limit window")
	flags.String("cors-origin", "", "Value of Access-Control-Allow-Origin (falls back to CORS_ORIGIN env var, then *)")
	flags.Int64("max-body-bytes", 10<<20, "Maximum accepted JSON request body size")
	flags.Bool("trust-proxy", false, "Identify clients by X-Forwarded-For (only behind a proxy that sets it)")
}

// RegisterAccountFlags attaches the credential flags used by extract and labels.
func RegisterAccountFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("user", "", "Account email / IMAP username (falls back to IMAP_USER env var)")
	flags.String("pass", "", "Account password (falls back to IMAP_PASS env var)")
}

// RegisterExtractFlags attaches the extraction window flags.
func RegisterExtractFlags(cmd *cobra.Command) error {
	RegisterAccountFlags(cmd)
	flags := cmd.Flags()
	flags.String("label", "", "Mailbox / label to extract from")
	flags.Int("start", 1, "1-based position of the first message, newest first")
	flags.Int("count", 10, "Maximum number of messages to extract")

	return cmd.MarkFlagRequired("label")
}

// RegisterAuditFlags attaches the flags of the header audit command.
func RegisterAuditFlags(cmd *cobra.Command) error {
	RegisterAccountFlags(cmd)
	flags := cmd.Flags()
	flags.String("label", "", "Mailbox / label to audit")
	flags.Int("limit", 0, "Audit only the newest N messages (0 audits all)")
	flags.IntP("top", "t", 10, "Number of top values to display per header")
	flags.StringP("report-dir", "r", "", "Write CSV reports to this directory")

	return cmd.MarkFlagRequired("label")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command, mode Mode) (Config, error) {
	flags := cmd.Flags()
	var (
		cfg Config
		err error
	)

	if cfg.IMAPHost, err = flags.GetString("imap-host"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPPort, err = flags.GetInt("imap-port"); err != nil {
		return Config{}, err
	}
	if cfg.UseTLS, err = flags.GetBool("use-tls"); err != nil {
		return Config{}, err
	}
	if cfg.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
		return Config{}, err
	}
	if cfg.MboxPath, err = flags.GetString("mbox"); err != nil {
		return Config{}, err
	}
	if cfg.WorkDir, err = flags.GetString("work-dir"); err != nil {
		return Config{}, err
	}
	if cfg.OutputPath, err = flags.GetString("output"); err != nil {
		return Config{}, err
	}
	if cfg.Separator, err = flags.GetString("separator"); err != nil {
		return Config{}, err
	}
	if cfg.StripHeaders, err = flags.GetStringArray("strip-header"); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Config{}, err
	}
	if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeHeader, err = flags.GetStringArray("include-header"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeBody, err = flags.GetStringArray("include-body"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeHeader, err = flags.GetStringArray("exclude-header"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeBody, err = flags.GetStringArray("exclude-body"); err != nil {
		return Config{}, err
	}

	switch mode {
	case ModeServe:
		if err := loadServe(cmd, &cfg); err != nil {
			return Config{}, err
		}
	case ModeExtract:
		if err := loadAccount(cmd, &cfg); err != nil {
			return Config{}, err
		}
		if cfg.Label, err = flags.GetString("label"); err != nil {
			return Config{}, err
		}
		if cfg.Start, err = flags.GetInt("start"); err != nil {
			return Config{}, err
		}
		if cfg.Count, err = flags.GetInt("count"); err != nil {
			return Config{}, err
		}
	case ModeLabels:
		if err := loadAccount(cmd, &cfg); err != nil {
			return Config{}, err
		}
	case ModeAudit:
		if err := loadAccount(cmd, &cfg); err != nil {
			return Config{}, err
		}
		if cfg.Label, err = flags.GetString("label"); err != nil {
			return Config{}, err
		}
		if cfg.Limit, err = flags.GetInt("limit"); err != nil {
			return Config{}, err
		}
		if cfg.Top, err = flags.GetInt("top"); err != nil {
			return Config{}, err
		}
		if cfg.ReportDir, err = flags.GetString("report-dir"); err != nil {
			return Config{}, err
		}
	}

	cfg.WorkDir = filepath.Clean(cfg.WorkDir)
	cfg.OutputPath = filepath.Clean(cfg.OutputPath)
	cfg.Label = strings.TrimSpace(cfg.Label)
	cfg.MboxPath = strings.TrimSpace(cfg.MboxPath)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg, mode); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadServe(cmd *cobra.Command, cfg *Config) error {
	flags := cmd.Flags()
	var err error

	if cfg.Listen, err = flags.GetString("listen"); err != nil {
		return err
	}
	if cfg.RateLimit, err = flags.GetInt("rate-limit"); err != nil {
		return err
	}
	if cfg.RateWindow, err = flags.GetDuration("rate-window"); err != nil {
		return err
	}
	if cfg.CORSOrigin, err = flags.GetString("cors-origin"); err != nil {
		return err
	}
	if cfg.MaxBodyBytes, err = flags.GetInt64("max-body-bytes"); err != nil {
		return err
	}
	if cfg.TrustProxy, err = flags.GetBool("trust-proxy"); err != nil {
		return err
	}

	if cfg.Listen == "" {
		port := strings.TrimSpace(os.Getenv("PORT"))
		if port == "" {
			port = "3000"
		}
		cfg.Listen = ":" + port
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = strings.TrimSpace(os.Getenv("CORS_ORIGIN"))
	}
	if env := strings.TrimSpace(os.Getenv("MAX_BODY_SIZE")); env != "" && !flags.Changed("max-body-bytes") {
		size, err := ParseSize(env)
		if err != nil {
			return fmt.Errorf("MAX_BODY_SIZE: %w", err)
		}
		cfg.MaxBodyBytes = size
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	return nil
}

func loadAccount(cmd *cobra.Command, cfg *Config) error {
	flags := cmd.Flags()
	var err error

	if cfg.User, err = flags.GetString("user"); err != nil {
		return err
	}
	if cfg.Pass, err = flags.GetString("pass"); err != nil {
		return err
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("IMAP_USER")
	}
	if cfg.Pass == "" {
		cfg.Pass = os.Getenv("IMAP_PASS")
	}
	return nil
}

func validateConfig(cfg Config, mode Mode) error {
	if cfg.MboxPath == "" {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if mode != ModeServe {
			if cfg.User == "" {
				return fmt.Errorf("--user is required (or IMAP_USER env var)")
			}
			if cfg.Pass == "" {
				return fmt.Errorf("password must be provided via --pass or IMAP_PASS env var")
			}
		}
	}
	if cfg.WorkDir == "." || cfg.WorkDir == "/" {
		return fmt.Errorf("--work-dir %q would be emptied on every extraction", cfg.WorkDir)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	if strings.ContainsAny(cfg.Separator, "\r\n") || cfg.Separator == "" {
		return fmt.Errorf("--separator must be a single non-empty line")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch mode {
	case ModeExtract:
		if cfg.Label == "" {
			return fmt.Errorf("--label is required")
		}
	case ModeAudit:
		if cfg.Label == "" {
			return fmt.Errorf("--label is required")
		}
		if cfg.Limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		if cfg.Top < 1 {
			return fmt.Errorf("--top must be at least 1")
		}
	case ModeServe:
		if cfg.RateLimit < 0 {
			return fmt.Errorf("--rate-limit must not be negative")
		}
		if cfg.RateLimit > 0 && cfg.RateWindow <= 0 {
			return fmt.Errorf("--rate-window must be positive")
		}
		if cfg.MaxBodyBytes <= 0 {
			return fmt.Errorf("--max-body-bytes must be positive")
		}
		_, port, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			return fmt.Errorf("invalid --listen address %q: %w", cfg.Listen, err)
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid --listen port %q", port)
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// ParseSize reads a byte size such as "10mb", "512kb" or "1048576".
func ParseSize(value string) (int64, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"gb", 1 << 30},
		{"mb", 1 << 20},
		{"kb", 1 << 10},
		{"b", 1},
	} {
		if strings.HasSuffix(v, unit.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, unit.suffix))
			multiplier = unit.factor
			break
		}
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return n * multiplier, nil
}
