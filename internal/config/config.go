package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr              = ":8086"
	defaultAuthHeader              = "X-Forge-Token"
	defaultTheosRoot               = "/var/theos"
	defaultMakeBin                 = "make"
	defaultDpkgBin                 = "dpkg"
	defaultUICacheBin              = "uicache"
	defaultUnzipBin                = "unzip"
	defaultBuildUID                = 501
	defaultBuildGID                = 501
	defaultBuildTimeout            = 30 * time.Minute
	defaultMaxImportBytes    int64 = 64 << 20
	defaultMaxFiles                = 2048
	defaultMaxExtractedTotal int64 = 256 << 20
	defaultMaxExtractedFile  int64 = 64 << 20
	defaultDiscoveryService        = "_tweakforge._tcp"
	defaultDiscoveryDomain         = "local."
)

// Config controls daemon behavior.
type Config struct {
	ListenAddr string
	BaseDir    string

	Token      string
	AuthHeader string
	Allowlist  []string

	TheosRoot  string
	MakeBin    string
	DpkgBin    string
	UICacheBin string
	UnzipBin   string

	// Identity the spawned toolchain processes run as. On-device this is
	// the unprivileged mobile user, not the daemon's own identity.
	BuildUID int
	BuildGID int

	BuildTimeout   time.Duration
	PatchMakefiles bool

	MaxImportBytes         int64
	MaxExtractedFiles      int
	MaxExtractedTotalBytes int64
	MaxExtractedFileBytes  int64

	DiscoveryEnabled  bool
	DiscoveryInstance string
	DiscoveryService  string
	DiscoveryDomain   string
}

func Default() Config {
	return Config{
		ListenAddr:             defaultListenAddr,
		AuthHeader:             defaultAuthHeader,
		TheosRoot:              defaultTheosRoot,
		MakeBin:                defaultMakeBin,
		DpkgBin:                defaultDpkgBin,
		UICacheBin:             defaultUICacheBin,
		UnzipBin:               defaultUnzipBin,
		BuildUID:               defaultBuildUID,
		BuildGID:               defaultBuildGID,
		BuildTimeout:           defaultBuildTimeout,
		PatchMakefiles:         true,
		MaxImportBytes:         defaultMaxImportBytes,
		MaxExtractedFiles:      defaultMaxFiles,
		MaxExtractedTotalBytes: defaultMaxExtractedTotal,
		MaxExtractedFileBytes:  defaultMaxExtractedFile,
		DiscoveryEnabled:       true,
		DiscoveryService:       defaultDiscoveryService,
		DiscoveryDomain:        defaultDiscoveryDomain,
	}
}

func FromEnv() (Config, error) {
	cfg := Default()
	cfg.ListenAddr = getEnv("TWEAKFORGE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.BaseDir = strings.TrimSpace(os.Getenv("TWEAKFORGE_BASE_DIR"))
	cfg.Token = strings.TrimSpace(os.Getenv("TWEAKFORGE_TOKEN"))
	cfg.AuthHeader = getEnv("TWEAKFORGE_AUTH_HEADER", cfg.AuthHeader)
	cfg.Allowlist = parseCSV(os.Getenv("TWEAKFORGE_ALLOWLIST"))
	cfg.TheosRoot = getEnv("TWEAKFORGE_THEOS_ROOT", cfg.TheosRoot)
	cfg.MakeBin = getEnv("TWEAKFORGE_MAKE_BIN", cfg.MakeBin)
	cfg.DpkgBin = getEnv("TWEAKFORGE_DPKG_BIN", cfg.DpkgBin)
	cfg.UICacheBin = getEnv("TWEAKFORGE_UICACHE_BIN", cfg.UICacheBin)
	cfg.UnzipBin = getEnv("TWEAKFORGE_UNZIP_BIN", cfg.UnzipBin)
	cfg.DiscoveryInstance = strings.TrimSpace(os.Getenv("TWEAKFORGE_DISCOVERY_INSTANCE"))
	cfg.DiscoveryService = getEnv("TWEAKFORGE_DISCOVERY_SERVICE", cfg.DiscoveryService)
	cfg.DiscoveryDomain = getEnv("TWEAKFORGE_DISCOVERY_DOMAIN", cfg.DiscoveryDomain)

	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_BUILD_UID")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_BUILD_UID: %w", err)
		}
		cfg.BuildUID = n
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_BUILD_GID")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_BUILD_GID: %w", err)
		}
		cfg.BuildGID = n
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_BUILD_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_BUILD_TIMEOUT: %w", err)
		}
		cfg.BuildTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_PATCH_MAKEFILES")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_PATCH_MAKEFILES: %w", err)
		}
		cfg.PatchMakefiles = b
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_DISCOVERY_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_DISCOVERY_ENABLED: %w", err)
		}
		cfg.DiscoveryEnabled = b
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_MAX_IMPORT_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_MAX_IMPORT_BYTES: %w", err)
		}
		cfg.MaxImportBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_MAX_EXTRACTED_FILES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_MAX_EXTRACTED_FILES: %w", err)
		}
		cfg.MaxExtractedFiles = n
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_MAX_EXTRACTED_TOTAL_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_MAX_EXTRACTED_TOTAL_BYTES: %w", err)
		}
		cfg.MaxExtractedTotalBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("TWEAKFORGE_MAX_EXTRACTED_FILE_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse TWEAKFORGE_MAX_EXTRACTED_FILE_BYTES: %w", err)
		}
		cfg.MaxExtractedFileBytes = n
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return errors.New("base dir is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen addr is required")
	}
	if strings.TrimSpace(c.AuthHeader) == "" {
		return errors.New("auth header is required")
	}
	if strings.TrimSpace(c.TheosRoot) == "" {
		return errors.New("theos root is required")
	}
	if strings.TrimSpace(c.MakeBin) == "" {
		return errors.New("make bin is required")
	}
	if strings.TrimSpace(c.DpkgBin) == "" {
		return errors.New("dpkg bin is required")
	}
	if c.BuildUID < 0 || c.BuildGID < 0 {
		return errors.New("build uid/gid must be >= 0")
	}
	if c.BuildTimeout <= 0 {
		return errors.New("build timeout must be > 0")
	}
	if c.MaxImportBytes <= 0 {
		return errors.New("max import bytes must be > 0")
	}
	if c.MaxExtractedFiles <= 0 {
		return errors.New("max extracted files must be > 0")
	}
	if c.MaxExtractedTotalBytes <= 0 {
		return errors.New("max extracted total bytes must be > 0")
	}
	if c.MaxExtractedFileBytes <= 0 {
		return errors.New("max extracted file bytes must be > 0")
	}
	for _, entry := range c.Allowlist {
		if err := validateAllowEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) ProjectsDir() string {
	return filepath.Join(c.BaseDir, "projects")
}

func (c Config) HistoryDir() string {
	return filepath.Join(c.BaseDir, "history")
}

func (c Config) TmpDir() string {
	return filepath.Join(c.BaseDir, "tmp")
}

func (c Config) AllowlistEnabled() bool {
	return len(c.Allowlist) > 0
}

func getEnv(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}

func parseCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func validateAllowEntry(entry string) error {
	if entry == "" {
		return errors.New("allowlist entry cannot be empty")
	}
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("invalid allowlist cidr %q: %w", entry, err)
		}
		return nil
	}
	if ip := net.ParseIP(entry); ip == nil {
		return fmt.Errorf("invalid allowlist ip %q", entry)
	}
	return nil
}
