package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tweakforge/tweakforge/internal/client"
	"github.com/tweakforge/tweakforge/internal/discovery"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/session"
	"github.com/tweakforge/tweakforge/internal/tui"
)

var discoverFn = discovery.Discover

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "discover":
		err = runDiscover(args)
	case "list":
		err = runList(args)
	case "create":
		err = runCreate(args)
	case "import":
		err = runImport(args)
	case "export":
		err = runExport(args)
	case "build":
		err = runBuild(args)
	case "install":
		err = runInstall(args)
	case "repair":
		err = runRepair(args)
	case "history":
		err = runHistory(args)
	case "log":
		err = runLog(args)
	case "cancel":
		err = runCancel(args)
	case "artifact":
		err = runArtifact(args)
	case "delete":
		err = runDelete(args)
	case "tui":
		err = runTUI(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func usage() {
	_, _ = os.Stderr.WriteString(`tweakforge usage:
  tweakforge discover                    list build daemons on the network
  tweakforge list                        list projects on the device
  tweakforge create -name N -bundle B    scaffold a new tweak project
  tweakforge import -zip F -name N       upload a source bundle as a project
  tweakforge export -project P -out F    download a project's source bundle
  tweakforge build -project P            compile a project on the device
  tweakforge install -project P          install the newest package
  tweakforge repair -project P           rewrite host theos paths in the makefile
  tweakforge history -project P          show finished sessions
  tweakforge log -session S              print a session's log
  tweakforge cancel -session S           stop the active session
  tweakforge artifact -project P -out F  download the newest package
  tweakforge delete -project P           remove a project from the device
  tweakforge tui                         interactive terminal frontend
`)
}

type commonFlags struct {
	serverURL       *string
	discoverEnabled *bool
	discoverTimeout *time.Duration
	discoverService *string
	discoverDomain  *string
	token           *string
	authHeader      *string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		serverURL:       fs.String("server", defaultString(os.Getenv("TWEAKFORGE_SERVER"), ""), "daemon base url (if empty, auto-discover)"),
		discoverEnabled: fs.Bool("discover", true, "auto-discover the daemon when --server is not provided"),
		discoverTimeout: fs.Duration("discover-timeout", 2*time.Second, "mDNS auto-discovery timeout"),
		discoverService: fs.String("discover-service", discovery.DefaultServiceName, "mDNS service name used for discovery"),
		discoverDomain:  fs.String("discover-domain", discovery.DefaultDomain, "mDNS discovery domain"),
		token:           fs.String("token", strings.TrimSpace(os.Getenv("TWEAKFORGE_TOKEN")), "auth token"),
		authHeader:      fs.String("auth-header", defaultString(os.Getenv("TWEAKFORGE_AUTH_HEADER"), "X-Forge-Token"), "auth header"),
	}
}

func (c *commonFlags) client() (*client.HTTPClient, error) {
	url, err := resolveServerURL(*c.serverURL, *c.discoverEnabled, *c.discoverTimeout, *c.discoverService, *c.discoverDomain)
	if err != nil {
		return nil, err
	}
	return &client.HTTPClient{BaseURL: url, Token: *c.token, AuthHeader: *c.authHeader}, nil
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("tweakforge discover", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "mDNS scan duration")
	service := fs.String("service", discovery.DefaultServiceName, "mDNS service name")
	domain := fs.String("domain", discovery.DefaultDomain, "mDNS domain")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	endpoints, err := discovery.DiscoverAll(ctx, *service, *domain)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		fmt.Println("no devices found")
		return nil
	}
	for _, ep := range endpoints {
		fmt.Printf("%-24s %-28s %s\n", ep.Instance, ep.HostName, ep.URL)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("tweakforge list", flag.ContinueOnError)
	common := registerCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := common.client()
	if err != nil {
		return err
	}

	projects, err := c.ListProjects(context.Background())
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("no projects")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%-36s  %-20s  %-32s  %s\n", p.ID, p.Name, p.BundleID, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("tweakforge create", flag.ContinueOnError)
	common := registerCommon(fs)
	name := fs.String("name", "", "project name")
	bundle := fs.String("bundle", "", "bundle identifier (example: com.example.volify)")
	target := fs.String("target", "", "target process (default SpringBoard)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *bundle == "" {
		return fmt.Errorf("--name and --bundle are required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}

	proj, err := c.CreateProject(context.Background(), *name, *bundle, *target)
	if err != nil {
		return err
	}
	fmt.Printf("project created: %s (%s)\n", proj.Name, proj.ID)
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("tweakforge import", flag.ContinueOnError)
	common := registerCommon(fs)
	zipPath := fs.String("zip", "", "source bundle zip path")
	name := fs.String("name", "", "project name")
	bundle := fs.String("bundle", "", "bundle identifier")
	target := fs.String("target", "", "target process")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *zipPath == "" || *name == "" || *bundle == "" {
		return fmt.Errorf("--zip, --name, and --bundle are required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}

	proj, err := c.ImportProject(context.Background(), *zipPath, *name, *bundle, *target)
	if err != nil {
		return err
	}
	fmt.Printf("project imported: %s (%s)\n", proj.Name, proj.ID)
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("tweakforge export", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	out := fs.String("out", "", "output zip path (default <name>.zip)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	outPath := *out
	if outPath == "" {
		outPath = proj.Name + ".zip"
	}
	return writeDownload(outPath, func(f *os.File) error {
		return c.ExportProject(ctx, proj.ID, f)
	})
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("tweakforge build", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	wait := fs.Bool("wait", true, "follow the build until it finishes")
	poll := fs.Duration("poll", time.Second, "status polling interval")
	install := fs.Bool("install", false, "install the package after a successful build")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	rec, err := c.TriggerBuild(ctx, proj.ID)
	if err != nil {
		return err
	}
	fmt.Printf("build started: %s\n", rec.ID)
	if !*wait {
		return nil
	}

	final, err := followSession(ctx, c, rec.ID, *poll)
	if err != nil {
		return err
	}
	if final.State != session.StateSucceeded {
		return fmt.Errorf("build failed: %s", final.Message)
	}
	fmt.Printf("build finished: %s\n", final.Message)

	if *install {
		return installAndFollow(ctx, c, proj.ID, "", *poll)
	}
	return nil
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("tweakforge install", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	deb := fs.String("deb", "", "package path on the device (default: newest build)")
	poll := fs.Duration("poll", time.Second, "status polling interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	return installAndFollow(ctx, c, proj.ID, *deb, *poll)
}

func runRepair(args []string) error {
	fs := flag.NewFlagSet("tweakforge repair", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	changed, err := c.RepairProject(ctx, proj.ID)
	if err != nil {
		return err
	}
	if changed {
		fmt.Println("makefile repaired")
	} else {
		fmt.Println("makefile already clean")
	}
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("tweakforge history", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	records, err := c.History(ctx, proj.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no sessions yet")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s  %-8s %-10s %s\n", rec.StartedAt.Local().Format("2006-01-02 15:04:05"), rec.Kind, rec.State, rec.Message)
	}
	return nil
}

func runLog(args []string) error {
	fs := flag.NewFlagSet("tweakforge log", flag.ContinueOnError)
	common := registerCommon(fs)
	sessionID := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}

	entries, err := c.GetSessionLog(context.Background(), *sessionID)
	if err != nil {
		return err
	}
	printEntries(entries, 0)
	return nil
}

func runCancel(args []string) error {
	fs := flag.NewFlagSet("tweakforge cancel", flag.ContinueOnError)
	common := registerCommon(fs)
	sessionID := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	if err := c.CancelSession(context.Background(), *sessionID); err != nil {
		return err
	}
	fmt.Println("cancellation requested")
	return nil
}

func runArtifact(args []string) error {
	fs := flag.NewFlagSet("tweakforge artifact", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	out := fs.String("out", "", "output path (default <name>.deb)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	outPath := *out
	if outPath == "" {
		outPath = proj.Name + ".deb"
	}
	return writeDownload(outPath, func(f *os.File) error {
		return c.DownloadArtifact(ctx, proj.ID, f)
	})
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("tweakforge delete", flag.ContinueOnError)
	common := registerCommon(fs)
	projectRef := fs.String("project", "", "project id or name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectRef == "" {
		return fmt.Errorf("--project is required")
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proj, err := resolveProject(ctx, c, *projectRef)
	if err != nil {
		return err
	}
	if err := c.DeleteProject(ctx, proj.ID); err != nil {
		return err
	}
	fmt.Printf("project deleted: %s\n", proj.Name)
	return nil
}

func runTUI(args []string) error {
	fs := flag.NewFlagSet("tweakforge tui", flag.ContinueOnError)
	common := registerCommon(fs)
	refresh := fs.Duration("refresh", 1500*time.Millisecond, "refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := common.client()
	if err != nil {
		return err
	}
	return tui.Run(context.Background(), tui.Options{
		Client:          c,
		RefreshInterval: *refresh,
		DeviceName:      c.BaseURL,
	})
}

func installAndFollow(ctx context.Context, c *client.HTTPClient, projectID, deb string, poll time.Duration) error {
	rec, err := c.TriggerInstall(ctx, projectID, deb)
	if err != nil {
		return err
	}
	fmt.Printf("install started: %s\n", rec.ID)
	final, err := followSession(ctx, c, rec.ID, poll)
	if err != nil {
		return err
	}
	if final.State != session.StateSucceeded {
		return fmt.Errorf("install failed: %s", final.Message)
	}
	fmt.Printf("install finished: %s\n", final.Message)
	return nil
}

// followSession polls the session, printing new log lines as they land.
func followSession(ctx context.Context, c *client.HTTPClient, sessionID string, poll time.Duration) (*session.Record, error) {
	printed := 0
	return c.WaitForTerminal(ctx, sessionID, poll, func(rec *session.Record) {
		entries, err := c.GetSessionLog(ctx, sessionID)
		if err != nil {
			return
		}
		printed = printEntries(entries, printed)
	})
}

func printEntries(entries []pipeline.LogEntry, from int) int {
	if from < 0 || from > len(entries) {
		from = 0
	}
	for _, entry := range entries[from:] {
		fmt.Printf("%s %-8s %s\n", entry.At.Local().Format("15:04:05"), entry.Level, entry.Message)
	}
	return len(entries)
}

func resolveProject(ctx context.Context, c *client.HTTPClient, ref string) (*projectRef, error) {
	if proj, err := c.GetProject(ctx, ref); err == nil {
		return &projectRef{ID: proj.ID, Name: proj.Name}, nil
	}
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if strings.EqualFold(p.Name, ref) {
			return &projectRef{ID: p.ID, Name: p.Name}, nil
		}
	}
	return nil, fmt.Errorf("no project matches %q", ref)
}

type projectRef struct {
	ID   string
	Name string
}

func writeDownload(outPath string, fill func(*os.File) error) error {
	dir := filepath.Dir(outPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		_ = os.Remove(outPath)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("written to %s\n", outPath)
	return nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func resolveServerURL(
	explicit string,
	discover bool,
	timeout time.Duration,
	service string,
	domain string,
) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		return explicit, nil
	}
	if !discover {
		return "", errors.New("server is required when discovery is disabled; pass --server")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	endpoint, err := discoverFn(ctx, service, domain)
	if err != nil {
		return "", fmt.Errorf("discover daemon via mDNS: %w", err)
	}
	fmt.Printf("discovered daemon: %s (instance=%s host=%s)\n", endpoint.URL, endpoint.Instance, endpoint.HostName)
	return endpoint.URL, nil
}
