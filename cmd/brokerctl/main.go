package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	portalURL    string
	adminKey     string
	sessionToken string
	cfgFile      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "brokerctl",
	Short: "TechCorp classified-document broker CLI",
	Long: `brokerctl is the command-line interface for the classified-document
broker portal.

It registers and uploads documents, onboards employees, inspects the audit
chain, and runs the wallet login flow against a running portal.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".brokerctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if portalURL == "" {
			portalURL = viper.GetString("portal_url")
		}
		if portalURL == "" {
			portalURL = "http://localhost:8080"
		}
		if adminKey == "" {
			adminKey = viper.GetString("admin_api_key")
		}
		if sessionToken == "" {
			sessionToken = viper.GetString("session_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.brokerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&portalURL, "portal", "", "portal base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "admin API key for admin commands")
	rootCmd.PersistentFlags().StringVar(&sessionToken, "session", "", "session token for employee commands")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginTimeoutMin int

var loginCmd = &cobra.Command{
	Use:   "login <identifier>",
	Short: "Log in with an enterprise wallet and print the session token",
	Long: `login opens a proof request against the employee's enterprise wallet and
polls until the wallet responds.

The identifier is the employee's email or DID as known to the portal's
directory. Approve the proof request in the wallet while this command waits.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().IntVar(&loginTimeoutMin, "timeout", 5, "wallet response timeout in minutes")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var initiated struct {
		PresentationID string `json:"presentationId"`
	}
	err := callPortal(ctx, http.MethodPost, "/auth/initiate",
		map[string]string{"identifier": args[0]}, &initiated)
	if err != nil {
		return fmt.Errorf("initiate login: %w", err)
	}
	fmt.Printf("Proof request sent to the enterprise wallet (presentation %s)\n", initiated.PresentationID)
	fmt.Println("Approve it in the wallet...")

	deadline := time.Now().Add(time.Duration(loginTimeoutMin) * time.Minute)
	spinner := []string{"|", "/", "-", "\\"}
	received := false
	for i := 0; time.Now().Before(deadline); i++ {
		var st struct {
			Status string `json:"status"`
		}
		if err := callPortal(ctx, http.MethodGet, "/auth/status/"+initiated.PresentationID, nil, &st); err != nil {
			fmt.Println()
			return fmt.Errorf("poll login status: %w", err)
		}
		if st.Status == "verified" || st.Status == "received" {
			received = true
			break
		}
		if st.Status == "failed" {
			fmt.Println()
			return fmt.Errorf("the wallet rejected the proof request")
		}
		fmt.Printf("\rWaiting for the wallet... %s ", spinner[i%len(spinner)])
		time.Sleep(3 * time.Second)
	}
	fmt.Println()

	if !received {
		return fmt.Errorf("wallet did not respond within %d minute(s)", loginTimeoutMin)
	}

	var verified struct {
		SessionToken   string `json:"sessionToken"`
		ClearanceLevel string `json:"clearanceLevel"`
		Employee       struct {
			FullName string `json:"fullName"`
			Role     string `json:"role"`
		} `json:"employee"`
	}
	if err := callPortal(ctx, http.MethodPost, "/auth/verify",
		map[string]string{"presentationId": initiated.PresentationID}, &verified); err != nil {
		return fmt.Errorf("verify login: %w", err)
	}

	fmt.Printf("✓ Logged in as %s (%s)\n\n", verified.Employee.FullName, verified.Employee.Role)
	fmt.Printf("  Clearance: %s\n", verified.ClearanceLevel)
	fmt.Printf("  Session:   %s\n\n", verified.SessionToken)
	fmt.Println("Export it for the other commands:")
	fmt.Printf("  export SESSION_TOKEN=%s\n", verified.SessionToken)
	return nil
}

// ── discover ─────────────────────────────────────────────────────────────────

var discoverFormat string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List documents released to your company at your clearance",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionToken == "" {
			return fmt.Errorf("--session (or SESSION_TOKEN) is required; run brokerctl login first")
		}

		var resp struct {
			Documents []struct {
				DocumentID          string    `json:"documentID"`
				Title               string    `json:"title"`
				ClassificationLevel string    `json:"classificationLevel"`
				CreatedAt           time.Time `json:"createdAt"`
			} `json:"documents"`
			Count          int    `json:"count"`
			ClearanceLevel string `json:"clearanceLevel"`
		}
		if err := callPortal(context.Background(), http.MethodGet, "/documents/discover", nil, &resp); err != nil {
			return fmt.Errorf("discover: %w", err)
		}

		if discoverFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		fmt.Printf("%d document(s) visible at clearance %s\n\n", resp.Count, resp.ClearanceLevel)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOCUMENT DID\tTITLE\tCLASSIFICATION\tREGISTERED")
		for _, d := range resp.Documents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.DocumentID, d.Title, d.ClassificationLevel, d.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverFormat, "format", "text", "Output format: text or json")
}

// ── register ─────────────────────────────────────────────────────────────────

var (
	regDID          string
	regTitle        string
	regLevel        string
	regReleasableTo []string
	regContentKey   string
	regAuthor       string
	regDepartment   string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a pre-encrypted document in the registry (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAdminKey(); err != nil {
			return err
		}

		var resp struct {
			DocumentDID           string `json:"documentDID"`
			Title                 string `json:"title"`
			OverallClassification string `json:"overallClassification"`
		}
		err := callPortal(context.Background(), http.MethodPost, "/documents/register", map[string]any{
			"documentDID":          regDID,
			"title":                regTitle,
			"classificationLevel":  regLevel,
			"releasableTo":         regReleasableTo,
			"contentEncryptionKey": regContentKey,
			"metadata": map[string]string{
				"author":     regAuthor,
				"department": regDepartment,
			},
		}, &resp)
		if err != nil {
			return fmt.Errorf("register document: %w", err)
		}

		fmt.Printf("✓ Document registered\n\n")
		fmt.Printf("  DID:            %s\n", resp.DocumentDID)
		fmt.Printf("  Title:          %s\n", resp.Title)
		fmt.Printf("  Classification: %s\n", resp.OverallClassification)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&regDID, "did", "", "document DID (did:prism:...)")
	registerCmd.Flags().StringVar(&regTitle, "title", "", "document title")
	registerCmd.Flags().StringVar(&regLevel, "level", "", "classification level (INTERNAL, CONFIDENTIAL, RESTRICTED, TOP-SECRET)")
	registerCmd.Flags().StringSliceVar(&regReleasableTo, "releasable-to", nil, "company issuer DIDs the document is released to")
	registerCmd.Flags().StringVar(&regContentKey, "content-key", "", "base64 content encryption key")
	registerCmd.Flags().StringVar(&regAuthor, "author", "", "document author")
	registerCmd.Flags().StringVar(&regDepartment, "department", "", "owning department")

	_ = registerCmd.MarkFlagRequired("did")
	_ = registerCmd.MarkFlagRequired("title")
	_ = registerCmd.MarkFlagRequired("level")
	_ = registerCmd.MarkFlagRequired("releasable-to")
}

// ── upload ───────────────────────────────────────────────────────────────────

var (
	uploadReleasableTo []string
	uploadAuthor       string
	uploadDepartment   string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.html | file.docx>",
	Short: "Upload a marked-up document for parsing and section encryption (admin)",
	Long: `upload sends an HTML or DOCX file with classification markers to the
portal. The portal splits it into sections, encrypts each section at its
marked level, and registers the result.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringSliceVar(&uploadReleasableTo, "releasable-to", nil, "company issuer DIDs the document is released to")
	uploadCmd.Flags().StringVar(&uploadAuthor, "author", "", "document author")
	uploadCmd.Flags().StringVar(&uploadDepartment, "department", "", "owning department")

	_ = uploadCmd.MarkFlagRequired("releasable-to")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if err := requireAdminKey(); err != nil {
		return err
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	for _, did := range uploadReleasableTo {
		_ = mw.WriteField("releasableTo", did)
	}
	if uploadAuthor != "" {
		_ = mw.WriteField("author", uploadAuthor)
	}
	if uploadDepartment != "" {
		_ = mw.WriteField("department", uploadDepartment)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		strings.TrimRight(portalURL, "/")+"/classified-documents/upload", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Api-Key", adminKey)

	var resp struct {
		DocumentDID           string         `json:"documentDID"`
		Title                 string         `json:"title"`
		OverallClassification string         `json:"overallClassification"`
		SectionCount          int            `json:"sectionCount"`
		ClearanceLevelStats   map[string]int `json:"clearanceLevelStats"`
		SourceFormat          string         `json:"sourceFormat"`
	}
	if err := doPortalRequest(req, &resp); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}

	fmt.Printf("✓ Document uploaded and registered\n\n")
	fmt.Printf("  DID:            %s\n", resp.DocumentDID)
	fmt.Printf("  Title:          %s\n", resp.Title)
	fmt.Printf("  Classification: %s\n", resp.OverallClassification)
	fmt.Printf("  Format:         %s\n", resp.SourceFormat)
	fmt.Printf("  Sections:       %d\n", resp.SectionCount)
	for level, count := range resp.ClearanceLevelStats {
		fmt.Printf("    %-14s %d\n", level+":", count)
	}
	return nil
}

// ── onboard ──────────────────────────────────────────────────────────────────

var (
	onboardEmployeeID  string
	onboardFullName    string
	onboardEmail       string
	onboardRole        string
	onboardDept        string
	onboardOfferConfig bool
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Provision a wallet and credentials for a new employee (admin)",
	Long: `onboard runs the employee provisioning pipeline: wallet, DID, DIDComm
connections to the company and broker agents, and the EmployeeRole
credential offer. On a partial failure the completed steps are printed so
the run can be repaired by hand.`,
	RunE: runOnboard,
}

func init() {
	onboardCmd.Flags().StringVar(&onboardEmployeeID, "employee-id", "", "employee identifier (e.g. EMP-0042)")
	onboardCmd.Flags().StringVar(&onboardFullName, "name", "", "employee full name")
	onboardCmd.Flags().StringVar(&onboardEmail, "email", "", "employee email")
	onboardCmd.Flags().StringVar(&onboardRole, "role", "", "employee role (e.g. Engineer)")
	onboardCmd.Flags().StringVar(&onboardDept, "department", "", "employee department")
	onboardCmd.Flags().BoolVar(&onboardOfferConfig, "offer-config", false, "also offer a ServiceConfiguration credential")

	_ = onboardCmd.MarkFlagRequired("employee-id")
	_ = onboardCmd.MarkFlagRequired("name")
	_ = onboardCmd.MarkFlagRequired("email")
	_ = onboardCmd.MarkFlagRequired("role")
	_ = onboardCmd.MarkFlagRequired("department")
}

func runOnboard(cmd *cobra.Command, args []string) error {
	if err := requireAdminKey(); err != nil {
		return err
	}

	var resp struct {
		Result struct {
			EmployeeID           string `json:"employeeId"`
			WalletID             string `json:"walletId"`
			DID                  string `json:"did"`
			CompanyConnectionID  string `json:"companyConnectionId"`
			EmployeeConnectionID string `json:"employeeConnectionId"`
			Steps                []struct {
				Name string `json:"name"`
				OK   bool   `json:"ok"`
			} `json:"steps"`
		} `json:"result"`
	}
	err := callPortal(context.Background(), http.MethodPost, "/admin/employees", map[string]any{
		"employeeId":                onboardEmployeeID,
		"fullName":                  onboardFullName,
		"email":                     onboardEmail,
		"role":                      onboardRole,
		"department":                onboardDept,
		"offerServiceConfiguration": onboardOfferConfig,
	}, &resp)
	if err != nil {
		return fmt.Errorf("onboard %s: %w", onboardEmail, err)
	}

	fmt.Printf("✓ Employee onboarded: %s\n\n", resp.Result.EmployeeID)
	fmt.Printf("  Wallet:              %s\n", resp.Result.WalletID)
	fmt.Printf("  DID:                 %s\n", resp.Result.DID)
	fmt.Printf("  Company connection:  %s\n", resp.Result.CompanyConnectionID)
	fmt.Printf("  Employee connection: %s\n", resp.Result.EmployeeConnectionID)
	fmt.Printf("  Steps completed:     %d\n", len(resp.Result.Steps))
	return nil
}

// ── audit ────────────────────────────────────────────────────────────────────

var (
	auditOffset int
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the portal's audit chain (admin)",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the audit chain and check hash consistency",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAdminKey(); err != nil {
			return err
		}

		var resp struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}
		if err := callPortal(context.Background(), http.MethodGet, "/admin/audit/verify", nil, &resp); err != nil {
			return fmt.Errorf("audit verify: %w", err)
		}
		if !resp.Valid {
			return fmt.Errorf("audit chain is BROKEN: %s", resp.Error)
		}
		fmt.Println("✓ Audit chain intact")
		return nil
	},
}

var auditRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the chain tip hash and entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAdminKey(); err != nil {
			return err
		}

		var resp struct {
			Entries int    `json:"entries"`
			Root    string `json:"root"`
		}
		if err := callPortal(context.Background(), http.MethodGet, "/admin/audit", nil, &resp); err != nil {
			return fmt.Errorf("audit root: %w", err)
		}
		fmt.Printf("Entries: %d\n", resp.Entries)
		fmt.Printf("Root:    %s\n", resp.Root)
		return nil
	},
}

var auditEntriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List audit entries, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAdminKey(); err != nil {
			return err
		}

		path := fmt.Sprintf("/admin/audit/entries?offset=%d&limit=%d", auditOffset, auditLimit)
		var resp struct {
			Entries []struct {
				Index     int       `json:"index"`
				Timestamp time.Time `json:"timestamp"`
				Action    string    `json:"action"`
				Subject   string    `json:"subject"`
				Actor     string    `json:"actor"`
			} `json:"entries"`
		}
		if err := callPortal(context.Background(), http.MethodGet, path, nil, &resp); err != nil {
			return fmt.Errorf("audit entries: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTIME\tACTION\tSUBJECT\tACTOR")
		for _, e := range resp.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.Action, e.Subject, e.Actor)
		}
		return w.Flush()
	},
}

func init() {
	auditEntriesCmd.Flags().IntVar(&auditOffset, "offset", 0, "first entry index")
	auditEntriesCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to list")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditRootCmd)
	auditCmd.AddCommand(auditEntriesCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the brokerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("brokerctl %s\n", version)
	},
}

// ── portal HTTP plumbing ─────────────────────────────────────────────────────

func requireAdminKey() error {
	if adminKey == "" {
		return fmt.Errorf("--admin-key (or ADMIN_API_KEY) is required for this command")
	}
	return nil
}

// callPortal sends a JSON request with the configured credentials and decodes
// the response body into out.
func callPortal(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(portalURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if adminKey != "" {
		req.Header.Set("X-Admin-Api-Key", adminKey)
	}
	if sessionToken != "" {
		req.Header.Set("X-Session-Token", sessionToken)
	}
	return doPortalRequest(req, out)
}

// doPortalRequest executes req and decodes the portal's response envelope.
// Error responses surface as "message (CODE)".
func doPortalRequest(req *http.Request, out any) error {
	hc := &http.Client{Timeout: 60 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Error)
		}
		return fmt.Errorf("portal returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
