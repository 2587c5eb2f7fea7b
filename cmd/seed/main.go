// cmd/seed — populates the data directory with realistic demo data for
// development: an employee directory, a company catalogue, and two registered
// documents, written through the real stores so the portal loads them as-is.
//
// Running twice is safe: existing documents are skipped, directory rows are
// updated in place. To fully reset, delete the data directory.
//
// Usage:
//
//	go run ./cmd/seed
//	SECURITY_REGISTRY_SIGNATURE_KEY=... SECURITY_SECTION_SECRET=... go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/registry/model"
	"github.com/techcorp/docbroker/internal/registry/repository"
	"github.com/techcorp/docbroker/internal/registry/service"
	"go.uber.org/zap"
)

// The demo company catalogue. TechCorp is the portal's own company; the
// others are partners documents can be released to.
const (
	didTechCorp = "did:prism:issuer-techcorp"
	didAcme     = "did:prism:issuer-acme"
	didGlobex   = "did:prism:issuer-globex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	viper.SetConfigName("portal")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("data.dir", "data")
	viper.SetDefault("security.registry_signature_key", "dev-signature-key")
	viper.SetDefault("security.section_secret", "dev-section-secret")
	_ = viper.ReadInConfig()

	dataDir := viper.GetString("data.dir")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("seeding into %s/\n\n", dataDir)

	logger := zap.NewNop()
	ledger, err := audit.NewFileLedger(filepath.Join(dataDir, "audit.jsonl"), logger)
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}

	directory, err := auth.NewDirectory(filepath.Join(dataDir, "employee-connection-mappings.json"))
	if err != nil {
		return fmt.Errorf("open employee directory: %w", err)
	}
	if err := seedEmployees(directory); err != nil {
		return fmt.Errorf("seed employees: %w", err)
	}

	store := repository.NewSignedStore(
		filepath.Join(dataDir, "document-registry.json"),
		[]byte(viper.GetString("security.registry_signature_key")),
	)
	hidden, err := repository.NewHiddenConnections(filepath.Join(dataDir, "soft-deleted-connections.json"))
	if err != nil {
		return fmt.Errorf("open soft-deleted connections: %w", err)
	}
	docs, err := service.NewDocumentService(
		store, hidden,
		[]byte(viper.GetString("security.section_secret")),
		ledger, logger,
	)
	if err != nil {
		return fmt.Errorf("load document registry: %w", err)
	}
	if err := seedDocuments(docs); err != nil {
		return fmt.Errorf("seed documents: %w", err)
	}

	fmt.Println("\nseed complete")
	return nil
}

// ── Employees ────────────────────────────────────────────────────────────────

type seedEmployee struct {
	Identifier string
	Row        auth.Employee
}

var employees = []seedEmployee{
	{
		Identifier: "carol@techcorp.com",
		Row: auth.Employee{
			ConnectionID:               "conn-carol-enterprise",
			Email:                      "carol@techcorp.com",
			Name:                       "Carol Vance",
			Department:                 "Engineering",
			PersonalWalletConnectionID: "conn-carol-personal",
		},
	},
	{
		Identifier: "dave@techcorp.com",
		Row: auth.Employee{
			ConnectionID:               "conn-dave-enterprise",
			Email:                      "dave@techcorp.com",
			Name:                       "Dave Okafor",
			Department:                 "HR",
			PersonalWalletConnectionID: "conn-dave-personal",
		},
	},
	{
		Identifier: "erin@techcorp.com",
		Row: auth.Employee{
			ConnectionID: "conn-erin-enterprise",
			Email:        "erin@techcorp.com",
			Name:         "Erin Castellanos",
			Department:   "IT",
		},
	},
}

func seedEmployees(directory *auth.Directory) error {
	for _, e := range employees {
		if err := directory.Put(e.Identifier, e.Row); err != nil {
			return fmt.Errorf("put %s: %w", e.Identifier, err)
		}
		fmt.Printf("  employee  %-22s  connection: %s\n", e.Identifier, e.Row.ConnectionID)
	}
	return nil
}

// ── Documents ────────────────────────────────────────────────────────────────

var documents = []*model.RegisterRequest{
	{
		DocumentDID:          "did:prism:doc-q3-roadmap",
		Title:                "Q3 Product Roadmap",
		ClassificationLevel:  "CONFIDENTIAL",
		ReleasableTo:         []string{didTechCorp, didAcme},
		ContentEncryptionKey: "c2VlZC1rZXktcm9hZG1hcA==",
		Metadata: model.RecordMetadata{
			Author:     "strategy office",
			Department: "Product",
		},
	},
	{
		DocumentDID:          "did:prism:doc-merger-brief",
		Title:                "Project Aurora Merger Brief",
		ClassificationLevel:  "TOP-SECRET",
		ReleasableTo:         []string{didTechCorp},
		ContentEncryptionKey: "c2VlZC1rZXktbWVyZ2Vy",
		Metadata: model.RecordMetadata{
			Author:     "corporate development",
			Department: "Executive",
		},
		CustomMetadata: map[string]string{
			"codename": "aurora",
		},
	},
}

func seedDocuments(docs *service.DocumentService) error {
	ctx := context.Background()
	for _, req := range documents {
		rec, err := docs.Register(ctx, req)
		if err != nil {
			if apperr.IsKind(err, apperr.Conflict) {
				fmt.Printf("  document  %-28s  already registered, skipping\n", req.DocumentDID)
				continue
			}
			return fmt.Errorf("register %s: %w", req.DocumentDID, err)
		}
		fmt.Printf("  document  %-28s  %s (%s)\n",
			rec.DocumentID, rec.Title, rec.OverallClassification)
	}
	return nil
}
