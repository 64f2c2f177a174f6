package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/IteraFlow/internal/app"
	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/export"
	"github.com/dharsanguruparan/IteraFlow/internal/intake"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
	"github.com/dharsanguruparan/IteraFlow/internal/processing"
)

// opener builds the orchestrator for one command run and returns a cleanup.
type opener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*processing.Orchestrator, func(), error)

func openOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*processing.Orchestrator, func(), error) {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	archive, err := app.OpenArchive(ctx, cfg)
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	return app.NewOrchestrator(cfg, stores, archive, logger), stores.Close, nil
}

// session holds what every subcommand shares.
type session struct {
	open opener

	databaseURL string
	sqlitePath  string
	verbose     bool

	cfg  *config.Config
	log  *slog.Logger
	orch *processing.Orchestrator
	done func()
}

// start loads configuration and opens the store. remote reports whether the
// command talks to the extraction service, in which case credentials are
// validated first.
func (s *session) start(cmd *cobra.Command, remote bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if s.databaseURL != "" {
		cfg.DatabaseURL = s.databaseURL
	}
	if s.sqlitePath != "" {
		cfg.SQLitePath = s.sqlitePath
	}
	if s.verbose {
		cfg.Log.Level = "debug"
	}
	if remote {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	s.cfg = cfg
	s.log = config.NewLogger(cfg.Log, cmd.ErrOrStderr())

	orch, done, err := s.open(cmd.Context(), cfg, s.log)
	if err != nil {
		return err
	}
	s.orch, s.done = orch, done
	return nil
}

func (s *session) close() {
	if s.done != nil {
		s.done()
	}
}

func newRootCommand(open opener) *cobra.Command {
	s := &session{open: open}
	cmd := &cobra.Command{
		Use:   "itera",
		Short: "IteraFlow document extraction CLI",
		Long: `itera registers financial statements locally, submits them to the Itera
extraction service, polls until processing settles and prints or saves the
extracted rows.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&s.databaseURL, "database-url", "", "Postgres DSN (defaults to ITERA_DATABASE_URL, then SQLite)")
	cmd.PersistentFlags().StringVar(&s.sqlitePath, "sqlite", "", "SQLite database path")
	cmd.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.AddCommand(
		newAddCmd(s),
		newListCmd(s),
		newProcessCmd(s),
		newStatusCmd(s),
		newExportCmd(s),
		newMappingCmd(s),
	)
	return cmd
}

func newAddCmd(s *session) *cobra.Command {
	var taxID, description string
	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Register documents for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.start(cmd, false); err != nil {
				return err
			}
			defer s.close()
			v := intake.NewValidator(s.cfg.MaxFileSize, s.cfg.AllowedTypes)
			for _, path := range args {
				doc, err := v.FromFile(path, taxID, description)
				if err != nil {
					return err
				}
				if err := s.orch.Register(cmd.Context(), doc); err != nil {
					return err
				}
				cmd.Printf("%s\t%s\t%s\n", doc.ID, doc.Filename, doc.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taxID, "tax-id", "", "CNPJ of the company the documents belong to")
	cmd.Flags().StringVar(&description, "description", "", "Description sent with the upload")
	_ = cmd.MarkFlagRequired("tax-id")
	return cmd
}

func newListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.start(cmd, false); err != nil {
				return err
			}
			defer s.close()
			docs, err := s.orch.Documents(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				cmd.Println("No documents registered")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tTAX ID\tSTATUS\tREMOTE ID")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Filename, d.TaxID, d.Status, d.RemoteIDValue())
			}
			return tw.Flush()
		},
	}
}

func newProcessCmd(s *session) *cobra.Command {
	var wait bool
	var timeout, interval time.Duration
	var concurrency int
	cmd := &cobra.Command{
		Use:   "process <document-id>...",
		Short: "Upload documents and optionally wait for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.start(cmd, true); err != nil {
				return err
			}
			defer s.close()
			opts := processing.PollOptions{
				Wait:        wait,
				Timeout:     s.cfg.Batch.Timeout(),
				Interval:    s.cfg.Batch.Interval(),
				Concurrency: s.cfg.Batch.Concurrency,
			}
			if cmd.Flags().Changed("timeout") {
				opts.Timeout = timeout
			}
			if cmd.Flags().Changed("interval") {
				opts.Interval = interval
			}
			if concurrency > 0 {
				opts.Concurrency = concurrency
			}
			result, err := processing.NewPoller(s.orch, s.log).Run(cmd.Context(), args, opts)
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until every document settles or the timeout elapses")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Polling timeout (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent status checks per round")
	return cmd
}

func newStatusCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status <document-id>",
		Short: "Check and record the remote status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.start(cmd, true); err != nil {
				return err
			}
			defer s.close()
			return printJSON(cmd.OutOrStdout(), s.orch.CheckAndUpdateStatus(cmd.Context(), args[0]))
		},
	}
}

func newExportCmd(s *session) *cobra.Command {
	var xlsxPath string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "export <document-id>",
		Short: "Print or save the extracted rows of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.start(cmd, refresh); err != nil {
				return err
			}
			defer s.close()
			id := args[0]
			var result model.ExportResult
			if refresh {
				result = s.orch.RefreshExport(cmd.Context(), id)
			} else {
				result = s.orch.GetExportResults(cmd.Context(), id)
			}
			if !result.IsSuccess {
				return fmt.Errorf("export %s: %s", id, result.Message)
			}
			if xlsxPath == "" {
				return printJSON(cmd.OutOrStdout(), result)
			}
			data, err := export.WriteXLSX(id, result.Records, s.log)
			if err != nil {
				return err
			}
			if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", xlsxPath, err)
			}
			cmd.Printf("Wrote %d rows to %s\n", result.TotalRecords, xlsxPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the rows to this XLSX file instead of printing JSON")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch the export again from the remote service first")
	return cmd
}

func newMappingCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "mapping <document-id>",
		Short: "Print the term mapping of an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.start(cmd, true); err != nil {
				return err
			}
			defer s.close()
			result := s.orch.GetMapping(cmd.Context(), args[0])
			if !result.IsSuccess {
				return fmt.Errorf("mapping %s: %s", args[0], result.Message)
			}
			_, err := io.WriteString(cmd.OutOrStdout(), result.Mapping)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
