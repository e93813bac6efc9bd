package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/hitlflow/hitlflow/internal/batch"
	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := store.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			if e.cfg.Persistence.Driver == "postgres" {
				rt := &runtime{}
				defer rt.Close()
				if _, err := openPersistence(cmd.Context(), e, rt); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("schema up to date"))
			return nil
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load models, members and entities from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			s, err := store.ParseSeed(f)
			if err != nil {
				return err
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			res, err := s.Apply(cmd.Context(), e.db, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d models, %d members, %d entities\n",
				okStyle.Render("seeded"), res.Models, res.Members, res.Entities)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCreditsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust member credits",
	}

	var amount float64
	var refillEmail string
	refill := &cobra.Command{
		Use:   "refill",
		Short: "Reset free credits to the monthly allowance, for every member or one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			if !cmd.Flags().Changed("amount") {
				amount = e.cfg.Billing.MonthlyFreeCredits
			}
			n, err := refillCredits(cmd.Context(), ledgerOnly(e).ledger, e.db, refillEmail, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refilled %d members to $%.2f\n", n, amount)
			return nil
		},
	}
	refill.Flags().Float64Var(&amount, "amount", 0, "free credit amount (default billing.monthly_free_credits)")
	refill.Flags().StringVarP(&refillEmail, "member", "m", "", "refill only this member")

	var addAmount float64
	add := &cobra.Command{
		Use:   "add EMAIL",
		Short: "Add purchased credits to a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			m, err := memberByEmail(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			if err := ledgerOnly(e).ledger.AddPurchased(cmd.Context(), m.ID, addAmount); err != nil {
				return err
			}
			return showCredits(cmd.Context(), cmd.OutOrStdout(), e, m.ID)
		},
	}
	add.Flags().Float64Var(&addAmount, "amount", 0, "purchased credit amount")
	_ = add.MarkFlagRequired("amount")

	show := &cobra.Command{
		Use:   "show EMAIL",
		Short: "Show a member's balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			m, err := memberByEmail(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			return showCredits(cmd.Context(), cmd.OutOrStdout(), e, m.ID)
		},
	}

	cmd.AddCommand(refill, add, show)
	return cmd
}

func newMembersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage members",
	}
	setModel := &cobra.Command{
		Use:   "set-model EMAIL [MODEL]",
		Short: "Pin the paid model a member is billed on; omit MODEL to use billing.default_model",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			model := ""
			if len(args) == 2 {
				model = args[1]
			}
			if err := setMemberModel(cmd.Context(), e.db, args[0], model); err != nil {
				return err
			}
			if model == "" {
				model = e.cfg.Billing.DefaultModel + " (default)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s now uses %s\n", okStyle.Render("updated"), args[0], model)
			return nil
		},
	}
	cmd.AddCommand(setModel)
	return cmd
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the active, priced models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			models, err := (&store.ModelRepo{}).ListActive(cmd.Context(), e.db)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), modelsTable(models))
			return nil
		},
	}
}

func newUsageCmd(opts *rootOptions) *cobra.Command {
	var email string
	var limit int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "List a member's recent usage rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			m, err := memberByEmail(cmd.Context(), e, email)
			if err != nil {
				return err
			}
			rows, err := ledgerOnly(e).ledger.ListUsage(cmd.Context(), m.ID, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usageTable(rows))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "member", "m", "", "member email")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows to show")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Unattended content jobs",
	}

	var class, email string
	var limit, concurrency int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate content for every entity of a class whose content is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()
			m, err := memberByEmail(cmd.Context(), e, email)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cmd.Flags().Changed("limit") {
				limit = e.cfg.Batch.Limit
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = e.cfg.Batch.Concurrency
			}
			rep, err := batch.NewRunner(e.db, rt.content, concurrency, e.logger).Run(cmd.Context(), m, class, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d/%d entities\n", okStyle.Render("generated"), rep.Succeeded, rep.Attempted)
			for _, f := range rep.Failures {
				fmt.Fprintf(out, "  %s %s #%d: %v\n", failStyle.Render("failed"), f.Entity.Class, f.Entity.ID, f.Err)
			}
			return nil
		},
	}
	generate.Flags().StringVar(&class, "class", "", "entity class to fill")
	generate.Flags().StringVarP(&email, "member", "m", "", "acting member email (must be able to edit the entities)")
	generate.Flags().IntVar(&limit, "limit", 100, "maximum entities to process (default batch.limit)")
	generate.Flags().IntVar(&concurrency, "concurrency", 5, "workflows in flight (default batch.concurrency)")
	_ = generate.MarkFlagRequired("class")
	_ = generate.MarkFlagRequired("member")

	cmd.AddCommand(generate)
	return cmd
}

// ledgerOnly wires just the ledger, for commands that never run a workflow.
func ledgerOnly(e *env) *runtime {
	return &runtime{ledger: billing.NewLedger(e.db, e.logger)}
}

// refillCredits resets free credits for one member when email is set, or for
// every member otherwise, and returns how many were refilled.
func refillCredits(ctx context.Context, ledger *billing.Ledger, db *sql.DB, email string, amount float64) (int64, error) {
	if email == "" {
		return ledger.RefillAllFree(ctx, amount)
	}
	m, err := lookupMember(ctx, db, email)
	if err != nil {
		return 0, err
	}
	if err := ledger.RefillFree(ctx, m.ID, amount); err != nil {
		return 0, err
	}
	return 1, nil
}

// setMemberModel pins a member to a named model. An empty name clears the
// override.
func setMemberModel(ctx context.Context, db *sql.DB, email, model string) error {
	m, err := lookupMember(ctx, db, email)
	if err != nil {
		return err
	}
	var modelID int64
	if model != "" {
		am, err := (&store.ModelRepo{}).GetByName(ctx, db, model)
		if err != nil {
			return fmt.Errorf("model %s: %w", model, err)
		}
		modelID = am.ID
	}
	return (&store.MemberRepo{}).SetModel(ctx, db, m.ID, modelID)
}

func memberByEmail(ctx context.Context, e *env, email string) (*domain.Member, error) {
	return lookupMember(ctx, e.db, email)
}

func lookupMember(ctx context.Context, db *sql.DB, email string) (*domain.Member, error) {
	m, err := (&store.MemberRepo{}).GetByEmail(ctx, db, email)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", email, err)
	}
	return m, nil
}

func showCredits(ctx context.Context, w io.Writer, e *env, memberID int64) error {
	m, err := ledgerOnly(e).ledger.Balance(ctx, memberID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, headerStyle.Render(m.Email))
	fmt.Fprintf(w, "  free       $%.6f\n", m.FreeCredits)
	fmt.Fprintf(w, "  purchased  $%.6f\n", m.PurchasedCredits)
	fmt.Fprintf(w, "  total      $%.6f\n", m.TotalCredits())
	if m.IsAdmin {
		fmt.Fprintln(w, mutedStyle.Render("  admin: calls are not charged"))
	}
	return nil
}

func modelsTable(models []domain.AIModel) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("NAME", "PROVIDER", "IN/1M", "OUT/1M", "CONTEXT", "FREE")
	for _, m := range models {
		free := ""
		if m.AllowedForFreeCredits {
			free = okStyle.Render("yes")
		}
		t.Row(
			m.Name,
			m.Provider,
			fmt.Sprintf("$%.2f", m.InputCostPer1M),
			fmt.Sprintf("$%.2f", m.OutputCostPer1M),
			strconv.FormatInt(m.ContextWindow, 10),
			free,
		)
	}
	return t.String()
}

func usageTable(rows []domain.UsageEntry) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "TIME", "TYPE", "MODEL", "ENTITY", "TOKENS", "COST", "STATUS")
	for _, r := range rows {
		status := okStyle.Render("ok")
		if !r.Success {
			status = failStyle.Render(string(r.ErrorType))
		}
		entity := ""
		if r.EntityClass != "" {
			entity = r.EntityClass + " #" + strconv.FormatInt(r.EntityID, 10)
		}
		t.Row(
			strconv.FormatInt(r.ID, 10),
			time.Unix(r.RequestTimeUnix, 0).UTC().Format(time.DateTime),
			string(r.RequestType),
			r.Model,
			entity,
			strconv.FormatInt(r.Usage.Total(), 10),
			fmt.Sprintf("$%.6f", r.Cost),
			status,
		)
	}
	return t.String()
}
