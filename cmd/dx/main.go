package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dialectica/internal/app"
	"dialectica/internal/config"
	"dialectica/internal/db"
	"dialectica/internal/engine"
	"dialectica/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dx",
	Short: "Dialectica CLI",
	Long: `Dialectica researches a claim from two opposing sides at once.
Each job spawns a thesis dossier (the case FOR) and an antithesis dossier
(the case AGAINST). Workers research both; a human verifier approves each
dossier or sends it back with feedback. Once both sides are approved, a
synthesis worker reconciles them into one final report.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("DIALECTICA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(researchCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(dossierCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default dialectica.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func researchCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "research <query>",
		Short: "Start a dialectical research job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				query := strings.Join(args, " ")
				job, err := rt.Engine.CreateJob(cmd.Context(), query, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !noWait {
					rt.Pool.Wait()
					job, err = rt.Engine.GetJob(cmd.Context(), job.ID)
					if err != nil {
						return err
					}
				}
				snap, err := rt.Engine.GetJobSnapshot(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return immediately without waiting for research workers")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect research jobs"}
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobVerificationCmd())
	return job
}

func jobListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				jobs, err := rt.Engine.Repo.ListJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Synthesis", "Query", "Updated"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Status, j.SynthesisState, truncate(j.Query, 48), j.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to list")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with both dossiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				snap, err := rt.Engine.GetJobSnapshot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	return cmd
}

func jobVerificationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verification <job-id>",
		Short: "Show the verification gate status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				vs, err := rt.Engine.GetVerificationStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(vs)
			})
		},
	}
	return cmd
}

func dossierCmd() *cobra.Command {
	dossier := &cobra.Command{Use: "dossier", Short: "Inspect and review dossiers"}
	dossier.AddCommand(dossierShowCmd())
	dossier.AddCommand(dossierApproveCmd())
	dossier.AddCommand(dossierReviseCmd())
	return dossier
}

func dossierShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <dossier-id>",
		Short: "Show a dossier with plan, evidence and revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				detail, err := rt.Engine.GetDossierDetail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	return cmd
}

func dossierApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <dossier-id>",
		Short: "Approve a dossier; synthesis starts once both sides are approved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				out, err := rt.Engine.Review(cmd.Context(), args[0], engine.ActionApprove, "", viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if out.SynthesisDispatched {
					fmt.Println("both dossiers approved; synthesizing")
					rt.Pool.Wait()
					out.Job, err = rt.Engine.GetJob(cmd.Context(), out.Job.ID)
					if err != nil {
						return err
					}
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func dossierReviseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "revise <dossier-id>",
		Short: "Send a dossier back to research with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(feedback) == "" {
				return fmt.Errorf("--feedback required")
			}
			return withRuntime(func(rt *app.Runtime) error {
				out, err := rt.Engine.Review(cmd.Context(), args[0], engine.ActionRevise, feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				rt.Pool.Wait()
				out.Dossier, err = rt.Engine.Repo.GetDossier(cmd.Context(), out.Dossier.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback for the next research cycle")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <job-id>",
		Short: "Print the final synthesized report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				report, err := rt.Engine.GetReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"job_id": args[0], "report": report})
				}
				fmt.Println(report)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var jobID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events for one job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" {
				return fmt.Errorf("--job required")
			}
			return withRuntime(func(rt *app.Runtime) error {
				events, err := rt.Engine.Repo.ListEvents(cmd.Context(), jobID, n, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server with in-process workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()

			authCfg := server.AuthConfig{
				JWTSecret:              rt.Config.Server.JWTSecret,
				AllowLegacyActorHeader: rt.Config.Server.AllowLegacyActorHeader,
			}
			if secret := os.Getenv("DIALECTICA_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("DIALECTICA_JWT_SECRET is required when the legacy actor header is disabled")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(rt.Engine)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Dialectica API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withRuntime(fn func(*app.Runtime) error) error {
	rt, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
