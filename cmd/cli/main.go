package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/mail"
	"github.com/oarkflow/smpp"
	"github.com/urfave/cli/v2"

	"github.com/oarkflow/pipeline/etl"
	"github.com/oarkflow/pipeline/pkg/config"
	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/server"
	"github.com/oarkflow/pipeline/pkg/storage"
	"github.com/oarkflow/pipeline/pkg/synthesis"
)

func main() {
	app := &cli.App{
		Name:  "pipeline",
		Usage: "Visual ETL pipelines with prompt-generated, self-healing transforms",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the pipeline API server",
				Flags: append(stackFlags(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Address to listen on (overrides config)",
					},
					&cli.StringFlag{
						Name:  "auth",
						Usage: "Basic auth credentials as user:pass (empty disables auth)",
					},
					&cli.StringFlag{
						Name:  "synthesis-url",
						Usage: "Chat-completions endpoint for transform synthesis (overrides config)",
					},
					&cli.StringFlag{
						Name:    "synthesis-key",
						Usage:   "API key for the synthesis endpoint",
						EnvVars: []string{"OPENAI_API_KEY"},
					},
					&cli.StringFlag{
						Name:  "synthesis-model",
						Usage: "Default model for transform synthesis (overrides config)",
					},
					&cli.StringFlag{
						Name:  "version",
						Value: "1.0.0",
						Usage: "Version reported by /api/health",
					},
				),
				Action: serveAction,
			},
			{
				Name:  "run",
				Usage: "Register a pipeline definition and run it once",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the pipeline definition (JSON, YAML, or BCL)",
						Required: true,
					},
				}, stackFlags()...),
				Action: runAction,
			},
			{
				Name:  "validate",
				Usage: "Check a pipeline definition without running it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the pipeline definition (JSON, YAML, or BCL)",
						Required: true,
					},
				},
				Action: validateAction,
			},
			{
				Name:  "preview",
				Usage: "Generate a transform from a prompt and dry-run it against live data",
				Flags: append([]cli.Flag{
					&cli.StringSliceFlag{
						Name:     "datasource",
						Aliases:  []string{"d"},
						Usage:    "Datasource ID to load as an input (repeatable)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "prompt",
						Aliases:  []string{"p"},
						Usage:    "Natural-language description of the transformation",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "Maximum number of result rows to print",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Model hint passed to the code generator",
					},
				}, stackFlags()...),
				Action: previewAction,
			},
			{
				Name:  "schema",
				Usage: "Print the live schema of a datasource",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "datasource",
						Aliases:  []string{"d"},
						Usage:    "Datasource ID",
						Required: true,
					},
				}, stackFlags()...),
				Action: schemaAction,
			},
			{
				Name:  "test-connection",
				Usage: "Probe a stored linked service",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Linked service ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "target",
						Usage: "Table, key, or collection to probe in addition to the connection",
					},
				}, stackFlags()...),
				Action: testConnectionAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// stackFlags returns the flags shared by every command that opens the
// control-plane store. A fresh slice each call so appends do not alias.
func stackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the configuration file (JSON, YAML, or BCL)",
		},
		&cli.StringFlag{
			Name:  "database-path",
			Usage: "Path to the control-plane SQLite database (overrides config)",
		},
		&cli.StringFlag{
			Name:    "encryption-key",
			Usage:   "Key used to encrypt stored connection configs",
			EnvVars: []string{"APP_ENCRYPTION_KEY"},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := c.String("database-path"); path != "" {
		cfg.Storage.Path = path
	}
	if key := c.String("encryption-key"); key != "" {
		cfg.Storage.EncryptionKey = key
	}
	if auth := c.String("auth"); auth != "" {
		user, pass, ok := strings.Cut(auth, ":")
		if !ok {
			return nil, fmt.Errorf("auth must be user:pass")
		}
		cfg.Server.BasicAuthUser = user
		cfg.Server.BasicAuthPass = pass
	}
	if url := c.String("synthesis-url"); url != "" {
		cfg.Synthesis.BaseURL = url
	}
	if key := c.String("synthesis-key"); key != "" {
		cfg.Synthesis.APIKey = key
	}
	if model := c.String("synthesis-model"); model != "" {
		cfg.Synthesis.Model = model
	}
	return cfg, nil
}

// buildStack wires storage, connections, synthesis, and alerting into a
// ready manager. The caller owns closing the returned store and manager.
func buildStack(cfg *config.Config) (*etl.Manager, *connections.Manager, *storage.Store, error) {
	store, err := storage.New(storage.Config{
		Path:          cfg.Storage.Path,
		EncryptionKey: cfg.Storage.EncryptionKey,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open storage: %w", err)
	}
	conns := connections.New(
		connections.WithServiceStore(store),
		connections.WithDataSourceStore(store),
	)
	opts := []etl.Option{
		etl.WithConnections(conns),
		etl.WithGenerator(synthesis.New(synthesisConfig(cfg.Synthesis), nil)),
		etl.WithPipelineStore(store),
		etl.WithExecutionStore(store),
		etl.WithHealEventStore(store),
	}
	if notifier := notifierFromConfig(cfg.Alerts); notifier != nil {
		opts = append(opts, etl.WithNotifier(notifier))
	}
	return etl.NewManager(opts...), conns, store, nil
}

func synthesisConfig(sc config.SynthesisConfig) synthesis.Config {
	temperature := 0.0
	if sc.Temperature != "" {
		if v, err := strconv.ParseFloat(sc.Temperature, 64); err == nil {
			temperature = v
		}
	}
	return synthesis.Config{
		BaseURL:     sc.BaseURL,
		APIKey:      sc.APIKey,
		Model:       sc.Model,
		Temperature: temperature,
		Timeout:     sc.Timeout,
	}
}

func notifierFromConfig(ac config.AlertConfig) *etl.Notifier {
	var opts []etl.NotifierOption
	if ac.Email != nil {
		opts = append(opts, etl.WithEmailAlerts(etl.EmailAlertConfig{
			Mail: mail.Config{
				Host:        ac.Email.Host,
				Port:        ac.Email.Port,
				Username:    ac.Email.Username,
				Password:    ac.Email.Password,
				Encryption:  ac.Email.Encryption,
				FromAddress: ac.Email.FromAddress,
			},
			Recipients: ac.Email.Recipients,
		}))
	}
	if ac.SMS != nil {
		opts = append(opts, etl.WithSMSAlerts(etl.SMSAlertConfig{
			Setting: smpp.Setting{
				URL: ac.SMS.URL,
				Auth: smpp.Auth{
					SystemID: ac.SMS.SystemID,
					Password: ac.SMS.Password,
				},
			},
			From: ac.SMS.From,
			To:   ac.SMS.To,
		}))
	}
	if len(opts) == 0 {
		return nil
	}
	if ac.OnFailureOnly {
		opts = append(opts, etl.OnFailureOnly())
	}
	return etl.NewNotifier(nil, opts...)
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	manager, conns, store, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer conns.CloseAll()

	srv := server.New(server.Config{
		Addr:          cfg.Server.Addr,
		Version:       c.String("version"),
		BasicAuthUser: cfg.Server.BasicAuthUser,
		BasicAuthPass: cfg.Server.BasicAuthPass,
		CORSOrigins:   cfg.Server.CORSOrigins,
	}, manager, conns, nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		fmt.Printf("Received signal: %v. Initiating graceful shutdown...\n", sig)
		if err := srv.Shutdown(); err != nil {
			fmt.Printf("Error shutting down server: %v\n", err)
			return err
		}
		select {
		case err := <-serverErr:
			if err != nil {
				return err
			}
			fmt.Println("Server shut down gracefully")
			return nil
		case <-time.After(30 * time.Second):
			fmt.Println("Shutdown timeout reached, forcing exit")
			os.Exit(1)
		}
		return nil
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}
	p, err := etl.ParsePipelineDefinition(data)
	if err != nil {
		return err
	}

	manager, conns, store, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer conns.CloseAll()

	if p.ID != "" {
		if _, getErr := manager.GetPipeline(p.ID); getErr == nil {
			p, err = manager.UpdatePipeline(p)
		} else {
			p, err = manager.AddPipeline(p)
		}
	} else {
		p, err = manager.AddPipeline(p)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Running pipeline %q (%s)\n", p.Name, p.ID)
	res, runErr := manager.RunPipeline(context.Background(), p.ID)
	fmt.Printf("Execution %s finished with status %s\n", res.ExecutionID, res.Status)
	if exec, execErr := manager.GetExecution(res.ExecutionID); execErr == nil {
		for _, line := range exec.Logs {
			fmt.Println("  " + line)
		}
	}
	return runErr
}

func validateAction(c *cli.Context) error {
	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}
	p, err := etl.ParsePipelineDefinition(data)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	graph, err := etl.Build(p.Nodes, p.Edges)
	if err != nil {
		return err
	}
	fmt.Printf("Pipeline %q is valid: %d nodes, %d edges\n", p.Name, graph.Len(), len(p.Edges))
	fmt.Printf("Execution order: %v\n", graph.Order())
	return nil
}

func previewAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	manager, conns, store, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer conns.CloseAll()

	req := etl.PreviewRequest{
		Prompt:    c.String("prompt"),
		Limit:     c.Int("limit"),
		ModelHint: c.String("model"),
	}
	for _, id := range c.StringSlice("datasource") {
		req.Sources = append(req.Sources, etl.PreviewSource{DataSourceID: id})
	}

	res, err := manager.PreviewTransformation(context.Background(), req)
	if err != nil {
		return err
	}

	fmt.Println("Generated transform:")
	fmt.Println(res.GeneratedCode)
	fmt.Printf("Result columns: %v\n", res.Columns)
	fmt.Printf("Showing %d row(s):\n", res.RowCount)
	for _, row := range res.Rows {
		line, marshalErr := json.Marshal(row)
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Println("  " + string(line))
	}
	return nil
}

func schemaAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	manager, conns, store, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer conns.CloseAll()

	id := c.String("datasource")
	fields, err := manager.GetSchema(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Schema for %s (%d fields):\n", id, len(fields))
	for _, f := range fields {
		if f.Nullable {
			fmt.Printf("  %-24s %s (nullable)\n", f.Name, f.Type)
		} else {
			fmt.Printf("  %-24s %s\n", f.Name, f.Type)
		}
	}
	return nil
}

func testConnectionAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	_, conns, store, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer conns.CloseAll()

	id := c.String("service")
	var ok bool
	var message string
	if target := c.String("target"); target != "" {
		svc, getErr := conns.GetService(id)
		if getErr != nil {
			return getErr
		}
		ok, message = conns.TestService(context.Background(), svc, target)
	} else {
		ok, message = conns.TestServiceByID(context.Background(), id)
	}
	if !ok {
		return fmt.Errorf("connection test failed: %s", message)
	}
	fmt.Printf("Connection OK: %s\n", message)
	return nil
}
