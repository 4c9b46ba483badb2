package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nonzoo/cbt-ai/internal/auth"
	"github.com/nonzoo/cbt-ai/internal/bot"
	"github.com/nonzoo/cbt-ai/internal/engine"
	"github.com/nonzoo/cbt-ai/internal/handler"
	appI18n "github.com/nonzoo/cbt-ai/internal/i18n"
	"github.com/nonzoo/cbt-ai/internal/model"
	"github.com/nonzoo/cbt-ai/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cbt",
		Short: "Adaptive computer-based-testing service with a chat front-end",
	}

	serve := serveCmd()
	root.AddCommand(serve, botCmd(), loadCmd(), userCmd(), tokenCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `cbt --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the exam HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "cbt.db", "SQLite database path")
	f.StringSliceP("exams", "e", nil, "Paths to exam JSON files to load on start (repeatable)")
	f.String("auth-secret", "", "HS256 secret shared with the identity service (or set CBT_AUTH_SECRET)")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func botCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Start the conversational exam client webhook",
		RunE:  runBot,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":5005", "HTTP listen address for the webhook")
	f.String("api-url", "http://localhost:8080/api", "Base URL of the exam API")
	f.String("api-token", "", "Bearer token for the exam API (or set CBT_API_TOKEN)")
	f.Int64("exam-id", 1, "Exam to run conversations against")
	f.Duration("api-timeout", 10*time.Second, "Timeout for exam API calls")
	f.StringP("lang", "l", "en", "Bot language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [files...]",
		Short: "Load exams with questions from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLoad,
	}
	f := cmd.Flags()
	f.String("db", "cbt.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE:  runUserAdd,
	}
	f := add.Flags()
	f.String("db", "cbt.db", "SQLite database path")
	f.String("username", "", "Username (required)")
	f.String("display-name", "", "Display name")
	f.String("role", string(model.UserRoleStudent), "Role (student, teacher, admin)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	_ = add.MarkFlagRequired("username")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE:  runUserList,
	}
	lf := list.Flags()
	lf.String("db", "cbt.db", "SQLite database path")
	lf.String("log-level", "info", "Log level (debug, info, warn, error)")
	lf.String("log-format", "text", "Log format (text, json)")

	cmd.AddCommand(add, list)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dev bearer token for a user",
		RunE:  runToken,
	}
	f := cmd.Flags()
	f.String("auth-secret", "", "HS256 secret shared with the identity service (or set CBT_AUTH_SECRET)")
	f.String("user", "", "Username to mint the token for (required)")
	f.Duration("ttl", 8*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export finished exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "cbt.db", "SQLite database path")
	f.Int64("exam-id", 0, "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CBT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cbt")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cbt")
	v.AddConfigPath("/etc/cbt")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	secret := v.GetString("auth-secret")
	if secret == "" {
		return fmt.Errorf("auth-secret is required (flag --auth-secret or CBT_AUTH_SECRET)")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if files := v.GetStringSlice("exams"); len(files) > 0 {
		if err := loadExams(db, files); err != nil {
			return fmt.Errorf("load exams: %w", err)
		}
	}

	eng := engine.New(db)
	h := handler.New(db, eng)
	authSvc := auth.NewService(secret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/api", func(api chi.Router) {
		api.Use(authSvc.Middleware(db))
		h.Routes(api)
	})

	addr := v.GetString("addr")
	slog.Info("starting exam API", "addr", addr, "db", v.GetString("db"))
	return http.ListenAndServe(addr, r)
}

func runBot(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	token := v.GetString("api-token")
	if token == "" {
		return fmt.Errorf("api-token is required (flag --api-token or CBT_API_TOKEN)")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	client := bot.NewClient(v.GetString("api-url"), token, v.GetDuration("api-timeout"))
	b := bot.New(client, v.GetInt64("exam-id"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	b.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting exam bot",
		"addr", addr,
		"api_url", v.GetString("api-url"),
		"exam_id", v.GetInt64("exam-id"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runLoad(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return loadExams(db, args)
}

// loadExams imports exam files, skipping files whose content hash is already
// recorded and exams that already exist (exams are immutable after creation).
func loadExams(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		prev, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check %s: %w", path, err)
		}
		if prev == hash {
			slog.Info("exam file unchanged, skipping", "path", path)
			continue
		}

		var imports []model.ExamImport
		if err := json.Unmarshal(data, &imports); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, imp := range imports {
			if err := importExam(db, imp); err != nil {
				return fmt.Errorf("import exam %q from %s: %w", imp.Name, path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record hash for %s: %w", path, err)
		}
	}
	return nil
}

func importExam(db *store.Store, imp model.ExamImport) error {
	if imp.Name == "" {
		return fmt.Errorf("exam name is required")
	}
	existing, err := db.GetExamByName(imp.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Warn("exam already exists, skipping", "name", imp.Name, "id", existing.ID)
		return nil
	}

	examID, err := db.CreateExam(model.Exam{Name: imp.Name, DurationMin: imp.DurationMin})
	if err != nil {
		return err
	}
	for i, qi := range imp.Questions {
		if qi.CorrectOption < 1 || qi.CorrectOption > 4 {
			return fmt.Errorf("question %d: correct_option must be 1..4", i+1)
		}
		difficulty := qi.Difficulty
		if !difficulty.Valid() {
			difficulty = model.DifficultyMedium
		}
		_, err := db.InsertQuestion(model.Question{
			ExamID:        examID,
			Text:          qi.Text,
			Option1:       qi.Option1,
			Option2:       qi.Option2,
			Option3:       qi.Option3,
			Option4:       qi.Option4,
			CorrectOption: qi.CorrectOption,
			Difficulty:    difficulty,
			Topic:         qi.Topic,
		})
		if err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	slog.Info("imported exam", "name", imp.Name, "id", examID, "questions", len(imp.Questions))
	return nil
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	role := model.UserRole(v.GetString("role"))
	switch role {
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		return fmt.Errorf("invalid role %q", role)
	}

	id, err := db.CreateUser(model.User{
		Username:    v.GetString("username"),
		DisplayName: v.GetString("display-name"),
		Role:        role,
		Active:      true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("created user %d (%s)\n", id, v.GetString("username"))
	return nil
}

func runUserList(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	users, err := db.ListUsers()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		active := "active"
		if !u.Active {
			active = "inactive"
		}
		fmt.Printf("%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.DisplayName, u.Role, active)
	}
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	secret := v.GetString("auth-secret")
	if secret == "" {
		return fmt.Errorf("auth-secret is required (flag --auth-secret or CBT_AUTH_SECRET)")
	}

	token, err := auth.NewService(secret).IssueToken(v.GetString("user"), v.GetDuration("ttl"))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportExamResults(v.GetInt64("exam-id"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	out := os.Stdout
	if path := v.GetString("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
