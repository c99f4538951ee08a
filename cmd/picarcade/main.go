package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/server"
	"github.com/picarcade/picarcade/server/auth"
	"github.com/picarcade/picarcade/store"
	"github.com/picarcade/picarcade/store/db"
)

var version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "picarcade",
		Short: "Prompt-driven image generation with @tag references.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			setupLogger(viper.GetString("mode"))
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile := loadProfile()
			if err := instanceProfile.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			dbDriver, err := db.NewDBDriver(instanceProfile)
			if err != nil {
				slog.Error("failed to create db driver", "error", err)
				return err
			}
			storeInstance := store.New(dbDriver, instanceProfile)
			if err := storeInstance.Migrate(ctx); err != nil {
				slog.Error("failed to migrate", "error", err)
				return err
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				slog.Error("failed to create server", "error", err)
				return err
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				return err
			}
			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			<-ctx.Done()
			return nil
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for local testing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return err
			}
			token, err := auth.NewAuthenticator(viper.GetString("jwt-secret")).GenerateAccessToken(args[0], time.Now().Add(ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

func init() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)
	viper.SetDefault("reasoning-backend", "replicate")
	viper.SetDefault("poll-attempts", profile.DefaultPollAttempts)
	viper.SetDefault("poll-interval", profile.DefaultPollInterval)
	viper.SetDefault("history-limit", profile.DefaultHistoryLimit)
	viper.SetDefault("resize-max", profile.DefaultResizeMax)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver: sqlite, mysql or postgres")
	flags.String("dsn", "", "database source name")
	flags.String("replicate-token", "", "Replicate API token")
	flags.String("replicate-url", profile.DefaultReplicateURL, "Replicate API base URL")
	flags.String("reasoning-backend", "replicate", `intent reasoning service: "replicate" or "openrouter"`)
	flags.String("reasoning-model", profile.DefaultReasoningModel, "model used for intent reasoning")
	flags.String("openrouter-key", "", "OpenRouter API key")
	flags.String("openrouter-url", profile.DefaultOpenRouterURL, "OpenRouter API base URL")
	flags.String("jwt-secret", "", "secret that signs access tokens")
	flags.Int("poll-attempts", profile.DefaultPollAttempts, "prediction poll attempts before giving up")
	flags.Duration("poll-interval", profile.DefaultPollInterval, "delay between prediction polls")
	flags.Int("history-limit", profile.DefaultHistoryLimit, "generations kept per user")
	flags.String("s3-bucket", "", "bucket for uploads and mirrored outputs")
	flags.String("s3-region", "", "bucket region")
	flags.String("s3-endpoint", "", "S3-compatible endpoint, e.g. for MinIO or R2")
	flags.String("s3-access-key", "", "S3 access key id")
	flags.String("s3-secret-key", "", "S3 secret access key")
	flags.String("s3-url-prefix", "", "public URL prefix of the bucket")
	flags.Int("resize-max", profile.DefaultResizeMax, "longest side of stored uploads, in pixels")
	flags.String("embedding-url", "", "OpenAI-compatible embeddings endpoint for reference search")
	flags.String("embedding-key", "", "embeddings API key")
	flags.String("embedding-model", "text-embedding-3-small", "embeddings model")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)

	viper.SetEnvPrefix("picarcade")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func loadProfile() *profile.Profile {
	return &profile.Profile{
		Mode:             viper.GetString("mode"),
		Addr:             viper.GetString("addr"),
		Port:             viper.GetInt("port"),
		Data:             viper.GetString("data"),
		Driver:           viper.GetString("driver"),
		DSN:              viper.GetString("dsn"),
		ReplicateToken:   viper.GetString("replicate-token"),
		ReplicateURL:     viper.GetString("replicate-url"),
		ReasoningBackend: viper.GetString("reasoning-backend"),
		ReasoningModel:   viper.GetString("reasoning-model"),
		OpenRouterAPIKey: viper.GetString("openrouter-key"),
		OpenRouterURL:    viper.GetString("openrouter-url"),
		JWTSecret:        viper.GetString("jwt-secret"),
		PollAttempts:     viper.GetInt("poll-attempts"),
		PollInterval:     viper.GetDuration("poll-interval"),
		HistoryLimit:     viper.GetInt("history-limit"),
		S3Bucket:         viper.GetString("s3-bucket"),
		S3Region:         viper.GetString("s3-region"),
		S3Endpoint:       viper.GetString("s3-endpoint"),
		S3AccessKey:      viper.GetString("s3-access-key"),
		S3SecretKey:      viper.GetString("s3-secret-key"),
		S3URLPrefix:      viper.GetString("s3-url-prefix"),
		ResizeMax:        viper.GetInt("resize-max"),
		EmbeddingURL:     viper.GetString("embedding-url"),
		EmbeddingKey:     viper.GetString("embedding-key"),
		EmbeddingModel:   viper.GetString("embedding-model"),
		Version:          version,
	}
}

func setupLogger(mode string) {
	var handler slog.Handler
	if mode == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("PicArcade %s started successfully!\n", profile.Version)
	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if profile.Addr == "" {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("Access your instance at: http://localhost:%d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
