package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muzaffar640/vidread-backend/internal/client"
	"github.com/muzaffar640/vidread-backend/internal/middleware"
)

var (
	serverURL string
	token     string
	userID    string
)

var rootCmd = &cobra.Command{
	Use:   "vidreadctl",
	Short: "Turn YouTube videos into structured books",
	Long: `vidreadctl talks to a running vidread server, or runs the pipeline
poller directly against the configured store.

Examples:
  vidreadctl submit https://youtu.be/dQw4w9WgXcQ
  vidreadctl status <job-id>
  vidreadctl books --theme concurrency
  vidreadctl poll --once`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("VIDREAD_SERVER", "http://localhost:8080"), "Server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("VIDREAD_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringVar(&userID, "user", envOr("VIDREAD_USER", "cli"), "Subject for a token minted from JWT_SECRET when --token is empty")

	rootCmd.AddCommand(submitCmd, statusCmd, advanceCmd, cancelCmd, bookCmd, deleteBookCmd, booksCmd, pollCmd, tokenCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// apiClient builds a client, minting a short lived token from JWT_SECRET when
// no token was given.
func apiClient() (*client.Client, error) {
	tok := token
	if tok == "" {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("either --token or JWT_SECRET is required")
		}
		var err error
		tok, err = middleware.NewJWTAuth(secret).GenerateToken(userID, time.Hour)
		if err != nil {
			return nil, err
		}
	}
	return client.New(serverURL, tok), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
