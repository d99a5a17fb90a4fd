package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/porthorian/weappauth"
	"github.com/porthorian/weappauth/pkg/platform"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type clientFlags struct {
	LoginURL string
	Profile  string
	Backend  string
	BoltPath string

	RedisAddress   string
	RedisPassword  string
	RedisDatabase  int
	RedisNamespace string

	PostgresDSN string
	AutoMigrate bool

	Code          string
	EncryptedData string
	IV            string
	UserInfo      string

	Timeout time.Duration
}

func (f *clientFlags) bind(flags *pflag.FlagSet) {
	flags.StringVar(&f.LoginURL, "login-url", "", "Login endpoint. Can also be set via WEAPPAUTH_LOGIN_URL.")
	flags.StringVar(&f.Profile, "profile", "", "Session profile key. Can also be set via WEAPPAUTH_PROFILE.")
	flags.StringVar(&f.Backend, "session-backend", "", "Session backend: memory, bbolt, redis or postgres. Can also be set via WEAPPAUTH_SESSION_BACKEND. Defaults to bbolt.")
	flags.StringVar(&f.BoltPath, "bolt-path", "", "bbolt session file. Can also be set via WEAPPAUTH_BOLT_PATH. Defaults to weappauth.db.")
	flags.StringVar(&f.RedisAddress, "redis-address", "", "Redis address. Can also be set via WEAPPAUTH_REDIS_ADDRESS.")
	flags.StringVar(&f.RedisPassword, "redis-password", "", "Redis password. Can also be set via WEAPPAUTH_REDIS_PASSWORD.")
	flags.IntVar(&f.RedisDatabase, "redis-db", 0, "Redis database number.")
	flags.StringVar(&f.RedisNamespace, "redis-namespace", "", "Redis key namespace.")
	flags.StringVar(&f.PostgresDSN, "postgres-dsn", "", "Postgres DSN. Can also be set via WEAPPAUTH_POSTGRES_DSN.")
	flags.BoolVar(&f.AutoMigrate, "auto-migrate", false, "Apply the session schema migrations before use.")
	flags.StringVar(&f.Code, "code", "", "Login code presented to the server. Random when empty.")
	flags.StringVar(&f.EncryptedData, "encrypted-data", "cli", "Encrypted user data presented to the server.")
	flags.StringVar(&f.IV, "iv", "cli", "Initialization vector presented to the server.")
	flags.StringVar(&f.UserInfo, "user-info", "{}", "User info JSON object kept with the session.")
	flags.DurationVar(&f.Timeout, "timeout", 10*time.Second, "HTTP timeout.")
}

func (f *clientFlags) config() (weappauth.Config, error) {
	userInfo := map[string]any{}
	if raw := strings.TrimSpace(f.UserInfo); raw != "" {
		if err := json.Unmarshal([]byte(raw), &userInfo); err != nil {
			return weappauth.Config{}, fmt.Errorf("parse --user-info: %w", err)
		}
	}

	backend := stringDefault(f.Backend, "WEAPPAUTH_SESSION_BACKEND")
	if backend == "" {
		backend = string(weappauth.SessionBackendBolt)
	}
	boltPath := stringDefault(f.BoltPath, "WEAPPAUTH_BOLT_PATH")
	if boltPath == "" {
		boltPath = "weappauth.db"
	}

	return weappauth.Config{
		LoginURL: stringDefault(f.LoginURL, "WEAPPAUTH_LOGIN_URL"),
		Platform: &platform.Static{
			Code:          f.Code,
			EncryptedData: f.EncryptedData,
			IV:            f.IV,
			Info:          userInfo,
		},
		Logger: newLogger("weappauth"),
		Runtime: weappauth.RuntimeConfig{
			HTTP: weappauth.HTTPConfig{
				Timeout:   f.Timeout,
				UserAgent: "weappauth-cli/" + BuildVersion,
			},
			Session: weappauth.SessionConfig{
				Backend: weappauth.SessionBackend(strings.ToLower(backend)),
				Profile: stringDefault(f.Profile, "WEAPPAUTH_PROFILE"),
				Bolt:    weappauth.BoltConfig{Path: boltPath, Timeout: time.Second},
				Redis: weappauth.RedisConfig{
					Address:   stringDefault(f.RedisAddress, "WEAPPAUTH_REDIS_ADDRESS"),
					Password:  stringDefault(f.RedisPassword, "WEAPPAUTH_REDIS_PASSWORD"),
					Database:  f.RedisDatabase,
					Namespace: f.RedisNamespace,
				},
				Postgres: weappauth.PostgresConfig{
					DSN:         stringDefault(f.PostgresDSN, "WEAPPAUTH_POSTGRES_DSN"),
					AutoMigrate: f.AutoMigrate,
				},
			},
		},
	}, nil
}

func (f *clientFlags) client() (*weappauth.Client, error) {
	config, err := f.config()
	if err != nil {
		return nil, err
	}
	return weappauth.New(config)
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() {
	rootCmd.AddCommand(newLoginCommand(), newRequestCommand(), newSessionCommand())
}

func newLoginCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			defer client.Close()

			userInfo, err := client.Login(cmd.Context(), weappauth.LoginOptions{})
			if err != nil {
				return err
			}
			return printJSON(cmd, userInfo)
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}

func newRequestCommand() *cobra.Command {
	flags := &clientFlags{}
	var (
		method       string
		data         string
		headers      []string
		requireLogin bool
	)

	cmd := &cobra.Command{
		Use:   "request <url>",
		Short: "Send a request carrying the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header := map[string]string{}
			for _, raw := range headers {
				name, value, ok := strings.Cut(raw, ":")
				if !ok || strings.TrimSpace(name) == "" {
					return fmt.Errorf("invalid --header %q: expected name:value", raw)
				}
				header[strings.TrimSpace(name)] = strings.TrimSpace(value)
			}

			var payload any
			if strings.TrimSpace(data) != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}

			client, err := flags.client()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Request(cmd.Context(), weappauth.RequestOptions{
				URL:          args[0],
				Method:       method,
				Header:       header,
				Data:         payload,
				RequireLogin: requireLogin,
			})
			if err != nil {
				return err
			}

			cmd.PrintErrf("HTTP %d\n", resp.StatusCode)
			_, err = cmd.OutOrStdout().Write(resp.Body)
			return err
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method.")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request payload.")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra header as name:value. Repeatable.")
	cmd.Flags().BoolVar(&requireLogin, "require-login", false, "Log in before sending the request.")
	return cmd
}

func newSessionCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	flags.bind(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			defer client.Close()

			current, ok := client.Session(cmd.Context())
			if !ok {
				cmd.Println("No session stored.")
				return nil
			}
			return printJSON(cmd, map[string]any{
				"skey":       current.Token,
				"userinfo":   current.UserInfo,
				"created_at": current.CreatedAt,
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			defer client.Close()

			client.ClearSession(cmd.Context())
			cmd.Println("Session cleared.")
			return nil
		},
	})

	return cmd
}
