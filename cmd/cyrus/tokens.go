package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/pkg/api"
	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/tracker"
)

// newCheckTokensCmd probes every distinct tracker token in the configuration
// and reports which are still accepted.
func newCheckTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-tokens",
		Short: "Verify the tracker tokens of all configured repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Initialize(ctx, cyrusHome())
			if err != nil {
				return err
			}
			factory := tracker.NewFactory(cfg.ProxyURL)

			// Repositories commonly share one workspace token; probe each
			// distinct token once.
			byToken := make(map[string][]string)
			var order []string
			for _, repo := range cfg.Repositories {
				if _, seen := byToken[repo.TrackerToken]; !seen {
					order = append(order, repo.TrackerToken)
				}
				byToken[repo.TrackerToken] = append(byToken[repo.TrackerToken], repo.Name)
			}

			for _, token := range order {
				probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				viewer, err := factory(token).Viewer(probeCtx)
				cancel()
				if err != nil {
					fmt.Printf("INVALID  %v  (used by: %v)\n", err, byToken[token])
					continue
				}
				fmt.Printf("VALID    %s <%s>  (used by: %v)\n", viewer.Name, viewer.Email, byToken[token])
			}
			return nil
		},
	}
}

// newRefreshTokenCmd runs a browser OAuth flow and replaces a repository's
// token, including every other repository sharing the same token.
func newRefreshTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-token",
		Short: "Re-authorize a tracker workspace and update its token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Initialize(ctx, cyrusHome())
			if err != nil {
				return err
			}
			if len(cfg.Repositories) == 0 {
				return fmt.Errorf("no repositories configured; run add-repository first")
			}
			if cfg.ProxyURL == "" {
				return fmt.Errorf("proxyUrl is not configured; the OAuth flow goes through the proxy")
			}

			names := make([]string, len(cfg.Repositories))
			for i, r := range cfg.Repositories {
				names[i] = fmt.Sprintf("%s (%s)", r.Name, r.ID)
			}
			sel := promptui.Select{Label: "Repository to re-authorize", Items: names}
			idx, _, err := sel.Run()
			if err != nil {
				return err
			}
			target := &cfg.Repositories[idx]
			oldToken := target.TrackerToken

			port := cfg.ServerPort
			if port == 0 {
				port = config.DefaultServerPort
			}
			server := api.NewServer(api.Config{Port: port}, discardSink{})
			go func() { _ = server.Start(ctx) }()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout())
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			flowID := server.RegisterOAuthFlow()
			authorize := fmt.Sprintf("%s/oauth/authorize?callback=%s&state=%s",
				cfg.ProxyURL,
				url.QueryEscape(fmt.Sprintf("http://localhost:%d/callback", port)),
				flowID)
			fmt.Println("Open this URL in your browser to authorize:")
			fmt.Println("  " + authorize)

			result, err := server.WaitOAuth(ctx, flowID)
			if err != nil {
				return err
			}

			// Replace the token everywhere it is shared.
			updated := 0
			for i := range cfg.Repositories {
				if cfg.Repositories[i].TrackerToken == oldToken {
					cfg.Repositories[i].TrackerToken = result.Token
					if result.WorkspaceID != "" {
						cfg.Repositories[i].TrackerWorkspaceID = result.WorkspaceID
					}
					updated++
				}
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("Token refreshed for workspace %q; %d repositories updated.\n", result.WorkspaceName, updated)
			return nil
		},
	}
}

// discardSink satisfies the server's sink for CLI flows that only use the
// OAuth callback.
type discardSink struct{}

func (discardSink) EnqueueWebhook(*tracker.Event) error { return nil }
